package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepay/wallet-ledger/internal/model"
)

func appendEntry(t *testing.T, svc *WalletService, walletID uint64, entryType string, amount int64, at time.Time) {
	t.Helper()
	ctx := context.Background()
	err := svc.repo.AppendTransaction(ctx, svc.repo.DB(ctx), &model.Transaction{
		WalletID:  walletID,
		Type:      entryType,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestHistory_DateFilterCoversWholeDay(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 0)

	day := func(h, m, s int) time.Time {
		return time.Date(2023, 1, 10, h, m, s, 0, time.UTC)
	}
	appendEntry(t, svc, w.ID, model.TypeDeposit, 1, time.Date(2023, 1, 9, 23, 59, 0, 0, time.UTC))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 2, day(0, 0, 0))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 3, day(12, 30, 0))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 4, day(23, 59, 59))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 5, time.Date(2023, 1, 11, 0, 0, 0, 0, time.UTC))

	hist, err := svc.GetHistory(ctx, w.ID, HistoryFilter{Date: "2023-01-10"})
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "2", hist[0].Amount.StringFixed(0))
	assert.Equal(t, "3", hist[1].Amount.StringFixed(0))
	assert.Equal(t, "4", hist[2].Amount.StringFixed(0))
}

func TestHistory_StartEndRange(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 0)

	appendEntry(t, svc, w.ID, model.TypeDeposit, 1, time.Date(2023, 1, 5, 10, 0, 0, 0, time.UTC))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 2, time.Date(2023, 2, 5, 10, 0, 0, 0, time.UTC))
	appendEntry(t, svc, w.ID, model.TypeDeposit, 3, time.Date(2023, 3, 5, 10, 0, 0, 0, time.UTC))

	hist, err := svc.GetHistory(ctx, w.ID, HistoryFilter{Start: "2023-02-01", End: "2023-02-28"})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "2", hist[0].Amount.StringFixed(0))

	// open-ended: start only
	hist, err = svc.GetHistory(ctx, w.ID, HistoryFilter{Start: "2023-02-01"})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestHistory_InvertedRange(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 0)

	_, err := svc.GetHistory(ctx, w.ID, HistoryFilter{Start: "2023-02-01", End: "2023-01-01"})
	assert.ErrorIs(t, err, ErrInvalidDateFormat)
}

func TestHistory_UnparseableDate(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 0)

	_, err := svc.GetHistory(ctx, w.ID, HistoryFilter{Start: "01/02/2023"})
	require.ErrorIs(t, err, ErrInvalidDateFormat)
	assert.Contains(t, err.Error(), "01/02/2023")
}

func TestHistory_WalletNotFound(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.GetHistory(ctx, 777, HistoryFilter{})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestHistory_RepeatedCallsIdentical(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 0)
	at := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, svc, w.ID, model.TypeDeposit, 1, at)
	appendEntry(t, svc, w.ID, model.TypeDeposit, 2, at) // same instant

	first, err := svc.GetHistory(ctx, w.ID, HistoryFilter{})
	require.NoError(t, err)
	second, err := svc.GetHistory(ctx, w.ID, HistoryFilter{})
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	// ties broken by insertion order
	assert.Less(t, first[0].ID, first[1].ID)
}

func TestResolveRange_FormatLadder(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		asEnd bool
		want  time.Time
	}{
		{"rfc3339", "2023-01-10T14:30:00Z", false, time.Date(2023, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"date time", "2023-01-10 14:30:00", false, time.Date(2023, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"date only start", "2023-01-10", false, time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"date only end", "2023-01-10", true, time.Date(2023, 1, 10, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBound(tc.in, tc.asEnd)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %v got %v", tc.want, got)
		})
	}

	_, err := parseBound("not-a-date", false)
	assert.ErrorIs(t, err, ErrInvalidDateFormat)
}
