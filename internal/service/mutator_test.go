package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/logger"
	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/repo"
)

// conflictingRepo reports a version conflict for the first N balance
// updates, then delegates. Simulates concurrent writers hitting the CAS.
type conflictingRepo struct {
	repo.RepositoryInterface
	conflicts int32
}

func (c *conflictingRepo) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	if atomic.AddInt32(&c.conflicts, -1) >= 0 {
		return repo.ErrVersionConflict
	}
	return c.RepositoryInterface.UpdateWalletBalance(ctx, tx, walletID, newBalance, oldVersion)
}

func seedWallet(t *testing.T, svc *WalletService, ownerID uint64, balance int64) *model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := svc.CreateWallet(ctx, ownerID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = svc.Deposit(ctx, w.ID, decimal.NewFromInt(balance), "")
		require.NoError(t, err)
	}
	return w
}

func TestBalanceMutator_WithdrawHappyPath(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 100)

	res, err := svc.Mutator().ApplyDelta(ctx, w.ID, decimal.NewFromInt(40), DirectionDebit, "")
	require.NoError(t, err)
	assert.Equal(t, "60", res.Wallet.Balance.StringFixed(0))
	require.NotNil(t, res.Entry)
	assert.Equal(t, model.TypeWithdraw, res.Entry.Type)
	assert.Equal(t, "40", res.Entry.Amount.StringFixed(0))

	hist, err := svc.GetHistory(ctx, w.ID, HistoryFilter{})
	require.NoError(t, err)
	withdrawals := 0
	for _, tx := range hist {
		if tx.Type == model.TypeWithdraw {
			withdrawals++
		}
	}
	assert.Equal(t, 1, withdrawals)
}

func TestBalanceMutator_InsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 30)

	_, err := svc.Mutator().ApplyDelta(ctx, w.ID, decimal.NewFromInt(50), DirectionDebit, "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	got, err := svc.repo.GetWallet(ctx, svc.repo.DB(ctx), w.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", got.Balance.StringFixed(0))

	hist, err := svc.GetHistory(ctx, w.ID, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, hist, 1) // only the seed deposit
}

func TestBalanceMutator_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t)
	w := seedWallet(t, svc, 1, 10)

	_, err := svc.Mutator().ApplyDelta(ctx, w.ID, decimal.Zero, DirectionCredit, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Mutator().ApplyDelta(ctx, w.ID, decimal.NewFromInt(-5), DirectionCredit, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Mutator().ApplyDelta(ctx, 4242, decimal.NewFromInt(5), DirectionCredit, "")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestBalanceMutator_RetryAppliesExactlyOnce(t *testing.T) {
	base, _ := newTestRepo(t)
	log, err := logger.NewLogger()
	require.NoError(t, err)
	flaky := &conflictingRepo{RepositoryInterface: base, conflicts: 2}
	svc := NewWalletService(flaky, log, 3)
	ctx := context.Background()

	w, err := svc.CreateWallet(ctx, 1)
	require.NoError(t, err)

	// two conflicts, third attempt lands: delta applied once
	bal, err := svc.Deposit(ctx, w.ID, decimal.NewFromInt(25), "")
	require.NoError(t, err)
	assert.Equal(t, "25", bal.StringFixed(0))

	hist, err := svc.GetHistory(ctx, w.ID, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestBalanceMutator_RetryBudgetExhausted(t *testing.T) {
	base, _ := newTestRepo(t)
	log, err := logger.NewLogger()
	require.NoError(t, err)
	flaky := &conflictingRepo{RepositoryInterface: base, conflicts: 99}
	svc := NewWalletService(flaky, log, 3)
	ctx := context.Background()

	w, err := svc.CreateWallet(ctx, 1)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, w.ID, decimal.NewFromInt(25), "")
	assert.ErrorIs(t, err, ErrConcurrencyExhausted)

	// nothing committed by the failed attempts
	got, err := base.GetWallet(ctx, base.DB(ctx), w.ID)
	require.NoError(t, err)
	assert.Equal(t, "0", got.Balance.StringFixed(0))
	hist, err := base.TransactionsInRange(ctx, w.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, hist, 0)
}
