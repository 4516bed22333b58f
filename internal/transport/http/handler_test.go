package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/service"
)

// stubOps returns canned results so the handler mapping can be tested
// without a database.
type stubOps struct {
	depositErr  error
	transferErr error
	historyErr  error
}

func (s *stubOps) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	return &model.Wallet{ID: 1, OwnerID: ownerID}, nil
}

func (s *stubOps) Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	if s.depositErr != nil {
		return decimal.Zero, s.depositErr
	}
	return amount, nil
}

func (s *stubOps) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	return amount, nil
}

func (s *stubOps) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*service.TransferResult, error) {
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	return &service.TransferResult{FromBalance: decimal.Zero, ToBalance: amount}, nil
}

func (s *stubOps) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	return decimal.NewFromInt(42), nil
}

func (s *stubOps) GetHistory(ctx context.Context, walletID uint64, f service.HistoryFilter) ([]model.Transaction, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return nil, nil
}

func newTestRouter(ops service.Operations) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHandlers(r, ops)
	return r
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", service.ErrWalletNotFound, http.StatusNotFound},
		{"insufficient", service.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"concurrency", service.ErrConcurrencyExhausted, http.StatusConflict},
		{"invalid amount", service.ErrInvalidAmount, http.StatusBadRequest},
		{"same wallet", service.ErrSameWalletTransfer, http.StatusBadRequest},
		{"compensation", fmt.Errorf("boom: %w", service.ErrCompensationFailed), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubOps{transferErr: tc.err})
			body := bytes.NewBufferString(`{"to_id":2,"amount":"10"}`)
			req := httptest.NewRequest(http.MethodPost, "/v1/wallets/1/transfer", body)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestDepositHandler(t *testing.T) {
	r := newTestRouter(&stubOps{})

	body := bytes.NewBufferString(`{"amount":"25.50","idempotency_key":"k1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets/1/deposit", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// malformed amount
	body = bytes.NewBufferString(`{"amount":"abc"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/wallets/1/deposit", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed wallet id
	body = bytes.NewBufferString(`{"amount":"10"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/wallets/zzz/deposit", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryHandlerEmptyBody(t *testing.T) {
	// an empty history is an empty array, never null
	r := newTestRouter(&stubOps{})
	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/1/history", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestHistoryHandlerInvalidDate(t *testing.T) {
	r := newTestRouter(&stubOps{historyErr: fmt.Errorf("%q: %w", "junk", service.ErrInvalidDateFormat)})
	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/1/history?start=junk", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
