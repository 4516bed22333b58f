package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/repo"
)

// Direction selects whether a delta is added to or subtracted from the
// balance.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

const defaultMaxRetries = 3

// ApplyRequest describes one balance mutation. EntryType empty means no
// ledger row is written by the mutator itself (transfer legs append their
// rows through InTx instead).
type ApplyRequest struct {
	WalletID       uint64
	Amount         decimal.Decimal
	Direction      Direction
	EntryType      string
	RelatedUserID  *uint64
	IdempotencyKey string
	// Timestamp stamps the ledger row; zero means the commit instant.
	Timestamp time.Time
	// InTx runs inside the same store transaction, after the balance
	// update, with the pre-mutation wallet snapshot and the new balance.
	InTx func(tx *gorm.DB, before *model.Wallet, newBalance decimal.Decimal, now time.Time) error
}

// ApplyResult is the committed outcome of one mutation.
type ApplyResult struct {
	Wallet   *model.Wallet      // post-apply snapshot
	Entry    *model.Transaction // the appended row, or the prior row on replay
	Replayed bool
}

// BalanceMutator applies signed deltas to wallet balances under bounded
// optimistic retry. The balance write and any ledger rows commit in one
// store transaction per attempt; a version conflict rolls the attempt back
// and retries from a fresh read.
type BalanceMutator struct {
	repo       repo.RepositoryInterface
	log        *zap.SugaredLogger
	maxRetries int
}

func NewBalanceMutator(r repo.RepositoryInterface, logger *zap.SugaredLogger, maxRetries int) *BalanceMutator {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &BalanceMutator{repo: r, log: logger, maxRetries: maxRetries}
}

// ApplyDelta applies a strictly positive amount as a credit or debit and
// appends the matching DEPOSIT or WITHDRAW row atomically with it.
func (m *BalanceMutator) ApplyDelta(ctx context.Context, walletID uint64, amount decimal.Decimal, dir Direction, idemKey string) (*ApplyResult, error) {
	entryType := model.TypeDeposit
	if dir == DirectionDebit {
		entryType = model.TypeWithdraw
	}
	return m.Apply(ctx, ApplyRequest{
		WalletID:       walletID,
		Amount:         amount,
		Direction:      dir,
		EntryType:      entryType,
		IdempotencyKey: idemKey,
	})
}

// Apply runs the optimistic-retry protocol for one mutation.
func (m *BalanceMutator) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		res, err := m.attempt(ctx, req)
		if err == nil {
			return res, nil
		}
		// A duplicated key means a racing writer committed the same
		// idempotency key first; the next attempt's lookup turns it
		// into a replay.
		if !errors.Is(err, repo.ErrVersionConflict) && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		m.log.Warnw("wallet mutation lost a write race, retrying",
			"wallet_id", req.WalletID, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 5 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("wallet %d after %d attempts: %w",
		req.WalletID, m.maxRetries, ErrConcurrencyExhausted)
}

// attempt is one transactional try: read, check, conditional write, append.
func (m *BalanceMutator) attempt(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var result ApplyResult
	err := m.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if req.EntryType != "" && req.IdempotencyKey != "" {
			prior, err := m.repo.FindByIdempotencyKey(ctx, tx, req.WalletID, req.IdempotencyKey, req.EntryType)
			if err != nil {
				return err
			}
			if prior != nil {
				w, err := m.repo.GetWallet(ctx, tx, req.WalletID)
				if err != nil {
					return err
				}
				result = ApplyResult{Wallet: w, Entry: prior, Replayed: true}
				return nil
			}
		}

		w, err := m.repo.GetWallet(ctx, tx, req.WalletID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("wallet %d: %w", req.WalletID, ErrWalletNotFound)
			}
			return err
		}

		var newBal decimal.Decimal
		switch req.Direction {
		case DirectionDebit:
			if w.Balance.LessThan(req.Amount) {
				return fmt.Errorf("wallet %d: %w", req.WalletID, ErrInsufficientFunds)
			}
			newBal = w.Balance.Sub(req.Amount)
		default:
			newBal = w.Balance.Add(req.Amount)
		}

		if err := m.repo.UpdateWalletBalance(ctx, tx, req.WalletID, newBal, w.Version); err != nil {
			return err
		}

		now := req.Timestamp
		if now.IsZero() {
			now = time.Now()
		}

		var entry *model.Transaction
		if req.EntryType != "" {
			entry = &model.Transaction{
				WalletID:      req.WalletID,
				Type:          req.EntryType,
				Amount:        req.Amount,
				RelatedUserID: req.RelatedUserID,
				CreatedAt:     now,
			}
			if req.IdempotencyKey != "" {
				key := req.IdempotencyKey
				entry.IdempotencyKey = &key
			}
			if err := m.repo.AppendTransaction(ctx, tx, entry); err != nil {
				return err
			}
		}

		if req.InTx != nil {
			if err := req.InTx(tx, w, newBal, now); err != nil {
				return err
			}
		}

		updated := *w
		updated.Balance = newBal
		updated.Version = w.Version + 1
		result = ApplyResult{Wallet: &updated, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
