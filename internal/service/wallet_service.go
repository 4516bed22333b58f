package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/repo"
)

// Operations is the public surface of the wallet core. Decorators wrap it;
// the transport layer talks to whatever the outermost wrapper is.
type Operations interface {
	CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error)
	Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error)
	GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error)
	GetHistory(ctx context.Context, walletID uint64, f HistoryFilter) ([]model.Transaction, error)
}

// WalletService glues the mutator, the orchestrator and the stores.
type WalletService struct {
	repo      repo.RepositoryInterface
	mutator   *BalanceMutator
	transfers *TransferOrchestrator
	log       *zap.SugaredLogger
}

var _ Operations = (*WalletService)(nil)

// NewWalletService returns WalletService. maxRetries bounds the optimistic
// retry loop; <=0 picks the default.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, maxRetries int) *WalletService {
	m := NewBalanceMutator(r, logger, maxRetries)
	return &WalletService{
		repo:      r,
		mutator:   m,
		transfers: NewTransferOrchestrator(r, m, logger),
		log:       logger,
	}
}

// Mutator exposes the balance mutator for callers composing their own
// multi-step operations.
func (s *WalletService) Mutator() *BalanceMutator { return s.mutator }

// CreateWallet provisions an empty wallet for the owner.
func (s *WalletService) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	w := &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero}
	if err := s.repo.CreateWallet(ctx, s.repo.DB(ctx), w); err != nil {
		return nil, err
	}
	s.log.Infow("wallet created", "wallet_id", w.ID, "owner_id", ownerID)
	return w, nil
}

// Deposit adds money and appends one DEPOSIT row atomically with it.
func (s *WalletService) Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	res, err := s.mutator.Apply(ctx, ApplyRequest{
		WalletID:       walletID,
		Amount:         amount,
		Direction:      DirectionCredit,
		EntryType:      model.TypeDeposit,
		IdempotencyKey: idemKey,
		InTx:           s.outboxHook(ctx, walletID, model.EventDeposit, amount),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.Wallet.Balance, nil
}

// Withdraw subtracts money; fails without side effects when funds are short.
func (s *WalletService) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	res, err := s.mutator.Apply(ctx, ApplyRequest{
		WalletID:       walletID,
		Amount:         amount,
		Direction:      DirectionDebit,
		EntryType:      model.TypeWithdraw,
		IdempotencyKey: idemKey,
		InTx:           s.outboxHook(ctx, walletID, model.EventWithdraw, amount),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.Wallet.Balance, nil
}

// Transfer moves money between wallets via the saga orchestrator.
func (s *WalletService) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error) {
	return s.transfers.Transfer(ctx, fromID, toID, amount, idemKey)
}

// GetBalance returns the current wallet balance, read-through cached.
func (s *WalletService) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	if bal, err := s.repo.GetCachedBalance(ctx, walletID); err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), walletID)
	if err != nil {
		if isRecordNotFound(err) {
			return decimal.Zero, fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
		}
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, walletID, w.Balance); err != nil {
		s.log.Warnw("balance cache write failed", "wallet_id", walletID, "err", err)
	}
	return w.Balance, nil
}

func (s *WalletService) outboxHook(ctx context.Context, walletID uint64, eventType string, amount decimal.Decimal) func(tx *gorm.DB, before *model.Wallet, newBal decimal.Decimal, now time.Time) error {
	return func(tx *gorm.DB, _ *model.Wallet, newBal decimal.Decimal, _ time.Time) error {
		payload, _ := json.Marshal(map[string]interface{}{
			"wallet_id": walletID, "amount": amount, "balance": newBal,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: walletID,
			EventType: eventType, Payload: string(payload),
		})
	}
}
