package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/repo"
)

// compensationTimeout bounds the detached compensation write. The caller's
// context may already be dead by the time the credit leg fails, and the
// compensating credit must still get its chance to run.
const compensationTimeout = 10 * time.Second

// errTransferReplayed signals that a keyed transfer was found already
// committed by the credit leg's in-transaction re-check. The saga aborts,
// the debit is undone, and the recorded outcome is returned instead.
var errTransferReplayed = errors.New("transfer already applied for idempotency key")

// TransferResult is the committed outcome of a transfer.
type TransferResult struct {
	Out         *model.Transaction
	In          *model.Transaction
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
	Replayed    bool
}

// TransferOrchestrator moves money between two wallets as a two-step local
// saga: debit the source, then credit the destination. The paired
// TRANSFER_OUT/TRANSFER_IN rows commit with the credit leg, so a failed
// credit leaves no ledger rows and compensation only restores the source
// balance.
type TransferOrchestrator struct {
	repo    repo.RepositoryInterface
	mutator *BalanceMutator
	log     *zap.SugaredLogger
}

func NewTransferOrchestrator(r repo.RepositoryInterface, m *BalanceMutator, logger *zap.SugaredLogger) *TransferOrchestrator {
	return &TransferOrchestrator{repo: r, mutator: m, log: logger}
}

// Transfer validates, checks both wallets, then runs the saga.
func (o *TransferOrchestrator) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error) {
	if fromID == toID {
		return nil, ErrSameWalletTransfer
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	db := o.repo.DB(ctx)
	src, err := o.repo.GetWallet(ctx, db, fromID)
	if err != nil {
		return nil, wrapNotFound(err, "source wallet", fromID)
	}
	dst, err := o.repo.GetWallet(ctx, db, toID)
	if err != nil {
		return nil, wrapNotFound(err, "destination wallet", toID)
	}

	if idemKey != "" {
		prior, err := o.repo.FindByIdempotencyKey(ctx, db, fromID, idemKey, model.TypeTransferOut)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return o.replay(ctx, fromID, toID, idemKey)
		}
	}

	if src.Balance.LessThan(amount) {
		return nil, fmt.Errorf("source wallet %d: %w", fromID, ErrInsufficientFunds)
	}

	// One instant shared by both legs' ledger rows.
	now := time.Now()

	debit, err := o.mutator.Apply(ctx, ApplyRequest{
		WalletID:  fromID,
		Amount:    amount,
		Direction: DirectionDebit,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}

	var out, in *model.Transaction
	credit, err := o.mutator.Apply(ctx, ApplyRequest{
		WalletID:  toID,
		Amount:    amount,
		Direction: DirectionCredit,
		Timestamp: now,
		InTx: func(tx *gorm.DB, _ *model.Wallet, toBal decimal.Decimal, ts time.Time) error {
			// Re-check the key inside the committing transaction. The
			// pre-flight lookup above can go stale while a concurrent
			// request with the same key commits between it and here.
			if idemKey != "" {
				prior, err := o.repo.FindByIdempotencyKey(ctx, tx, fromID, idemKey, model.TypeTransferOut)
				if err != nil {
					return err
				}
				if prior != nil {
					return errTransferReplayed
				}
			}
			out = transferEntry(fromID, model.TypeTransferOut, amount, dst.OwnerID, idemKey, ts)
			in = transferEntry(toID, model.TypeTransferIn, amount, src.OwnerID, idemKey, ts)
			if err := o.repo.AppendTransaction(ctx, tx, out); err != nil {
				return err
			}
			if err := o.repo.AppendTransaction(ctx, tx, in); err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]interface{}{
				"from": fromID, "to": toID, "amount": amount,
				"from_balance": debit.Wallet.Balance, "to_balance": toBal,
			})
			return o.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
				Aggregate: "Wallet", AggregateID: fromID,
				EventType: model.EventTransfer, Payload: string(payload),
			})
		},
	})
	if err != nil {
		if errors.Is(err, errTransferReplayed) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return o.replayAfterLostRace(ctx, fromID, toID, amount, idemKey, err)
		}
		return nil, o.compensate(fromID, toID, amount, err)
	}

	return &TransferResult{
		Out: out, In: in,
		FromBalance: debit.Wallet.Balance,
		ToBalance:   credit.Wallet.Balance,
	}, nil
}

// replay loads the recorded outcome for an idempotency key together with the
// current balances of both wallets.
func (o *TransferOrchestrator) replay(ctx context.Context, fromID, toID uint64, idemKey string) (*TransferResult, error) {
	db := o.repo.DB(ctx)
	out, err := o.repo.FindByIdempotencyKey(ctx, db, fromID, idemKey, model.TypeTransferOut)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("no recorded transfer for idempotency key %q on wallet %d", idemKey, fromID)
	}
	in, err := o.repo.FindByIdempotencyKey(ctx, db, toID, idemKey, model.TypeTransferIn)
	if err != nil {
		return nil, err
	}
	src, err := o.repo.GetWallet(ctx, db, fromID)
	if err != nil {
		return nil, wrapNotFound(err, "source wallet", fromID)
	}
	dst, err := o.repo.GetWallet(ctx, db, toID)
	if err != nil {
		return nil, wrapNotFound(err, "destination wallet", toID)
	}
	return &TransferResult{
		Out: out, In: in,
		FromBalance: src.Balance, ToBalance: dst.Balance,
		Replayed: true,
	}, nil
}

// replayAfterLostRace handles a concurrent request committing the same key
// after our debit already landed: the debit is undone and the winner's
// recorded outcome is returned.
func (o *TransferOrchestrator) replayAfterLostRace(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string, cause error) (*TransferResult, error) {
	dctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	if cerr := o.undoDebit(dctx, fromID, amount); cerr != nil {
		o.log.Errorw("debit rollback failed after concurrent idempotent transfer won",
			"from", fromID, "to", toID, "amount", amount.String(),
			"cause", cause, "compensation_error", cerr)
		o.alertCompensationFailure(dctx, fromID, toID, amount, cause, cerr)
		return nil, fmt.Errorf("undoing debit of wallet %d failed (%v): %w", fromID, cerr, ErrCompensationFailed)
	}
	o.log.Infow("transfer already applied by concurrent request, replaying",
		"from", fromID, "to", toID, "idempotency_key", idemKey)
	return o.replay(ctx, fromID, toID, idemKey)
}

func (o *TransferOrchestrator) undoDebit(ctx context.Context, fromID uint64, amount decimal.Decimal) error {
	_, err := o.mutator.Apply(ctx, ApplyRequest{
		WalletID:  fromID,
		Amount:    amount,
		Direction: DirectionCredit,
	})
	return err
}

// compensate credits the debited amount back to the source and surfaces the
// original credit failure. A failed compensation is the one state this
// system cannot repair on its own; it is flagged distinctly.
func (o *TransferOrchestrator) compensate(fromID, toID uint64, amount decimal.Decimal, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	cerr := o.undoDebit(ctx, fromID, amount)
	if cerr == nil {
		o.log.Warnw("transfer credit failed, source compensated",
			"from", fromID, "to", toID, "amount", amount.String(), "cause", cause)
		return cause
	}

	o.log.Errorw("transfer compensation failed, source wallet debited with no matching entry",
		"from", fromID, "to", toID, "amount", amount.String(),
		"cause", cause, "compensation_error", cerr)
	o.alertCompensationFailure(ctx, fromID, toID, amount, cause, cerr)
	return fmt.Errorf("credit wallet %d failed (%v), compensating wallet %d failed (%v): %w",
		toID, cause, fromID, cerr, ErrCompensationFailed)
}

// alertCompensationFailure records a high-severity outbox event so the
// poller pages downstream consumers. Best effort: the inconsistency is
// already being surfaced to the caller.
func (o *TransferOrchestrator) alertCompensationFailure(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, cause, cerr error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"from": fromID, "to": toID, "amount": amount,
		"credit_error": cause.Error(), "compensation_error": cerr.Error(),
	})
	evt := &model.OutboxEvent{
		Aggregate: "Wallet", AggregateID: fromID,
		EventType: model.EventCompensationFailed, Payload: string(payload),
	}
	if err := o.repo.CreateOutboxEvent(ctx, o.repo.DB(ctx), evt); err != nil {
		o.log.Errorw("failed to record compensation alert", "err", err)
	}
}

func transferEntry(walletID uint64, entryType string, amount decimal.Decimal, relatedUser uint64, idemKey string, ts time.Time) *model.Transaction {
	t := &model.Transaction{
		WalletID:      walletID,
		Type:          entryType,
		Amount:        amount,
		RelatedUserID: &relatedUser,
		CreatedAt:     ts,
	}
	if idemKey != "" {
		key := idemKey
		t.IdempotencyKey = &key
	}
	return t
}

func wrapNotFound(err error, side string, walletID uint64) error {
	if isRecordNotFound(err) {
		return fmt.Errorf("%s %d: %w", side, walletID, ErrWalletNotFound)
	}
	return err
}
