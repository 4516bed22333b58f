package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corepay/wallet-ledger/internal/model"
)

// The decorators below replace what the reference system did with
// annotations: transaction demarcation lives in the mutator, and timing,
// cache eviction and tracing are explicit wrappers composed at wiring time.

// WithMetrics times every operation and records outcomes on the collector.
func WithMetrics(next Operations, m MetricsCollector) Operations {
	if m == nil {
		m = NoopMetricsCollector{}
	}
	return &metricsDecorator{next: next, metrics: m}
}

type metricsDecorator struct {
	next    Operations
	metrics MetricsCollector
}

func (d *metricsDecorator) observe(op string, start time.Time, err error) {
	d.metrics.RecordOperationDuration(op, time.Since(start))
	if err != nil {
		d.metrics.RecordOperationResult(op, "error")
		d.metrics.RecordError(op, errKind(err))
		return
	}
	d.metrics.RecordOperationResult(op, "ok")
}

func (d *metricsDecorator) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	start := time.Now()
	w, err := d.next.CreateWallet(ctx, ownerID)
	d.observe("create_wallet", start, err)
	return w, err
}

func (d *metricsDecorator) Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	start := time.Now()
	bal, err := d.next.Deposit(ctx, walletID, amount, idemKey)
	d.observe("deposit", start, err)
	if err == nil {
		d.metrics.RecordBalanceChange(walletID, bal)
	}
	return bal, err
}

func (d *metricsDecorator) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	start := time.Now()
	bal, err := d.next.Withdraw(ctx, walletID, amount, idemKey)
	d.observe("withdraw", start, err)
	if err == nil {
		d.metrics.RecordBalanceChange(walletID, bal)
	}
	return bal, err
}

func (d *metricsDecorator) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error) {
	start := time.Now()
	res, err := d.next.Transfer(ctx, fromID, toID, amount, idemKey)
	d.observe("transfer", start, err)
	if err == nil {
		d.metrics.RecordBalanceChange(fromID, res.FromBalance)
		d.metrics.RecordBalanceChange(toID, res.ToBalance)
	}
	return res, err
}

func (d *metricsDecorator) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	start := time.Now()
	bal, err := d.next.GetBalance(ctx, walletID)
	d.observe("get_balance", start, err)
	return bal, err
}

func (d *metricsDecorator) GetHistory(ctx context.Context, walletID uint64, f HistoryFilter) ([]model.Transaction, error) {
	start := time.Now()
	txs, err := d.next.GetHistory(ctx, walletID, f)
	d.observe("get_history", start, err)
	return txs, err
}

// WithCacheInvalidation evicts cached balances of every wallet a successful
// mutation touched. Fire-and-forget: eviction failure is logged, never
// surfaced.
func WithCacheInvalidation(next Operations, cache CacheInvalidator, logger *zap.SugaredLogger) Operations {
	return &cacheDecorator{next: next, cache: cache, log: logger}
}

type cacheDecorator struct {
	next  Operations
	cache CacheInvalidator
	log   *zap.SugaredLogger
}

func (d *cacheDecorator) invalidate(ctx context.Context, walletIDs ...uint64) {
	if err := d.cache.InvalidateBalances(ctx, walletIDs...); err != nil {
		d.log.Warnw("balance cache invalidation failed", "wallet_ids", walletIDs, "err", err)
	}
}

func (d *cacheDecorator) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	return d.next.CreateWallet(ctx, ownerID)
}

func (d *cacheDecorator) Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	bal, err := d.next.Deposit(ctx, walletID, amount, idemKey)
	if err == nil {
		d.invalidate(ctx, walletID)
	}
	return bal, err
}

func (d *cacheDecorator) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	bal, err := d.next.Withdraw(ctx, walletID, amount, idemKey)
	if err == nil {
		d.invalidate(ctx, walletID)
	}
	return bal, err
}

func (d *cacheDecorator) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error) {
	res, err := d.next.Transfer(ctx, fromID, toID, amount, idemKey)
	if err == nil {
		d.invalidate(ctx, fromID, toID)
	}
	return res, err
}

func (d *cacheDecorator) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	return d.next.GetBalance(ctx, walletID)
}

func (d *cacheDecorator) GetHistory(ctx context.Context, walletID uint64, f HistoryFilter) ([]model.Transaction, error) {
	return d.next.GetHistory(ctx, walletID, f)
}

// WithTracing logs start/success/error per operation with the request's
// correlation id. Purely observational.
func WithTracing(next Operations, logger *zap.SugaredLogger) Operations {
	return &tracingDecorator{next: next, log: logger}
}

type tracingDecorator struct {
	next Operations
	log  *zap.SugaredLogger
}

func (d *tracingDecorator) span(ctx context.Context, op string) func(err error) {
	l := d.log.With("op", op, "request_id", RequestIDFromContext(ctx))
	l.Debugw("op start")
	return func(err error) {
		if err != nil {
			l.Warnw("op failed", "err", err, "kind", errKind(err))
			return
		}
		l.Infow("op ok")
	}
}

func (d *tracingDecorator) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	done := d.span(ctx, "create_wallet")
	w, err := d.next.CreateWallet(ctx, ownerID)
	done(err)
	return w, err
}

func (d *tracingDecorator) Deposit(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	done := d.span(ctx, "deposit")
	bal, err := d.next.Deposit(ctx, walletID, amount, idemKey)
	done(err)
	return bal, err
}

func (d *tracingDecorator) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, idemKey string) (decimal.Decimal, error) {
	done := d.span(ctx, "withdraw")
	bal, err := d.next.Withdraw(ctx, walletID, amount, idemKey)
	done(err)
	return bal, err
}

func (d *tracingDecorator) Transfer(ctx context.Context, fromID, toID uint64, amount decimal.Decimal, idemKey string) (*TransferResult, error) {
	done := d.span(ctx, "transfer")
	res, err := d.next.Transfer(ctx, fromID, toID, amount, idemKey)
	done(err)
	return res, err
}

func (d *tracingDecorator) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	done := d.span(ctx, "get_balance")
	bal, err := d.next.GetBalance(ctx, walletID)
	done(err)
	return bal, err
}

func (d *tracingDecorator) GetHistory(ctx context.Context, walletID uint64, f HistoryFilter) ([]model.Transaction, error) {
	done := d.span(ctx, "get_history")
	txs, err := d.next.GetHistory(ctx, walletID, f)
	done(err)
	return txs, err
}
