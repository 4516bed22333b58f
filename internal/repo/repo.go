package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/model"
)

// ErrVersionConflict is returned when a balance update loses the
// version race; callers decide whether to retry.
var ErrVersionConflict = errors.New("wallet version conflict")

// RepositoryInterface restricts Repo methods so services can be unit
// tested against a stub.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetWallet(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	AppendTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	TransactionsInRange(ctx context.Context, walletID uint64, start, end *time.Time) ([]model.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, walletID uint64, key, txType string) (*model.Transaction, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error)
	InvalidateBalances(ctx context.Context, walletIDs ...uint64) error
}

// Repository implements RepositoryInterface over Postgres, Redis and Kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWallet reads the wallet row. No row lock: the version predicate on
// UpdateWalletBalance is what detects lost updates.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a new wallet row.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWalletBalance writes the new balance conditioned on the version the
// caller read. Zero rows affected means a concurrent writer got there first.
func (r *Repository) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// AppendTransaction inserts a ledger row. Rows are never updated or deleted.
func (r *Repository) AppendTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// TransactionsInRange returns a wallet's ledger rows inside [start, end],
// either bound optional, ascending by commit time with insertion order
// breaking ties.
func (r *Repository) TransactionsInRange(ctx context.Context, walletID uint64, start, end *time.Time) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	if start != nil {
		q = q.Where("created_at >= ?", *start)
	}
	if end != nil {
		q = q.Where("created_at <= ?", *end)
	}
	var txs []model.Transaction
	err := q.Order("created_at asc, id asc").Find(&txs).Error
	return txs, err
}

// FindByIdempotencyKey looks up a prior entry for dedup; nil when absent.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, walletID uint64, key, txType string) (*model.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	var t model.Transaction
	err := tx.WithContext(ctx).
		Where("wallet_id = ? AND idempotency_key = ? AND type = ?", walletID, key, txType).
		First(&t).Error
	if err == nil {
		return &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, balanceKey(walletID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, balanceKey(walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// InvalidateBalances drops cached balances for the given wallets.
func (r *Repository) InvalidateBalances(ctx context.Context, walletIDs ...uint64) error {
	keys := make([]string, 0, len(walletIDs))
	for _, id := range walletIDs {
		keys = append(keys, balanceKey(id))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func balanceKey(walletID uint64) string { return fmt.Sprintf("balance:%d", walletID) }
