package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry types. Amount is always positive; the type carries the sign
// (DEPOSIT and TRANSFER_IN add to the balance, WITHDRAW and TRANSFER_OUT
// subtract from it).
const (
	TypeDeposit     = "DEPOSIT"
	TypeWithdraw    = "WITHDRAW"
	TypeTransferIn  = "TRANSFER_IN"
	TypeTransferOut = "TRANSFER_OUT"
)

// Transaction is one immutable ledger entry. Rows are only ever appended.
// RelatedUserID is the counterparty's owner id on transfer legs and nil
// otherwise.
// The composite unique index backs idempotent replay: once a keyed row of a
// given type exists for a wallet, a racing writer's insert is rejected at
// the store instead of double-applying. Null keys stay unconstrained.
type Transaction struct {
	ID             uint64          `gorm:"primaryKey"`
	WalletID       uint64          `gorm:"not null;index;uniqueIndex:idx_tx_wallet_idem_type"`
	Type           string          `gorm:"size:32;not null;uniqueIndex:idx_tx_wallet_idem_type"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	RelatedUserID  *uint64
	IdempotencyKey *string   `gorm:"size:64;uniqueIndex:idx_tx_wallet_idem_type"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (Transaction) TableName() string { return "transaction" }

// Signed returns the amount with the sign implied by the entry type.
func (t Transaction) Signed() decimal.Decimal {
	switch t.Type {
	case TypeWithdraw, TypeTransferOut:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}
