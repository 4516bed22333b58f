package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a non-negative balance for one owner. Version is the
// concurrency token: every successful balance mutation increments it, and
// writers condition their update on the version they read.
type Wallet struct {
	ID        uint64          `gorm:"primaryKey;column:id"`
	OwnerID   uint64          `gorm:"not null;index"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version   uint64          `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
