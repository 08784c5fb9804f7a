// internal/models/transaction.go
package models

import (
	"github.com/google/uuid"
)

// Transaction is one on-chain transaction the coordinator authored or
// observed on behalf of a request. A Pending transaction may hold the wallet
// lock via BlocksWalletID; the lock is released atomically when the status
// leaves Pending.
//
// The owning request references its current transaction by id; the
// transaction carries the back-reference to whichever request it belongs to.
// Older transactions of a request (those no longer current) form its history,
// ordered by creation time.
type Transaction struct {
	BaseModel
	TxHash string            `json:"tx_hash" gorm:"size:64;index"`
	Status TransactionStatus `json:"status" gorm:"type:varchar(16);not null;default:'Pending';index"`

	BlocksWalletID *uuid.UUID `json:"blocks_wallet_id" gorm:"type:uuid;index"`
	BlocksWallet   *HotWallet `json:"-" gorm:"foreignKey:BlocksWalletID"`

	PaymentRequestID  *uuid.UUID `json:"payment_request_id" gorm:"type:uuid;index"`
	PurchaseRequestID *uuid.UUID `json:"purchase_request_id" gorm:"type:uuid;index"`
	RegistryRequestID *uuid.UUID `json:"registry_request_id" gorm:"type:uuid;index"`
}

// UnitValue is one {unit, amount} pair attached to a request: requested or
// paid funds, registry pricing, or a withdrawal split. Amounts are integral
// lovelace or asset minor units, never floating point.
type UnitValue struct {
	BaseModel
	Unit     string       `json:"unit" gorm:"size:120;not null;default:''"`
	Amount   int64        `json:"amount" gorm:"not null"`
	Category FundCategory `json:"category" gorm:"type:varchar(16);not null;default:'requested'"`

	Recipient WithdrawRecipient `json:"recipient,omitempty" gorm:"type:varchar(8)"`

	PaymentRequestID  *uuid.UUID `json:"-" gorm:"type:uuid;index"`
	PurchaseRequestID *uuid.UUID `json:"-" gorm:"type:uuid;index"`
	RegistryRequestID *uuid.UUID `json:"-" gorm:"type:uuid;index"`
}
