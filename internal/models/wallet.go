// internal/models/wallet.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// HotWallet is a coordinator-controlled wallet owned by exactly one
// PaymentSource. The mnemonic blob is written by the setup tooling and only
// ever handed to the transaction signer; the engine never inspects it.
type HotWallet struct {
	BaseModel
	PaymentSourceID   uuid.UUID  `json:"payment_source_id" gorm:"type:uuid;not null;index"`
	Role              WalletRole `json:"role" gorm:"type:varchar(16);not null;index"`
	Vkey              string     `json:"vkey" gorm:"size:64;not null;index"`
	Address           string     `json:"address" gorm:"size:128;not null"`
	CollectionAddress *string    `json:"collection_address" gorm:"size:128"`
	EncryptedMnemonic string     `json:"-" gorm:"type:text"`
	LockedAt          *time.Time `json:"locked_at"`
	Note              string     `json:"note" gorm:"size:255"`
}

// IsLocked reports whether the wallet lock is held and not yet stale.
func (w *HotWallet) IsLocked(staleAfter time.Duration, now time.Time) bool {
	return w.LockedAt != nil && now.Sub(*w.LockedAt) <= staleAfter
}

// WalletBase is a foreign counterparty wallet observed on chain (the buyer of
// a payment, the seller of a purchase). Created-or-connected by vkey+address.
type WalletBase struct {
	BaseModel
	PaymentSourceID uuid.UUID `json:"payment_source_id" gorm:"type:uuid;not null;uniqueIndex:idx_wallet_base_identity"`
	Vkey            string    `json:"vkey" gorm:"size:64;not null;uniqueIndex:idx_wallet_base_identity"`
	Address         string    `json:"address" gorm:"size:128;not null;uniqueIndex:idx_wallet_base_identity"`
}
