// internal/models/payment_source.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentSource is one contract deployment: the escrow script address on a
// given network plus the hot wallets and requests that belong to it. A source
// is never hard-deleted once requests exist; DisabledAt and the soft-delete
// column take it out of rotation instead.
type PaymentSource struct {
	BaseModel
	Network              Network    `json:"network" gorm:"type:varchar(16);not null;index"`
	SmartContractAddress string     `json:"smart_contract_address" gorm:"size:128;not null;uniqueIndex"`
	PolicyID             string     `json:"policy_id" gorm:"size:56;not null"`
	FeeRatePermille      int        `json:"fee_rate_permille" gorm:"not null;default:50"`
	AdminWalletAddresses StringList `json:"admin_wallet_addresses" gorm:"type:jsonb"`
	CosignThreshold      int        `json:"cosign_threshold" gorm:"not null;default:2"`
	RPCProviderAPIKey    string     `json:"-" gorm:"size:128"`

	// Compiled scripts in hex, written by the setup tooling. The escrow
	// validator is attached when spending script outputs; the registry
	// policy when minting or burning agent identity assets.
	CompiledEscrowScript   string `json:"-" gorm:"type:text"`
	CompiledRegistryPolicy string `json:"-" gorm:"type:text"`

	// Sync cursor and advisory lock. LastIdentifierChecked moves forward
	// along the observed chain history and backward only on rollback.
	LastIdentifierChecked *string    `json:"last_identifier_checked" gorm:"size:64"`
	SyncInProgress        bool       `json:"sync_in_progress" gorm:"not null;default:false"`
	SyncStartedAt         *time.Time `json:"sync_started_at"`

	DisabledAt *time.Time `json:"disabled_at"`

	// Relationships
	HotWallets  []HotWallet               `json:"hot_wallets,omitempty" gorm:"foreignKey:PaymentSourceID;constraint:OnDelete:CASCADE"`
	Identifiers []PaymentSourceIdentifier `json:"-" gorm:"foreignKey:PaymentSourceID;constraint:OnDelete:CASCADE"`
}

// PaymentSourceIdentifier is the append-only trail of transaction hashes the
// sync loop has observed at the script address. It is what makes rollbacks
// detectable: the fork point is the newest entry still present on chain.
type PaymentSourceIdentifier struct {
	BaseModel
	PaymentSourceID uuid.UUID `json:"payment_source_id" gorm:"type:uuid;not null;index:idx_source_identifiers"`
	TxHash          string    `json:"tx_hash" gorm:"size:64;not null;index"`
	BlockTime       int64     `json:"block_time" gorm:"not null"`
}
