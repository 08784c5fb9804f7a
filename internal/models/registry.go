// internal/models/registry.go
package models

import (
	"github.com/google/uuid"
)

// RegistryRequest is a seller's intent to mint (or burn) the agent identity
// NFT on the registry policy. AgentIdentifier is policy id plus asset name in
// hex, set once the mint transaction is submitted.
type RegistryRequest struct {
	BaseModel
	PaymentSourceID uuid.UUID `json:"payment_source_id" gorm:"type:uuid;not null;index"`

	Name        string `json:"name" gorm:"size:250;not null"`
	Description string `json:"description" gorm:"type:text"`
	APIBaseURL  string `json:"api_base_url" gorm:"size:250;not null"`

	CapabilityName    string `json:"capability_name" gorm:"size:250"`
	CapabilityVersion string `json:"capability_version" gorm:"size:64"`

	Author JSONB `json:"author" gorm:"type:jsonb"`
	Legal  JSONB `json:"legal" gorm:"type:jsonb"`

	Tags           StringList `json:"tags" gorm:"type:jsonb"`
	ExampleOutputs StringList `json:"example_outputs" gorm:"type:jsonb"`

	PricingType     PricingType `json:"pricing_type" gorm:"type:varchar(8);not null;default:'Fixed'"`
	MetadataVersion int         `json:"metadata_version" gorm:"not null;default:1"`

	AgentIdentifier *string           `json:"agent_identifier" gorm:"size:120;index"`
	State           RegistrationState `json:"state" gorm:"type:varchar(32);not null;index"`
	Error           *string           `json:"error" gorm:"type:text"`

	SmartContractWalletID *uuid.UUID `json:"smart_contract_wallet_id" gorm:"type:uuid"`
	SmartContractWallet   *HotWallet `json:"smart_contract_wallet,omitempty" gorm:"foreignKey:SmartContractWalletID"`

	CurrentTransactionID *uuid.UUID   `json:"current_transaction_id" gorm:"type:uuid"`
	CurrentTransaction   *Transaction `json:"current_transaction,omitempty" gorm:"foreignKey:CurrentTransactionID"`
	TransactionHistory   []Transaction `json:"transaction_history,omitempty" gorm:"foreignKey:RegistryRequestID"`

	Pricing []UnitValue `json:"pricing,omitempty" gorm:"foreignKey:RegistryRequestID"`
}

// PaymentTypeForPricing preserves the source behavior of registering free
// agents with payment type None and priced agents with Web3CardanoV1. The
// business meaning of None on a priced agent is undocumented upstream;
// payment creation accepts both and warns on a mismatch.
func (r *RegistryRequest) PaymentTypeForPricing() PaymentType {
	if r.PricingType == PricingTypeFree {
		return PaymentTypeNone
	}
	return PaymentTypeWeb3CardanoV1
}
