// internal/models/escrow.go
package models

import (
	"github.com/google/uuid"
)

// EscrowBase holds the fields the two mirror tables share. PaymentRequest and
// PurchaseRequest describe the same on-chain escrow from the seller's and the
// buyer's side respectively; both are keyed by (payment source, blockchain
// identifier) and updated from the same on-chain events.
//
// All times are epoch milliseconds. Cooldown times are 0 when none is set.
type EscrowBase struct {
	BlockchainIdentifier string `json:"blockchain_identifier" gorm:"size:512;not null"`
	InputHash            string `json:"input_hash" gorm:"size:128;not null"`
	ResultHash           string `json:"result_hash" gorm:"size:128;not null;default:''"`

	PayByTime                 int64 `json:"pay_by_time" gorm:"not null"`
	SubmitResultTime          int64 `json:"submit_result_time" gorm:"not null"`
	UnlockTime                int64 `json:"unlock_time" gorm:"not null"`
	ExternalDisputeUnlockTime int64 `json:"external_dispute_unlock_time" gorm:"not null"`
	BuyerCooldownTime         int64 `json:"buyer_cooldown_time" gorm:"not null;default:0"`
	SellerCooldownTime        int64 `json:"seller_cooldown_time" gorm:"not null;default:0"`

	CollateralReturnLovelace int64 `json:"collateral_return_lovelace" gorm:"not null;default:0"`

	OnChainState OnChainState `json:"on_chain_state" gorm:"type:varchar(24);index"`

	ErrorType ErrorType `json:"error_type" gorm:"type:varchar(16)"`
	ErrorNote string    `json:"error_note" gorm:"type:text"`

	CurrentTransactionID *uuid.UUID `json:"current_transaction_id" gorm:"type:uuid"`
}

// PaymentRequest is the seller-side view of an escrow. Its smart contract
// wallet is the source's Selling hot wallet; the buyer is a foreign wallet
// attached once the funds-locking transaction is observed.
type PaymentRequest struct {
	BaseModel
	PaymentSourceID uuid.UUID `json:"payment_source_id" gorm:"type:uuid;not null;index"`
	EscrowBase
	AgentIdentifier string        `json:"agent_identifier" gorm:"size:120"`
	PaymentType     PaymentType   `json:"payment_type" gorm:"type:varchar(16);not null;default:'Web3CardanoV1'"`
	NextAction      PaymentAction `json:"next_action" gorm:"type:varchar(32);not null;index"`

	SmartContractWalletID *uuid.UUID `json:"smart_contract_wallet_id" gorm:"type:uuid"`
	SmartContractWallet   *HotWallet `json:"smart_contract_wallet,omitempty" gorm:"foreignKey:SmartContractWalletID"`
	BuyerWalletID         *uuid.UUID `json:"buyer_wallet_id" gorm:"type:uuid"`
	BuyerWallet           *WalletBase `json:"buyer_wallet,omitempty" gorm:"foreignKey:BuyerWalletID"`

	CurrentTransaction *Transaction  `json:"current_transaction,omitempty" gorm:"foreignKey:CurrentTransactionID"`
	TransactionHistory []Transaction `json:"transaction_history,omitempty" gorm:"foreignKey:PaymentRequestID"`
	Funds              []UnitValue   `json:"funds,omitempty" gorm:"foreignKey:PaymentRequestID"`
}

func (PaymentRequest) TableName() string { return "payment_requests" }

// PurchaseRequest is the buyer-side mirror. Its smart contract wallet is the
// source's Purchasing hot wallet; the seller is the foreign party.
type PurchaseRequest struct {
	BaseModel
	PaymentSourceID uuid.UUID `json:"payment_source_id" gorm:"type:uuid;not null;index"`
	EscrowBase
	AgentIdentifier string           `json:"agent_identifier" gorm:"size:120"`
	PaymentType     PaymentType      `json:"payment_type" gorm:"type:varchar(16);not null;default:'Web3CardanoV1'"`
	NextAction      PurchasingAction `json:"next_action" gorm:"type:varchar(32);not null;index"`

	SmartContractWalletID *uuid.UUID  `json:"smart_contract_wallet_id" gorm:"type:uuid"`
	SmartContractWallet   *HotWallet  `json:"smart_contract_wallet,omitempty" gorm:"foreignKey:SmartContractWalletID"`
	SellerWalletID        *uuid.UUID  `json:"seller_wallet_id" gorm:"type:uuid"`
	SellerWallet          *WalletBase `json:"seller_wallet,omitempty" gorm:"foreignKey:SellerWalletID"`

	CurrentTransaction *Transaction  `json:"current_transaction,omitempty" gorm:"foreignKey:CurrentTransactionID"`
	TransactionHistory []Transaction `json:"transaction_history,omitempty" gorm:"foreignKey:PurchaseRequestID"`
	Funds              []UnitValue   `json:"funds,omitempty" gorm:"foreignKey:PurchaseRequestID"`
}

func (PurchaseRequest) TableName() string { return "purchase_requests" }

// RequestedFunds filters the request's unit values down to the amounts the
// seller asked for.
func (b *EscrowBase) requestedOf(funds []UnitValue) []UnitValue {
	out := make([]UnitValue, 0, len(funds))
	for _, f := range funds {
		if f.Category == FundCategoryRequested {
			out = append(out, f)
		}
	}
	return out
}

func (p *PaymentRequest) RequestedFunds() []UnitValue  { return p.requestedOf(p.Funds) }
func (p *PurchaseRequest) RequestedFunds() []UnitValue { return p.requestedOf(p.Funds) }
