// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return nil
		}
	}

	return json.Unmarshal(bytes, j)
}

// StringList is a JSON-encoded ordered list of strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return nil
		}
	}

	return json.Unmarshal(bytes, l)
}

// Enums
type Network string

const (
	NetworkMainnet Network = "Mainnet"
	NetworkPreprod Network = "Preprod"
)

type WalletRole string

const (
	WalletRoleSelling     WalletRole = "Selling"
	WalletRolePurchasing  WalletRole = "Purchasing"
	WalletRoleFeeReceiver WalletRole = "FeeReceiver"
)

type OnChainState string

const (
	OnChainStateFundsLocked         OnChainState = "FundsLocked"
	OnChainStateResultSubmitted     OnChainState = "ResultSubmitted"
	OnChainStateRefundRequested     OnChainState = "RefundRequested"
	OnChainStateDisputed            OnChainState = "Disputed"
	OnChainStateWithdrawn           OnChainState = "Withdrawn"
	OnChainStateRefundWithdrawn     OnChainState = "RefundWithdrawn"
	OnChainStateDisputedWithdrawn   OnChainState = "DisputedWithdrawn"
	OnChainStateFundsOrDatumInvalid OnChainState = "FundsOrDatumInvalid"
)

type PaymentAction string

const (
	PaymentActionNone                     PaymentAction = "None"
	PaymentActionWaitingForExternal       PaymentAction = "WaitingForExternalAction"
	PaymentActionWaitingForManual         PaymentAction = "WaitingForManualAction"
	PaymentActionWithdrawRequested        PaymentAction = "WithdrawRequested"
	PaymentActionWithdrawInitiated        PaymentAction = "WithdrawInitiated"
	PaymentActionSubmitResultRequested    PaymentAction = "SubmitResultRequested"
	PaymentActionSubmitResultInitiated    PaymentAction = "SubmitResultInitiated"
	PaymentActionAuthorizeRefundRequested PaymentAction = "AuthorizeRefundRequested"
	PaymentActionAuthorizeRefundInitiated PaymentAction = "AuthorizeRefundInitiated"
)

type PurchasingAction string

const (
	PurchasingActionNone                    PurchasingAction = "None"
	PurchasingActionFundsLockingRequested   PurchasingAction = "FundsLockingRequested"
	PurchasingActionFundsLockingInitiated   PurchasingAction = "FundsLockingInitiated"
	PurchasingActionWaitingForExternal      PurchasingAction = "WaitingForExternalAction"
	PurchasingActionWaitingForManual        PurchasingAction = "WaitingForManualAction"
	PurchasingActionSetRefundRequested      PurchasingAction = "SetRefundRequestedRequested"
	PurchasingActionSetRefundInitiated      PurchasingAction = "SetRefundRequestedInitiated"
	PurchasingActionUnSetRefundRequested    PurchasingAction = "UnSetRefundRequestedRequested"
	PurchasingActionUnSetRefundInitiated    PurchasingAction = "UnSetRefundRequestedInitiated"
	PurchasingActionWithdrawRefundRequested PurchasingAction = "WithdrawRefundRequested"
	PurchasingActionWithdrawRefundInitiated PurchasingAction = "WithdrawRefundInitiated"
)

type RegistrationState string

const (
	RegistrationStateRequested           RegistrationState = "RegistrationRequested"
	RegistrationStateInitiated           RegistrationState = "RegistrationInitiated"
	RegistrationStateConfirmed           RegistrationState = "RegistrationConfirmed"
	RegistrationStateFailed              RegistrationState = "RegistrationFailed"
	RegistrationStateDeregisterRequested RegistrationState = "DeregistrationRequested"
	RegistrationStateDeregisterInitiated RegistrationState = "DeregistrationInitiated"
	RegistrationStateDeregisterConfirmed RegistrationState = "DeregistrationConfirmed"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "Pending"
	TransactionStatusConfirmed  TransactionStatus = "Confirmed"
	TransactionStatusRolledBack TransactionStatus = "RolledBack"
)

type ErrorType string

const (
	ErrorTypeNone    ErrorType = ""
	ErrorTypeNetwork ErrorType = "NetworkError"
	ErrorTypeUnknown ErrorType = "Unknown"
)

type PricingType string

const (
	PricingTypeFixed PricingType = "Fixed"
	PricingTypeFree  PricingType = "Free"
)

type PaymentType string

const (
	PaymentTypeNone          PaymentType = "None"
	PaymentTypeWeb3CardanoV1 PaymentType = "Web3CardanoV1"
)

type FundCategory string

const (
	FundCategoryRequested FundCategory = "requested"
	FundCategoryPaid      FundCategory = "paid"
)

type WithdrawRecipient string

const (
	WithdrawRecipientSeller WithdrawRecipient = "seller"
	WithdrawRecipientBuyer  WithdrawRecipient = "buyer"
)
