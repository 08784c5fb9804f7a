// internal/repository/requests.go
package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

// EnabledSources lists the payment sources the engine operates on, with
// their hot wallets loaded.
func EnabledSources(db *gorm.DB) ([]models.PaymentSource, error) {
	var out []models.PaymentSource
	err := db.Preload("HotWallets").
		Where("disabled_at IS NULL").
		Find(&out).Error
	return out, err
}

// PaymentByIdentifier loads the seller-side request for an escrow, or nil
// when the identifier is unknown to this source.
func PaymentByIdentifier(tx *gorm.DB, sourceID uuid.UUID, identifier string) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	err := tx.Preload("SmartContractWallet").
		Preload("BuyerWallet").
		Preload("Funds").
		Preload("CurrentTransaction").
		Where("payment_source_id = ? AND blockchain_identifier = ?", sourceID, identifier).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// PurchaseByIdentifier is the buyer-side twin of PaymentByIdentifier.
func PurchaseByIdentifier(tx *gorm.DB, sourceID uuid.UUID, identifier string) (*models.PurchaseRequest, error) {
	var req models.PurchaseRequest
	err := tx.Preload("SmartContractWallet").
		Preload("SellerWallet").
		Preload("Funds").
		Preload("CurrentTransaction").
		Where("payment_source_id = ? AND blockchain_identifier = ?", sourceID, identifier).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindOrCreateWalletBase connects a foreign counterparty wallet by its
// (source, vkey, address) identity, creating it on first sight.
func FindOrCreateWalletBase(tx *gorm.DB, sourceID uuid.UUID, vkey, address string) (*models.WalletBase, error) {
	var wallet models.WalletBase
	err := tx.Where("payment_source_id = ? AND vkey = ? AND address = ?", sourceID, vkey, address).
		First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = models.WalletBase{
		PaymentSourceID: sourceID,
		Vkey:            vkey,
		Address:         address,
	}
	if err := tx.Create(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// HotWalletByRole resolves the source's hot wallet for a role. Exactly one
// wallet per role is provisioned per source.
func HotWalletByRole(tx *gorm.DB, sourceID uuid.UUID, role models.WalletRole) (*models.HotWallet, error) {
	var wallet models.HotWallet
	err := tx.Where("payment_source_id = ? AND role = ?", sourceID, role).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// PaymentsWithAction lists the dispatcher work queue for the seller side.
// CurrentTransaction is loaded because the spend dispatchers need the escrow
// UTxO of the last confirmed transaction to build their inputs.
func PaymentsWithAction(db *gorm.DB, sourceID uuid.UUID, action models.PaymentAction) ([]models.PaymentRequest, error) {
	var out []models.PaymentRequest
	err := db.Preload("SmartContractWallet").
		Preload("BuyerWallet").
		Preload("Funds").
		Preload("CurrentTransaction").
		Where("payment_source_id = ? AND next_action = ?", sourceID, action).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// PurchasesWithAction lists the dispatcher work queue for the buyer side.
func PurchasesWithAction(db *gorm.DB, sourceID uuid.UUID, action models.PurchasingAction) ([]models.PurchaseRequest, error) {
	var out []models.PurchaseRequest
	err := db.Preload("SmartContractWallet").
		Preload("SellerWallet").
		Preload("Funds").
		Preload("CurrentTransaction").
		Where("payment_source_id = ? AND next_action = ?", sourceID, action).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// RegistriesInState lists registry requests awaiting a dispatcher.
func RegistriesInState(db *gorm.DB, sourceID uuid.UUID, state models.RegistrationState) ([]models.RegistryRequest, error) {
	var out []models.RegistryRequest
	err := db.Preload("SmartContractWallet").
		Preload("Pricing").
		Where("payment_source_id = ? AND state = ?", sourceID, state).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// PendingTransactions lists Pending transactions of a source's requests so
// the sync loop can confirm or roll them back. The join goes through the
// request back-references because transactions do not carry the source id.
func PendingTransactions(db *gorm.DB, sourceID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	err := db.
		Where("status = ?", models.TransactionStatusPending).
		Where(`
			payment_request_id IN (SELECT id FROM payment_requests WHERE payment_source_id = ?)
			OR purchase_request_id IN (SELECT id FROM purchase_requests WHERE payment_source_id = ?)
			OR registry_request_id IN (SELECT id FROM registry_requests WHERE payment_source_id = ?)`,
			sourceID, sourceID, sourceID).
		Find(&out).Error
	return out, err
}
