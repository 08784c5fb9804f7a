// internal/repository/cursor.go
package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

// AdvanceCursor records one observed transaction hash on the source's trail
// and moves last_identifier_checked forward to it. Called once per applied
// transaction, inside the same database transaction as the state change, so
// a crash can never leave a transaction applied but unrecorded.
func AdvanceCursor(tx *gorm.DB, sourceID uuid.UUID, txHash string, blockTime int64) error {
	entry := models.PaymentSourceIdentifier{
		PaymentSourceID: sourceID,
		TxHash:          txHash,
		BlockTime:       blockTime,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}

	return tx.Model(&models.PaymentSource{}).
		Where("id = ?", sourceID).
		Update("last_identifier_checked", txHash).Error
}

// RecentIdentifiers returns the newest entries of the trail, newest first.
// The rollback handler walks these to find the fork point.
func RecentIdentifiers(db *gorm.DB, sourceID uuid.UUID, limit int) ([]models.PaymentSourceIdentifier, error) {
	var out []models.PaymentSourceIdentifier
	err := db.Where("payment_source_id = ?", sourceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RewindCursor resets the cursor to the fork point after a rollback. Entries
// newer than the fork are dropped from the trail; forkTxHash nil rewinds to
// the very beginning of history.
func RewindCursor(tx *gorm.DB, sourceID uuid.UUID, forkTxHash *string) error {
	if forkTxHash == nil {
		if err := tx.Unscoped().
			Where("payment_source_id = ?", sourceID).
			Delete(&models.PaymentSourceIdentifier{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentSource{}).
			Where("id = ?", sourceID).
			Update("last_identifier_checked", nil).Error
	}

	var fork models.PaymentSourceIdentifier
	if err := tx.Where("payment_source_id = ? AND tx_hash = ?", sourceID, *forkTxHash).
		Order("created_at DESC").
		First(&fork).Error; err != nil {
		return err
	}

	if err := tx.Unscoped().
		Where("payment_source_id = ? AND created_at > ?", sourceID, fork.CreatedAt).
		Delete(&models.PaymentSourceIdentifier{}).Error; err != nil {
		return err
	}

	return tx.Model(&models.PaymentSource{}).
		Where("id = ?", sourceID).
		Update("last_identifier_checked", *forkTxHash).Error
}
