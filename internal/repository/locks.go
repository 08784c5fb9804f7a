// internal/repository/locks.go
package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

// LockWallet claims the hot wallet for one dispatcher. The claim succeeds
// only when the wallet is free (or its previous lock went stale) and no
// Pending transaction currently blocks it, which is the at-most-one
// in-flight-transaction-per-wallet invariant. A conditional UPDATE keeps
// the check-and-set atomic without relying on row locks, so the same
// statement works under postgres and the sqlite test driver.
func LockWallet(tx *gorm.DB, walletID uuid.UUID, staleAfter time.Duration, now time.Time) (bool, error) {
	res := tx.Exec(`
		UPDATE hot_wallets
		SET locked_at = ?, updated_at = ?
		WHERE id = ?
		  AND deleted_at IS NULL
		  AND (locked_at IS NULL OR locked_at < ?)
		  AND NOT EXISTS (
			SELECT 1 FROM transactions
			WHERE blocks_wallet_id = ?
			  AND status = ?
			  AND deleted_at IS NULL
		  )`,
		now, now, walletID, now.Add(-staleAfter), walletID, models.TransactionStatusPending)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UnlockWallet releases the wallet lock unconditionally. Called when a
// dispatch attempt fails before a transaction was submitted.
func UnlockWallet(tx *gorm.DB, walletID uuid.UUID) error {
	return tx.Model(&models.HotWallet{}).
		Where("id = ?", walletID).
		Update("locked_at", nil).Error
}

// FinalizeTransaction moves a transaction out of Pending and releases the
// wallet it blocked in the same database transaction. Status must be
// Confirmed or RolledBack.
func FinalizeTransaction(tx *gorm.DB, transactionID uuid.UUID, status models.TransactionStatus) error {
	var t models.Transaction
	if err := tx.First(&t, "id = ?", transactionID).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":           status,
		"blocks_wallet_id": nil,
	}
	if err := tx.Model(&models.Transaction{}).Where("id = ?", transactionID).Updates(updates).Error; err != nil {
		return err
	}

	if t.BlocksWalletID != nil {
		return UnlockWallet(tx, *t.BlocksWalletID)
	}
	return nil
}

// AcquireSyncLock claims the per-source sync advisory lock. A lock older
// than staleAfter is treated as abandoned by a crashed run and taken over.
func AcquireSyncLock(db *gorm.DB, sourceID uuid.UUID, staleAfter time.Duration, now time.Time) (bool, error) {
	res := db.Exec(`
		UPDATE payment_sources
		SET sync_in_progress = ?, sync_started_at = ?, updated_at = ?
		WHERE id = ?
		  AND deleted_at IS NULL
		  AND (sync_in_progress = ? OR sync_started_at IS NULL OR sync_started_at < ?)`,
		true, now, now, sourceID, false, now.Add(-staleAfter))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func ReleaseSyncLock(db *gorm.DB, sourceID uuid.UUID) error {
	return db.Model(&models.PaymentSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"sync_in_progress": false,
			"sync_started_at":  nil,
		}).Error
}
