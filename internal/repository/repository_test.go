// internal/repository/repository_test.go
package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.PaymentSource{},
		&models.PaymentSourceIdentifier{},
		&models.HotWallet{},
		&models.WalletBase{},
		&models.Transaction{},
		&models.UnitValue{},
		&models.PaymentRequest{},
		&models.PurchaseRequest{},
		&models.RegistryRequest{},
	))

	return NewUnserialized(db)
}

func testSource(t *testing.T, db *gorm.DB) *models.PaymentSource {
	t.Helper()
	source := &models.PaymentSource{
		Network:              models.NetworkPreprod,
		SmartContractAddress: "addr_test1script",
		PolicyID:             "0000000000000000000000000000000000000000000000000000000",
	}
	require.NoError(t, db.Create(source).Error)
	return source
}

func testWallet(t *testing.T, db *gorm.DB, source *models.PaymentSource) *models.HotWallet {
	t.Helper()
	wallet := &models.HotWallet{
		PaymentSourceID: source.ID,
		Role:            models.WalletRoleSelling,
		Vkey:            "00",
		Address:         "addr_test1wallet",
	}
	require.NoError(t, db.Create(wallet).Error)
	return wallet
}

func TestLockWallet(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())
	wallet := testWallet(t, store.DB(), source)

	now := time.Now()
	stale := 10 * time.Minute

	ok, err := LockWallet(store.DB(), wallet.ID, stale, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// A held lock cannot be claimed again.
	ok, err = LockWallet(store.DB(), wallet.ID, stale, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// After the stale window the lock is taken over.
	ok, err = LockWallet(store.DB(), wallet.ID, stale, now.Add(stale+time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockWalletBlockedByPendingTransaction(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())
	wallet := testWallet(t, store.DB(), source)

	pending := &models.Transaction{
		TxHash:         "",
		Status:         models.TransactionStatusPending,
		BlocksWalletID: &wallet.ID,
	}
	require.NoError(t, store.DB().Create(pending).Error)

	// Even a free wallet stays unclaimable while a Pending transaction
	// blocks it.
	ok, err := LockWallet(store.DB(), wallet.ID, 10*time.Minute, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// Finalizing the transaction clears the block and the lock.
	require.NoError(t, FinalizeTransaction(store.DB(), pending.ID, models.TransactionStatusRolledBack))

	var after models.Transaction
	require.NoError(t, store.DB().First(&after, "id = ?", pending.ID).Error)
	assert.Equal(t, models.TransactionStatusRolledBack, after.Status)
	assert.Nil(t, after.BlocksWalletID)

	ok, err = LockWallet(store.DB(), wallet.ID, 10*time.Minute, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncLock(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())

	now := time.Now()
	stale := 3 * time.Minute

	ok, err := AcquireSyncLock(store.DB(), source.ID, stale, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AcquireSyncLock(store.DB(), source.ID, stale, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// A crashed run's lock goes stale and is taken over.
	ok, err = AcquireSyncLock(store.DB(), source.ID, stale, now.Add(stale+time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ReleaseSyncLock(store.DB(), source.ID))
	ok, err = AcquireSyncLock(store.DB(), source.ID, stale, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCursorAdvanceAndRewind(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())

	hashes := []string{"tx-a", "tx-b", "tx-c"}
	for i, h := range hashes {
		require.NoError(t, store.InTx(context.Background(), func(tx *gorm.DB) error {
			return AdvanceCursor(tx, source.ID, h, int64(100+i))
		}))
		// Distinct created_at values keep trail ordering unambiguous
		// under sqlite's coarse clock.
		time.Sleep(2 * time.Millisecond)
	}

	var current models.PaymentSource
	require.NoError(t, store.DB().First(&current, "id = ?", source.ID).Error)
	require.NotNil(t, current.LastIdentifierChecked)
	assert.Equal(t, "tx-c", *current.LastIdentifierChecked)

	recent, err := RecentIdentifiers(store.DB(), source.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "tx-c", recent[0].TxHash)
	assert.Equal(t, "tx-a", recent[2].TxHash)

	// Rewind to tx-a drops everything newer.
	fork := "tx-a"
	require.NoError(t, store.InTx(context.Background(), func(tx *gorm.DB) error {
		return RewindCursor(tx, source.ID, &fork)
	}))

	recent, err = RecentIdentifiers(store.DB(), source.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "tx-a", recent[0].TxHash)

	require.NoError(t, store.DB().First(&current, "id = ?", source.ID).Error)
	require.NotNil(t, current.LastIdentifierChecked)
	assert.Equal(t, "tx-a", *current.LastIdentifierChecked)

	// Rewinding past all history clears the cursor entirely.
	require.NoError(t, store.InTx(context.Background(), func(tx *gorm.DB) error {
		return RewindCursor(tx, source.ID, nil)
	}))

	recent, err = RecentIdentifiers(store.DB(), source.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	require.NoError(t, store.DB().First(&current, "id = ?", source.ID).Error)
	assert.Nil(t, current.LastIdentifierChecked)
}

func TestWorkQueueLoadsCurrentTransaction(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())
	wallet := testWallet(t, store.DB(), source)

	confirmed := &models.Transaction{
		TxHash: "aa11",
		Status: models.TransactionStatusConfirmed,
	}
	require.NoError(t, store.DB().Create(confirmed).Error)

	payment := &models.PaymentRequest{
		PaymentSourceID: source.ID,
		EscrowBase: models.EscrowBase{
			BlockchainIdentifier: "payment-1",
			InputHash:            "00",
			CurrentTransactionID: &confirmed.ID,
			OnChainState:         models.OnChainStateResultSubmitted,
		},
		NextAction:            models.PaymentActionWithdrawRequested,
		SmartContractWalletID: &wallet.ID,
	}
	require.NoError(t, store.DB().Create(payment).Error)

	// The spend dispatchers skip any entity without its current
	// transaction, so the queue query has to load the association.
	payments, err := PaymentsWithAction(store.DB(), source.ID, models.PaymentActionWithdrawRequested)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.NotNil(t, payments[0].CurrentTransaction)
	assert.Equal(t, "aa11", payments[0].CurrentTransaction.TxHash)

	refundTx := &models.Transaction{
		TxHash: "bb22",
		Status: models.TransactionStatusConfirmed,
	}
	require.NoError(t, store.DB().Create(refundTx).Error)

	purchase := &models.PurchaseRequest{
		PaymentSourceID: source.ID,
		EscrowBase: models.EscrowBase{
			BlockchainIdentifier: "purchase-1",
			InputHash:            "00",
			CurrentTransactionID: &refundTx.ID,
			OnChainState:         models.OnChainStateRefundRequested,
		},
		NextAction:            models.PurchasingActionWithdrawRefundRequested,
		SmartContractWalletID: &wallet.ID,
	}
	require.NoError(t, store.DB().Create(purchase).Error)

	purchases, err := PurchasesWithAction(store.DB(), source.ID, models.PurchasingActionWithdrawRefundRequested)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.NotNil(t, purchases[0].CurrentTransaction)
	assert.Equal(t, "bb22", purchases[0].CurrentTransaction.TxHash)
}

func TestFindOrCreateWalletBase(t *testing.T) {
	store := testStore(t)
	source := testSource(t, store.DB())

	first, err := FindOrCreateWalletBase(store.DB(), source.ID, "aa", "addr_test1buyer")
	require.NoError(t, err)

	again, err := FindOrCreateWalletBase(store.DB(), source.ID, "aa", "addr_test1buyer")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := FindOrCreateWalletBase(store.DB(), source.ID, "bb", "addr_test1other")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}
