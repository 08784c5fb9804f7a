// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.PaymentSource{},
		&models.PaymentSourceIdentifier{},
		&models.HotWallet{},
		&models.WalletBase{},
		&models.Transaction{},
		&models.UnitValue{},
		&models.PaymentRequest{},
		&models.PurchaseRequest{},
		&models.RegistryRequest{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// One payment and one purchase request per (source, identifier)
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_identifier ON payment_requests(payment_source_id, blockchain_identifier)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_purchase_identifier ON purchase_requests(payment_source_id, blockchain_identifier)",

		// Dispatcher work queues
		"CREATE INDEX IF NOT EXISTS idx_payment_requests_action ON payment_requests(next_action, payment_source_id)",
		"CREATE INDEX IF NOT EXISTS idx_purchase_requests_action ON purchase_requests(next_action, payment_source_id)",
		"CREATE INDEX IF NOT EXISTS idx_registry_requests_state ON registry_requests(state, payment_source_id)",

		// Wallet lock invariant lookups
		"CREATE INDEX IF NOT EXISTS idx_transactions_pending_wallet ON transactions(blocks_wallet_id, status)",

		// Cursor trail, newest first
		"CREATE INDEX IF NOT EXISTS idx_source_identifiers_time ON payment_source_identifiers(payment_source_id, created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}
