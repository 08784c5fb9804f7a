// internal/repository/store.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const serializableRetries = 3

// Store wraps the gorm handle and owns the transaction discipline: every
// state-transition block runs under Serializable isolation and is retried on
// serialization failure. The non-serializable mode exists for the sqlite
// test driver, which has no isolation levels but is single-writer anyway.
type Store struct {
	db           *gorm.DB
	serializable bool
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, serializable: true}
}

// NewUnserialized returns a store that runs transactions at the driver's
// default isolation. Tests on sqlite use this.
func NewUnserialized(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// InTx runs fn inside one database transaction. Under postgres the
// transaction is Serializable and retried up to three times when the
// database aborts it with SQLSTATE 40001.
func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if !s.serializable {
		return s.db.WithContext(ctx).Transaction(fn)
	}

	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	var err error
	for attempt := 1; attempt <= serializableRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn, opts)
		if err == nil || !isSerializationFailure(err) {
			return err
		}

		logrus.WithField("attempt", attempt).Debug("Serialization failure, retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	// The pgx-backed gorm driver reports the SQLSTATE through this
	// interface instead of a pq.Error.
	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) {
		return stateErr.SQLState() == "40001"
	}
	return false
}
