// Package store is the relational side of dealwatch: deals, sources and the
// ingestion run ledger, kept in gorm.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fiffu/dealwatch/lib/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrRunClosed = errors.New("ingestion run already finished")
)

// PersistenceError means the store could not be reached or refused a write.
// It aborts the ingestion run that hit it; writes committed before it stand.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{op, err}
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db}
}

func (s *Store) DB() *gorm.DB { return s.db }

const activeFingerprintIndex = "idx_deals_active_fingerprint"

// Migrate creates the tables and the partial index that keeps a fingerprint
// unique among active deals.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Source{},
		&models.Deal{},
		&models.IngestionRun{},
	)
	if err != nil {
		return err
	}
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + activeFingerprintIndex +
			" ON deals (fingerprint) WHERE status = 'active'",
	).Error
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
