package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Transaction log events written by the admission pipeline and the miner.
const (
	TxLogAdmitted  = "admitted"
	TxLogConfirmed = "confirmed"
	TxLogExpired   = "expired"
)

// InsertTransactionLog appends an audit row for txHash inside tx, so the
// audit trail commits or rolls back together with the state change it
// describes.
func (s *Storage) InsertTransactionLog(tx *sql.Tx, txHash, event, detail string) error {
	_, err := tx.Exec(`
		INSERT INTO transaction_logs (id, tx_hash, event, detail) VALUES ($1, $2, $3, $4)
	`, uuid.New(), txHash, event, detail)
	if err != nil {
		return fmt.Errorf("storage: insert transaction log: %w", err)
	}
	return nil
}

// InsertSystemLog appends a service-level audit row outside any transaction.
func (s *Storage) InsertSystemLog(component, event, detail string) error {
	_, err := s.db.Exec(`
		INSERT INTO system_logs (id, component, event, detail) VALUES ($1, $2, $3, $4)
	`, uuid.New(), component, event, detail)
	if err != nil {
		return fmt.Errorf("storage: insert system log: %w", err)
	}
	return nil
}
