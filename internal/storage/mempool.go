package storage

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/waleed-se/walletd/internal/apperr"
)

// UUIDArray maps a Postgres UUID[] column onto a uuid.UUID slice.
type UUIDArray []uuid.UUID

func (a *UUIDArray) Scan(src interface{}) error {
	return pq.GenericArray{A: (*[]uuid.UUID)(a)}.Scan(src)
}

func (a UUIDArray) Value() (driver.Value, error) {
	return pq.GenericArray{A: []uuid.UUID(a)}.Value()
}

// PendingTransaction mirrors the pending_transactions table: a signed,
// admitted transaction waiting to be mined into a block.
type PendingTransaction struct {
	ID                uuid.UUID `db:"id"`
	TxHash            string    `db:"tx_hash"`
	SenderWalletID    string    `db:"sender_wallet_id"`
	RecipientWalletID string    `db:"recipient_wallet_id"`
	Amount            uint64    `db:"amount"`
	Fee               uint64    `db:"fee"`
	Note              string    `db:"note"`
	Signature         string    `db:"signature"`
	InputUTXOIDs      UUIDArray `db:"input_utxo_ids"`
	InputTotal        uint64    `db:"input_total"`
	// Timestamp is the epoch-seconds value folded into tx_hash; it is set
	// once at admission and never recomputed, so the hash stays stable.
	Timestamp int64     `db:"tx_timestamp"`
	CreatedAt time.Time `db:"created_at"`
}

// InsertPendingTransaction admits tx into the mempool inside an existing
// transaction, so mempool insertion and UTXO reservation commit atomically.
func (s *Storage) InsertPendingTransaction(tx *sql.Tx, p *PendingTransaction) error {
	_, err := tx.Exec(`
		INSERT INTO pending_transactions
			(id, tx_hash, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, input_utxo_ids, input_total, tx_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.TxHash, p.SenderWalletID, p.RecipientWalletID, p.Amount, p.Fee, p.Note, p.Signature, p.InputUTXOIDs, p.InputTotal, p.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("transaction %s already admitted", p.TxHash)
		}
		return fmt.Errorf("storage: insert pending transaction: %w", err)
	}
	return nil
}

// TakeBatch returns up to limit pending transactions in FIFO order
// (oldest tx timestamp first, then id), the candidate set for the next block.
func (s *Storage) TakeBatch(limit int) ([]*PendingTransaction, error) {
	var batch []*PendingTransaction
	err := s.db.Select(&batch, `
		SELECT id, tx_hash, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, input_utxo_ids, input_total, tx_timestamp, created_at
		FROM pending_transactions
		ORDER BY tx_timestamp ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: take batch: %w", err)
	}
	return batch, nil
}

// DeletePendingTransactions removes the given pending transactions, called
// once their contents have been durably committed into a mined block.
func (s *Storage) DeletePendingTransactions(tx *sql.Tx, ids []uuid.UUID) error {
	_, err := tx.Exec(`DELETE FROM pending_transactions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("storage: delete pending transactions: %w", err)
	}
	return nil
}

// DeletePendingTransaction removes a single pending transaction, used by
// the janitor after releasing its reservation.
func (s *Storage) DeletePendingTransaction(tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.Exec(`DELETE FROM pending_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete pending transaction: %w", err)
	}
	return nil
}

// PendingByHash looks up a pending transaction by its tx_hash.
func (s *Storage) PendingByHash(txHash string) (*PendingTransaction, error) {
	var p PendingTransaction
	err := s.db.Get(&p, `
		SELECT id, tx_hash, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, input_utxo_ids, input_total, tx_timestamp, created_at
		FROM pending_transactions WHERE tx_hash = $1
	`, txHash)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no pending transaction with hash %s", txHash)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: pending by hash: %w", err)
	}
	return &p, nil
}

// ExpiredPending identifies a pending transaction that outlived the
// mempool TTL, for the janitor to release.
type ExpiredPending struct {
	ID     uuid.UUID `db:"id"`
	TxHash string    `db:"tx_hash"`
}

// ExpiredReservations returns pending transactions admitted before
// olderThan, oldest first.
func (s *Storage) ExpiredReservations(olderThan time.Time) ([]ExpiredPending, error) {
	var expired []ExpiredPending
	err := s.db.Select(&expired, `
		SELECT id, tx_hash FROM pending_transactions WHERE created_at < $1 ORDER BY created_at ASC
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("storage: expired reservations: %w", err)
	}
	return expired, nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
