package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/waleed-se/walletd/internal/apperr"
)

// UTXOStatus is the lifecycle state of an unspent transaction output.
type UTXOStatus string

const (
	UTXOAvailable UTXOStatus = "AVAILABLE"
	UTXOReserved  UTXOStatus = "RESERVED"
	UTXOSpent     UTXOStatus = "SPENT"
)

// UTXO mirrors the utxos table.
type UTXO struct {
	ID           uuid.UUID  `db:"id"`
	WalletID     string     `db:"wallet_id"`
	Amount       uint64     `db:"amount"`
	OriginTxHash string     `db:"origin_tx_hash"`
	OriginIndex  int        `db:"origin_index"`
	Status       UTXOStatus `db:"status"`
	ReservedBy   *uuid.UUID `db:"reserved_by"`
	CreatedAt    time.Time  `db:"created_at"`
	SpentAt      *time.Time `db:"spent_at"`
}

// CreateUTXO inserts a new available UTXO, typically a coinbase output or
// change output produced by a newly mined block.
func (s *Storage) CreateUTXO(tx *sql.Tx, u *UTXO) error {
	_, err := tx.Exec(`
		INSERT INTO utxos (id, wallet_id, amount, origin_tx_hash, origin_index, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.WalletID, u.Amount, u.OriginTxHash, u.OriginIndex, UTXOAvailable)
	if err != nil {
		return fmt.Errorf("storage: create utxo: %w", err)
	}
	return nil
}

// SelectForReservation locks and returns spendable UTXOs for wallet in
// descending-amount order, enough to cover at least amount, using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent admissions never block on
// each other's candidate rows.
func (s *Storage) SelectForReservation(tx *sql.Tx, walletID string, amount uint64) ([]*UTXO, error) {
	rows, err := tx.Query(`
		SELECT id, wallet_id, amount, origin_tx_hash, origin_index, status, reserved_by, created_at, spent_at
		FROM utxos
		WHERE wallet_id = $1 AND status = $2
		ORDER BY amount DESC, created_at ASC, origin_tx_hash ASC, origin_index ASC
		FOR UPDATE SKIP LOCKED
	`, walletID, UTXOAvailable)
	if err != nil {
		return nil, fmt.Errorf("storage: select utxos: %w", err)
	}
	defer rows.Close()

	var (
		candidates []*UTXO
		sum        uint64
	)
	for rows.Next() {
		u, err := scanUTXO(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, u)
		sum += u.Amount
		if sum >= amount {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: select utxos: %w", err)
	}

	if sum < amount {
		return nil, apperr.InsufficientFunds("wallet %s has %d available, needs %d", walletID, sum, amount)
	}

	return candidates, nil
}

// ReserveUTXOs marks the given UTXOs RESERVED, linking them to the pending
// transaction reservedBy. It re-checks each row is still AVAILABLE before
// transitioning it, surfacing apperr.KindConflict if another admission
// raced ahead.
func (s *Storage) ReserveUTXOs(tx *sql.Tx, ids []uuid.UUID, reservedBy uuid.UUID) error {
	res, err := tx.Exec(`
		UPDATE utxos SET status = $1, reserved_by = $2
		WHERE id = ANY($3) AND status = $4
	`, UTXOReserved, reservedBy, pq.Array(ids), UTXOAvailable)
	if err != nil {
		return fmt.Errorf("storage: reserve utxos: %w", err)
	}
	n, _ := res.RowsAffected()
	if int(n) != len(ids) {
		return apperr.Conflict("one or more UTXOs were no longer available to reserve")
	}
	return nil
}

// ReleaseReservation reverts RESERVED UTXOs tied to reservedBy back to
// AVAILABLE. Used by the janitor's TTL sweep; a failed admission rolls its
// database transaction back instead.
func (s *Storage) ReleaseReservation(tx *sql.Tx, reservedBy uuid.UUID) error {
	_, err := tx.Exec(`
		UPDATE utxos SET status = $1, reserved_by = NULL
		WHERE reserved_by = $2 AND status = $3
	`, UTXOAvailable, reservedBy, UTXOReserved)
	if err != nil {
		return fmt.Errorf("storage: release reservation: %w", err)
	}
	return nil
}

// SpendReserved finalizes RESERVED UTXOs tied to reservedBy as SPENT. Called
// only from within the miner's atomic commit.
func (s *Storage) SpendReserved(tx *sql.Tx, reservedBy uuid.UUID) error {
	_, err := tx.Exec(`
		UPDATE utxos SET status = $1, spent_at = now()
		WHERE reserved_by = $2 AND status = $3
	`, UTXOSpent, reservedBy, UTXOReserved)
	if err != nil {
		return fmt.Errorf("storage: spend reserved utxos: %w", err)
	}
	return nil
}

// BalanceAvailable sums AVAILABLE utxo amounts for wallet. This is the only
// trustworthy balance source; wallets.balance_cache is advisory.
func (s *Storage) BalanceAvailable(walletID string) (uint64, error) {
	var total sql.NullInt64
	err := s.db.Get(&total, `
		SELECT COALESCE(SUM(amount), 0) FROM utxos WHERE wallet_id = $1 AND status = $2
	`, walletID, UTXOAvailable)
	if err != nil {
		return 0, fmt.Errorf("storage: balance available: %w", err)
	}
	return uint64(total.Int64), nil
}

// ListUTXOs returns every UTXO owned by wallet regardless of status.
func (s *Storage) ListUTXOs(walletID string) ([]*UTXO, error) {
	var utxos []*UTXO
	err := s.db.Select(&utxos, `
		SELECT id, wallet_id, amount, origin_tx_hash, origin_index, status, reserved_by, created_at, spent_at
		FROM utxos WHERE wallet_id = $1 ORDER BY created_at DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("storage: list utxos: %w", err)
	}
	return utxos, nil
}

func scanUTXO(rows interface{ Scan(...interface{}) error }) (*UTXO, error) {
	var u UTXO
	if err := rows.Scan(&u.ID, &u.WalletID, &u.Amount, &u.OriginTxHash, &u.OriginIndex, &u.Status, &u.ReservedBy, &u.CreatedAt, &u.SpentAt); err != nil {
		return nil, fmt.Errorf("storage: scan utxo: %w", err)
	}
	return &u, nil
}
