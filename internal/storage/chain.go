package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
)

// Block mirrors the blocks table. Timestamp is the epoch-seconds value
// folded into the block hash; MinedAt is a separate DB-assigned wall-clock
// column kept only for audit/display.
type Block struct {
	Height           int64     `db:"height"`
	BlockHash        string    `db:"block_hash"`
	PreviousHash     string    `db:"previous_hash"`
	MerkleRoot       string    `db:"merkle_root"`
	Nonce            int64     `db:"nonce"`
	DifficultyPrefix string    `db:"difficulty_prefix"`
	MinerWalletID    string    `db:"miner_wallet_id"`
	Timestamp        int64     `db:"block_timestamp"`
	MinedAt          time.Time `db:"mined_at"`
}

// ConfirmedTransaction mirrors the confirmed_transactions table. It carries
// the same identity fields as the pending transaction it was mined from
// (including fee and the timestamp folded into tx_hash), plus its position
// in the chain. Coinbase rows have an empty sender and a zero fee.
type ConfirmedTransaction struct {
	ID                uuid.UUID `db:"id"`
	TxHash            string    `db:"tx_hash"`
	BlockHeight       int64     `db:"block_height"`
	PositionInBlock   int       `db:"position_in_block"`
	SenderWalletID    string    `db:"sender_wallet_id"`
	RecipientWalletID string    `db:"recipient_wallet_id"`
	Amount            uint64    `db:"amount"`
	Fee               uint64    `db:"fee"`
	Note              string    `db:"note"`
	Signature         string    `db:"signature"`
	Timestamp         int64     `db:"tx_timestamp"`
	IsCoinbase        bool      `db:"is_coinbase"`
}

// Tip returns the highest block in the chain store, or (nil, nil) if the
// chain is empty (genesis has not yet been created).
func (s *Storage) Tip() (*Block, error) {
	var b Block
	err := s.db.Get(&b, `
		SELECT height, block_hash, previous_hash, merkle_root, nonce, difficulty_prefix, miner_wallet_id, block_timestamp, mined_at
		FROM blocks ORDER BY height DESC LIMIT 1
	`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: chain tip: %w", err)
	}
	return &b, nil
}

// BlockByHeight returns a single block.
func (s *Storage) BlockByHeight(height int64) (*Block, error) {
	var b Block
	err := s.db.Get(&b, `
		SELECT height, block_hash, previous_hash, merkle_root, nonce, difficulty_prefix, miner_wallet_id, block_timestamp, mined_at
		FROM blocks WHERE height = $1
	`, height)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no block at height %d", height)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: block by height: %w", err)
	}
	return &b, nil
}

// BlockByHash returns the block carrying the given header hash.
func (s *Storage) BlockByHash(hash string) (*Block, error) {
	var b Block
	err := s.db.Get(&b, `
		SELECT height, block_hash, previous_hash, merkle_root, nonce, difficulty_prefix, miner_wallet_id, block_timestamp, mined_at
		FROM blocks WHERE block_hash = $1
	`, hash)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no block with hash %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: block by hash: %w", err)
	}
	return &b, nil
}

// ListBlocks returns blocks in ascending height order, for pagination.
func (s *Storage) ListBlocks(offset, limit int) ([]*Block, error) {
	var blocks []*Block
	err := s.db.Select(&blocks, `
		SELECT height, block_hash, previous_hash, merkle_root, nonce, difficulty_prefix, miner_wallet_id, block_timestamp, mined_at
		FROM blocks ORDER BY height ASC OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list blocks: %w", err)
	}
	return blocks, nil
}

// AppendBlock inserts a new block row, asserting the chain's current tip is
// still at expectedPrevHeight (the STALE_TIP guard against a concurrent
// miner having already advanced the chain).
func (s *Storage) AppendBlock(tx *sql.Tx, b *Block, expectedPrevHeight int64) error {
	res, err := tx.Exec(`
		INSERT INTO blocks (height, block_hash, previous_hash, merkle_root, nonce, difficulty_prefix, miner_wallet_id, block_timestamp)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE (SELECT COALESCE(MAX(height), -1) FROM blocks) = $9
	`, b.Height, b.BlockHash, b.PreviousHash, b.MerkleRoot, b.Nonce, b.DifficultyPrefix, b.MinerWalletID, b.Timestamp, expectedPrevHeight)
	if err != nil {
		return fmt.Errorf("storage: append block: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Conflict("chain tip advanced concurrently, expected height %d", expectedPrevHeight)
	}
	return nil
}

// InsertConfirmedTransactions writes the block's transaction set.
func (s *Storage) InsertConfirmedTransactions(tx *sql.Tx, txs []*ConfirmedTransaction) error {
	for _, c := range txs {
		_, err := tx.Exec(`
			INSERT INTO confirmed_transactions
				(id, tx_hash, block_height, position_in_block, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, tx_timestamp, is_coinbase)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, c.ID, c.TxHash, c.BlockHeight, c.PositionInBlock, c.SenderWalletID, c.RecipientWalletID, c.Amount, c.Fee, c.Note, c.Signature, c.Timestamp, c.IsCoinbase)
		if err != nil {
			return fmt.Errorf("storage: insert confirmed transaction: %w", err)
		}
	}
	return nil
}

// ConfirmedByHash looks up a confirmed transaction by hash.
func (s *Storage) ConfirmedByHash(txHash string) (*ConfirmedTransaction, error) {
	var c ConfirmedTransaction
	err := s.db.Get(&c, `
		SELECT id, tx_hash, block_height, position_in_block, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, tx_timestamp, is_coinbase
		FROM confirmed_transactions WHERE tx_hash = $1
	`, txHash)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no confirmed transaction with hash %s", txHash)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: confirmed by hash: %w", err)
	}
	return &c, nil
}

// ConfirmedTransactionsForBlock returns a block's transactions, ordered by
// their original position (coinbase first).
func (s *Storage) ConfirmedTransactionsForBlock(height int64) ([]*ConfirmedTransaction, error) {
	var txs []*ConfirmedTransaction
	err := s.db.Select(&txs, `
		SELECT id, tx_hash, block_height, position_in_block, sender_wallet_id, recipient_wallet_id, amount, fee, note, signature, tx_timestamp, is_coinbase
		FROM confirmed_transactions WHERE block_height = $1 ORDER BY position_in_block ASC
	`, height)
	if err != nil {
		return nil, fmt.Errorf("storage: confirmed transactions for block: %w", err)
	}
	return txs, nil
}
