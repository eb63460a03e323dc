package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/waleed-se/walletd/internal/apperr"
)

// Wallet mirrors the wallets table. EncryptedPrivateKey is the AES-256-GCM
// ciphertext of the PKCS#1-encoded RSA private key; Nonce is its GCM nonce.
type Wallet struct {
	WalletID            string    `db:"wallet_id"`
	PublicKeyPEM        string    `db:"public_key_pem"`
	EncryptedPrivateKey []byte    `db:"encrypted_private_key"`
	Nonce               []byte    `db:"nonce"`
	BalanceCache        uint64    `db:"balance_cache"`
	CreatedAt           time.Time `db:"created_at"`
}

// CreateWallet persists a newly generated wallet.
func (s *Storage) CreateWallet(w *Wallet) error {
	_, err := s.db.Exec(`
		INSERT INTO wallets (wallet_id, public_key_pem, encrypted_private_key, nonce, balance_cache)
		VALUES ($1, $2, $3, $4, 0)
	`, w.WalletID, w.PublicKeyPEM, w.EncryptedPrivateKey, w.Nonce)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("wallet %s already exists", w.WalletID)
		}
		return fmt.Errorf("storage: create wallet: %w", err)
	}
	return nil
}

// GetWallet loads a wallet by id.
func (s *Storage) GetWallet(walletID string) (*Wallet, error) {
	var w Wallet
	err := s.db.Get(&w, `
		SELECT wallet_id, public_key_pem, encrypted_private_key, nonce, balance_cache, created_at
		FROM wallets WHERE wallet_id = $1
	`, walletID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no wallet %s", walletID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get wallet: %w", err)
	}
	return &w, nil
}

// RefreshBalanceCache recomputes the advisory balance_cache column from the
// wallet's AVAILABLE UTXOs, called inside the miner's commit transaction for
// every wallet a block touched. Never used as a source of truth for spend
// decisions.
func (s *Storage) RefreshBalanceCache(tx *sql.Tx, walletID string) error {
	_, err := tx.Exec(`
		UPDATE wallets SET balance_cache = (
			SELECT COALESCE(SUM(amount), 0) FROM utxos
			WHERE wallet_id = $1 AND status = 'AVAILABLE'
		)
		WHERE wallet_id = $1
	`, walletID)
	if err != nil {
		return fmt.Errorf("storage: refresh balance cache: %w", err)
	}
	return nil
}
