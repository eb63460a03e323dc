// Package walletsvc owns wallet creation and server-side custody of each
// wallet's RSA private key, encrypted at rest under the service-wide
// AES-256-GCM key.
package walletsvc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/cryptoutil"
	"github.com/waleed-se/walletd/internal/storage"
)

// Service generates wallets and signs on their behalf, decrypting each
// wallet's private key only for the duration of a single signature.
type Service struct {
	store *storage.Storage
	key   []byte // 32-byte AES-256 key, held only in memory
}

// New builds a Service. aesKey must be exactly 32 bytes.
func New(store *storage.Storage, aesKey []byte) (*Service, error) {
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("walletsvc: AES key must be 32 bytes, got %d", len(aesKey))
	}
	return &Service{store: store, key: aesKey}, nil
}

// CreateWallet generates a fresh RSA-2048 key pair, derives the wallet id
// and persists the encrypted private key.
func (s *Service) CreateWallet() (*storage.Wallet, error) {
	priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "generate wallet key pair", err)
	}

	pubPEM, err := cryptoutil.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "encode public key", err)
	}

	walletID := cryptoutil.WalletID(pubPEM)

	ciphertext, nonce, err := s.encrypt(cryptoutil.EncodePrivateKeyPEM(priv))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "encrypt wallet private key", err)
	}

	w := &storage.Wallet{
		WalletID:            walletID,
		PublicKeyPEM:        string(pubPEM),
		EncryptedPrivateKey: ciphertext,
		Nonce:               nonce,
	}
	if err := s.store.CreateWallet(w); err != nil {
		return nil, err
	}
	return w, nil
}

// SignFor decrypts wallet's private key, signs message, and immediately
// clears the decrypted key material. The plaintext key never touches a log
// line or error message.
func (s *Service) SignFor(walletID string, message []byte) (string, error) {
	w, err := s.store.GetWallet(walletID)
	if err != nil {
		return "", err
	}

	plaintext, err := s.decrypt(w.EncryptedPrivateKey, w.Nonce)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "decrypt wallet private key", err)
	}
	defer secureClear(plaintext)

	priv, err := cryptoutil.DecodePrivateKeyPEM(plaintext)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "parse wallet private key", err)
	}

	sig, err := cryptoutil.Sign(priv, message)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "sign transaction", err)
	}
	return sig, nil
}

// PublicKey returns a wallet's RSA public key for signature verification.
func (s *Service) PublicKey(walletID string) (*rsa.PublicKey, error) {
	w, err := s.store.GetWallet(walletID)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecodePublicKeyPEM([]byte(w.PublicKeyPEM))
}

func (s *Service) encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

func (s *Service) decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func secureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
