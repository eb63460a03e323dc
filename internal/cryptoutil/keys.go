// Package cryptoutil implements the key, hash and Merkle primitives the
// wallet ledger is built on: RSA-2048 signing, SHA-256 digesting, wallet-id
// derivation and Merkle roots.
package cryptoutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// KeyBits is the RSA modulus size every wallet key is generated at.
const KeyBits = 2048

// GenerateKeyPair creates a new RSA-2048 key pair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM serialises a private key as PKCS#1 PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return pem.EncodeToMemory(block)
}

// DecodePrivateKeyPEM parses a PKCS#1 PEM-encoded private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("cryptoutil: invalid PEM private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: parse private key: %w", err)
	}
	return key, nil
}

// EncodePublicKeyPEM serialises a public key as PKIX PEM.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

// DecodePublicKeyPEM parses a PKIX PEM-encoded public key.
func DecodePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("cryptoutil: invalid PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptoutil: public key is not RSA")
	}
	return rsaPub, nil
}

// WalletID derives a wallet's identity as the hex SHA-256 digest of its
// PEM-encoded public key.
func WalletID(publicKeyPEM []byte) string {
	sum := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(sum[:])
}

// Sign produces a PKCS#1 v1.5 signature over the SHA-256 digest of
// message, returned as lowercase hex.
func Sign(key *rsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("cryptoutil: sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex-encoded PKCS#1 v1.5 signature over message against
// pub. A non-nil error means the signature does not verify.
func Verify(pub *rsa.PublicKey, message []byte, signatureHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("cryptoutil: decode signature: %w", err)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("cryptoutil: signature verification failed: %w", err)
	}
	return nil
}

// Sha256Hex returns the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
