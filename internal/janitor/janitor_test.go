package janitor

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping janitor integration test")
	}
	s, err := storage.New(storage.DefaultConfig(url, 20))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSweepReleasesExpiredReservations(t *testing.T) {
	s := newTestStorage(t)

	sender := "wallet-" + uuid.NewString()
	recipient := "wallet-" + uuid.NewString()
	for _, id := range []string{sender, recipient} {
		if err := s.CreateWallet(&storage.Wallet{WalletID: id, PublicKeyPEM: "pem", EncryptedPrivateKey: []byte("ct"), Nonce: []byte("n")}); err != nil {
			t.Fatalf("CreateWallet: %v", err)
		}
	}

	dbtx, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u := &storage.UTXO{ID: uuid.New(), WalletID: sender, Amount: 100, OriginTxHash: uuid.NewString(), OriginIndex: 0}
	if err := s.CreateUTXO(dbtx, u); err != nil {
		t.Fatalf("CreateUTXO: %v", err)
	}
	pendingID := uuid.New()
	if err := s.InsertPendingTransaction(dbtx, &storage.PendingTransaction{
		ID:                pendingID,
		TxHash:            uuid.NewString(),
		SenderWalletID:    sender,
		RecipientWalletID: recipient,
		Amount:            90,
		Fee:               1,
		Signature:         "sig",
		InputUTXOIDs:      storage.UUIDArray{u.ID},
		InputTotal:        100,
		Timestamp:         time.Now().Unix(),
	}); err != nil {
		t.Fatalf("InsertPendingTransaction: %v", err)
	}
	if err := s.ReserveUTXOs(dbtx, []uuid.UUID{u.ID}, pendingID); err != nil {
		t.Fatalf("ReserveUTXOs: %v", err)
	}
	if err := dbtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A zero TTL makes the freshly admitted row immediately expired.
	j := New(s, time.Minute, 0)
	if err := j.sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	balance, err := s.BalanceAvailable(sender)
	if err != nil {
		t.Fatalf("BalanceAvailable: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance after sweep = %d, want 100 (reservation released)", balance)
	}
	if _, err := s.PendingByHash("missing"); err == nil {
		t.Fatal("expected lookup of unknown hash to fail")
	}
	expired, err := s.ExpiredReservations(time.Now())
	if err != nil {
		t.Fatalf("ExpiredReservations: %v", err)
	}
	for _, e := range expired {
		if e.ID == pendingID {
			t.Fatal("swept pending transaction still present")
		}
	}
}
