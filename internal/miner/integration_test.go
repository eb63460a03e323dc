package miner

import (
	"crypto/rand"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/txservice"
	"github.com/waleed-se/walletd/internal/walletsvc"
)

// TestAdmitMineBalanceDeltas exercises the full transfer flow against a real
// database: seed a sender, admit a transfer, mine one block, then check the
// sender, recipient and miner balances moved by exactly amount+fee, the
// transferred amount, and at least reward+fee respectively.
func TestAdmitMineBalanceDeltas(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping mining integration test")
	}
	s, err := storage.New(storage.DefaultConfig(url, 20))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	key := make([]byte, 32)
	rand.Read(key)
	wallets, err := walletsvc.New(s, key)
	if err != nil {
		t.Fatalf("walletsvc.New: %v", err)
	}

	const fee = 10000000 // 0.1
	txs := txservice.New(s, wallets, fee, 15*time.Minute)

	// Difficulty 1 keeps the nonce search to ~16 iterations.
	m := New(s, txs, 500, 1)
	if err := m.EnsureGenesis(50000000000, 5); err != nil {
		t.Fatalf("EnsureGenesis: %v", err)
	}

	alice, err := wallets.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet alice: %v", err)
	}
	bob, err := wallets.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet bob: %v", err)
	}
	carol, err := wallets.CreateWallet()
	if err != nil {
		t.Fatalf("CreateWallet carol: %v", err)
	}

	seed, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.CreateUTXO(seed, &storage.UTXO{
		ID: uuid.New(), WalletID: alice.WalletID, Amount: 10000000000, OriginTxHash: uuid.NewString(), OriginIndex: 0,
	}); err != nil {
		t.Fatalf("CreateUTXO: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit seed: %v", err)
	}

	const amount = 3000000000 // 30
	pending, err := txs.Admit(txservice.TransferRequest{
		SenderWalletID:    alice.WalletID,
		RecipientWalletID: bob.WalletID,
		Amount:            amount,
		Note:              "lunch",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	metaBefore, err := s.GetMeta()
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	tipBefore, err := s.Tip()
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}

	result, err := m.MineBlock(carol.WalletID)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}

	if result.Block.PreviousHash != tipBefore.BlockHash {
		t.Fatalf("previous_hash = %q, want %q", result.Block.PreviousHash, tipBefore.BlockHash)
	}
	if result.Block.Height != tipBefore.Height+1 {
		t.Fatalf("height = %d, want %d", result.Block.Height, tipBefore.Height+1)
	}
	if !strings.HasPrefix(result.Block.BlockHash, "0") {
		t.Fatalf("block hash %q does not satisfy the difficulty prefix", result.Block.BlockHash)
	}

	if _, err := s.ConfirmedByHash(pending.TxHash); err != nil {
		t.Fatalf("transfer not confirmed: %v", err)
	}
	if _, err := s.PendingByHash(pending.TxHash); err == nil {
		t.Fatal("transfer still pending after being mined")
	}

	aliceBalance, err := s.BalanceAvailable(alice.WalletID)
	if err != nil {
		t.Fatalf("BalanceAvailable alice: %v", err)
	}
	if want := uint64(10000000000 - amount - fee); aliceBalance != want {
		t.Fatalf("alice balance = %d, want %d", aliceBalance, want)
	}

	bobBalance, err := s.BalanceAvailable(bob.WalletID)
	if err != nil {
		t.Fatalf("BalanceAvailable bob: %v", err)
	}
	if bobBalance != amount {
		t.Fatalf("bob balance = %d, want %d", bobBalance, amount)
	}

	// Other tests may leave verifiable mempool rows behind; carol collects
	// their fees too, so the bound is a floor rather than an equality.
	carolBalance, err := s.BalanceAvailable(carol.WalletID)
	if err != nil {
		t.Fatalf("BalanceAvailable carol: %v", err)
	}
	if carolBalance < metaBefore.CurrentReward+fee {
		t.Fatalf("carol balance = %d, want at least reward+fee = %d", carolBalance, metaBefore.CurrentReward+fee)
	}

	metaAfter, err := s.GetMeta()
	if err != nil {
		t.Fatalf("GetMeta after: %v", err)
	}
	if metaAfter.Height != result.Block.Height {
		t.Fatalf("meta height = %d, want %d", metaAfter.Height, result.Block.Height)
	}
	if metaAfter.TipHash != result.Block.BlockHash {
		t.Fatalf("meta tip = %q, want %q", metaAfter.TipHash, result.Block.BlockHash)
	}
}
