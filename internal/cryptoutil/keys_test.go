package cryptoutil

import "testing"

func TestSignVerifyRoundtrip(t *testing.T) {
	key, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("transfer 1.00000000 from a to b")

	sig, err := Sign(key, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(&key.PublicKey, msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key, _ := GenerateKeyPair()
	sig, _ := Sign(key, []byte("original"))
	if err := Verify(&key.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatal("expected verification failure for tampered message")
	}
}

func TestWalletIDDeterministic(t *testing.T) {
	key, _ := GenerateKeyPair()
	pub, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM: %v", err)
	}
	id1 := WalletID(pub)
	id2 := WalletID(pub)
	if id1 != id2 {
		t.Fatalf("WalletID not deterministic: %s != %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Fatalf("WalletID expected 64 hex chars, got %d", len(id1))
	}
}

func TestPrivateKeyPEMRoundtrip(t *testing.T) {
	key, _ := GenerateKeyPair()
	pemBytes := EncodePrivateKeyPEM(key)
	decoded, err := DecodePrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("DecodePrivateKeyPEM: %v", err)
	}
	if decoded.N.Cmp(key.N) != 0 {
		t.Fatal("decoded key does not match original")
	}
}
