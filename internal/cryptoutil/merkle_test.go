package cryptoutil

import "testing"

func TestMerkleRootEmpty(t *testing.T) {
	if got := MerkleRoot(nil); got != ZeroDigest {
		t.Fatalf("MerkleRoot(nil) = %s, want %s", got, ZeroDigest)
	}
}

func TestMerkleRootSingle(t *testing.T) {
	leaf := Sha256Hex([]byte("tx-1"))
	if got := MerkleRoot([]string{leaf}); got != leaf {
		t.Fatalf("MerkleRoot single leaf = %s, want %s", got, leaf)
	}
}

func TestMerkleRootDuplicatesOddCount(t *testing.T) {
	a := Sha256Hex([]byte("a"))
	b := Sha256Hex([]byte("b"))
	c := Sha256Hex([]byte("c"))

	got := MerkleRoot([]string{a, b, c})
	want := MerkleRoot([]string{a, b, c, c})
	if got != want {
		t.Fatalf("odd-count duplication mismatch: %s != %s", got, want)
	}
}

func TestMerkleRootDeterministicOrder(t *testing.T) {
	a := Sha256Hex([]byte("a"))
	b := Sha256Hex([]byte("b"))

	r1 := MerkleRoot([]string{a, b})
	r2 := MerkleRoot([]string{b, a})
	if r1 == r2 {
		t.Fatal("MerkleRoot must be order-sensitive")
	}
}
