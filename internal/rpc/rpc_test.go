package rpc

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/storage"
)

func TestWriteErrMapsKindsToStatus(t *testing.T) {
	cases := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, 400},
		{apperr.KindAuth, 401},
		{apperr.KindNotFound, 404},
		{apperr.KindConflict, 409},
		{apperr.KindInsufficientFunds, 400},
		{apperr.KindTransient, 503},
		{apperr.KindFatal, 500},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeErr(rec, apperr.New(c.kind, "boom"))
		if rec.Code != c.want {
			t.Errorf("kind %s: status = %d, want %d", c.kind, rec.Code, c.want)
		}
	}
}

func TestWriteOKWrapsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOK(rec, map[string]string{"a": "b"})
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got == "" {
		t.Fatal("expected non-empty body")
	}
}

func TestWSHubDeliversBlockEvent(t *testing.T) {
	hub := NewWSHub()
	send := make(chan []byte, sendBuffer)
	hub.attach(send)

	hub.BroadcastBlock(&storage.Block{Height: 7, BlockHash: "abc", Nonce: 3}, 2)

	select {
	case raw := <-send:
		var msg struct {
			Type string     `json:"type"`
			Data BlockEvent `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != "block_mined" {
			t.Errorf("type = %q, want block_mined", msg.Type)
		}
		if msg.Data.Height != 7 || msg.Data.Transactions != 2 {
			t.Errorf("unexpected payload: %+v", msg.Data)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestWSHubDropsSlowClient(t *testing.T) {
	hub := NewWSHub()
	send := make(chan []byte) // unbuffered: first push overflows immediately
	hub.attach(send)

	hub.BroadcastTx(&storage.ConfirmedTransaction{TxHash: "t1"})

	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("client count = %d, want 0 after overflow drop", n)
	}
	if _, ok := <-send; ok {
		t.Fatal("expected send channel to be closed")
	}
}
