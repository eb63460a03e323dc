package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/pkg/logging"
	"github.com/waleed-se/walletd/pkg/money"
)

// The WebSocket surface is push-only: the read-only frontend connects to
// /ws and receives every mined block and confirmed transfer as it commits.
// Clients never send anything meaningful upstream.

// BlockEvent is the payload of a block_mined push.
type BlockEvent struct {
	Height        int64  `json:"height"`
	BlockHash     string `json:"block_hash"`
	PreviousHash  string `json:"previous_hash"`
	MerkleRoot    string `json:"merkle_root"`
	Nonce         int64  `json:"nonce"`
	MinerWalletID string `json:"miner_wallet_id"`
	Timestamp     int64  `json:"timestamp"`
	Transactions  int    `json:"transactions"`
}

// TxEvent is the payload of a tx_confirmed push.
type TxEvent struct {
	TxHash            string `json:"tx_hash"`
	BlockHeight       int64  `json:"block_height"`
	SenderWalletID    string `json:"sender_wallet_id"`
	RecipientWalletID string `json:"recipient_wallet_id"`
	Amount            string `json:"amount"`
	Fee               string `json:"fee"`
	Note              string `json:"note,omitempty"`
}

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   int64       `json:"at"`
}

// sendBuffer bounds how far a slow client may fall behind before it is
// dropped.
const sendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHub fans committed-ledger events out to every connected frontend.
type WSHub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	log     *logging.Logger
}

// NewWSHub builds an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[chan []byte]struct{}),
		log:     logging.GetDefault().Component("ws"),
	}
}

// BroadcastBlock pushes a block_mined event to every client.
func (h *WSHub) BroadcastBlock(b *storage.Block, txCount int) {
	h.push("block_mined", BlockEvent{
		Height:        b.Height,
		BlockHash:     b.BlockHash,
		PreviousHash:  b.PreviousHash,
		MerkleRoot:    b.MerkleRoot,
		Nonce:         b.Nonce,
		MinerWalletID: b.MinerWalletID,
		Timestamp:     b.Timestamp,
		Transactions:  txCount,
	})
}

// BroadcastTx pushes a tx_confirmed event to every client.
func (h *WSHub) BroadcastTx(c *storage.ConfirmedTransaction) {
	h.push("tx_confirmed", TxEvent{
		TxHash:            c.TxHash,
		BlockHeight:       c.BlockHeight,
		SenderWalletID:    c.SenderWalletID,
		RecipientWalletID: c.RecipientWalletID,
		Amount:            money.Format(c.Amount),
		Fee:               money.Format(c.Fee),
		Note:              c.Note,
	})
}

// push serializes the event once and hands it to every client's send
// buffer. A client whose buffer is full is dropped; its write loop exits
// when the channel closes.
func (h *WSHub) push(typ string, data interface{}) {
	msg, err := json.Marshal(wsMessage{Type: typ, Data: data, At: time.Now().Unix()})
	if err != nil {
		h.log.Error("marshal event", "type", typ, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for send := range h.clients {
		select {
		case send <- msg:
		default:
			delete(h.clients, send)
			close(send)
			h.log.Warn("dropping slow websocket client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHub) attach(send chan []byte) {
	h.mu.Lock()
	h.clients[send] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) detach(send chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[send]; ok {
		delete(h.clients, send)
		close(send)
	}
	h.mu.Unlock()
}

// handleWS upgrades the connection and streams events until the client
// disconnects or falls too far behind.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan []byte, sendBuffer)
	s.wsHub.attach(send)

	// Drain and discard anything the client writes; a read error is the
	// disconnect signal.
	go func() {
		defer s.wsHub.detach(send)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go writeLoop(conn, send)
}

func writeLoop(conn *websocket.Conn, send chan []byte) {
	ping := time.NewTicker(30 * time.Second)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
