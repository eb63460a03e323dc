// Package rpc provides the REST transport for walletd (C12): a JSON
// envelope over net/http, a gorilla/websocket event hub, and the auth
// middleware gating mutating routes.
package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/auth"
	"github.com/waleed-se/walletd/internal/miner"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/txservice"
	"github.com/waleed-se/walletd/internal/walletsvc"
	"github.com/waleed-se/walletd/pkg/logging"
)

// Server is walletd's REST + WebSocket listener.
type Server struct {
	store   *storage.Storage
	wallets *walletsvc.Service
	txs     *txservice.Service
	miner   *miner.Miner
	authSvc *auth.Service
	log     *logging.Logger
	wsHub   *WSHub

	server   *http.Server
	listener net.Listener
}

// NewServer builds a Server wiring every component the routes below call
// into.
func NewServer(store *storage.Storage, wallets *walletsvc.Service, txs *txservice.Service, m *miner.Miner, authSvc *auth.Service) *Server {
	return &Server{
		store:   store,
		wallets: wallets,
		txs:     txs,
		miner:   m,
		authSvc: authSvc,
		log:     logging.GetDefault().Component("rpc"),
		wsHub:   NewWSHub(),
	}
}

// Start binds addr and begins serving. It returns once the listener is up;
// serving happens on a background goroutine.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return apperr.Wrap(apperr.KindFatal, "listen on "+addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/verify-otp", s.handleVerifyOTP)

	mux.HandleFunc("POST /transactions/create", s.requireAuth(s.handleCreateTransaction))
	mux.HandleFunc("GET /transactions/{tx_hash}", s.handleGetTransaction)

	mux.HandleFunc("GET /wallet/{id}/utxos", s.handleWalletUTXOs)
	mux.HandleFunc("GET /wallet/{id}/balance", s.handleWalletBalance)

	mux.HandleFunc("POST /mining/mine-block", s.requireAuth(s.handleMineBlock))

	mux.HandleFunc("POST /beneficiaries", s.requireAuth(s.handleAddBeneficiary))
	mux.HandleFunc("GET /beneficiaries", s.requireAuth(s.handleListBeneficiaries))
	mux.HandleFunc("DELETE /beneficiaries/{id}", s.requireAuth(s.handleDeleteBeneficiary))

	mux.HandleFunc("GET /blockchain/blocks", s.handleListBlocks)
	mux.HandleFunc("GET /blockchain/blocks/{id}", s.handleGetBlock)
	mux.HandleFunc("GET /blockchain/info", s.handleChainInfo)

	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("rpc server error", "error", err)
		}
	}()

	s.log.Info("rpc server started", "addr", addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// envelope is the response shape every route writes, per spec.md §6.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindInsufficientFunds:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	case apperr.KindFatal:
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Message: err.Error()})
}

type ctxKey int

const claimsCtxKey ctxKey = 0

// requireAuth wraps a handler so it only runs for requests carrying a valid
// bearer token, stashing the parsed claims in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeErr(w, apperr.New(apperr.KindAuth, "missing bearer token"))
			return
		}
		claims, err := s.authSvc.VerifyToken(token)
		if err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
		next(w, r.WithContext(ctx))
	}
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsCtxKey).(*auth.Claims)
	return claims
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
