package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/miner"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/txservice"
	"github.com/waleed-se/walletd/pkg/money"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.Validation("invalid JSON body"))
		return
	}
	user, err := s.authSvc.Register(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"user_id": user.ID.String(), "wallet_id": user.WalletID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.Validation("invalid JSON body"))
		return
	}
	token, err := s.authSvc.Login(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"token": token})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.Validation("invalid JSON body"))
		return
	}
	if err := s.authSvc.VerifyOTP(req.Email, req.Code); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]bool{"verified": true})
}

type createTransactionRequest struct {
	RecipientWalletID string `json:"recipient_wallet_id"`
	Amount            string `json:"amount"`
	Note              string `json:"note"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.Validation("invalid JSON body"))
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeErr(w, apperr.Validation("invalid amount: %v", err))
		return
	}

	pending, err := s.txs.Admit(txservice.TransferRequest{
		SenderWalletID:    claimsFrom(r).WalletID,
		RecipientWalletID: req.RecipientWalletID,
		Amount:            amount,
		Note:              req.Note,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, transactionResponse(pending))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txHash := r.PathValue("tx_hash")
	if confirmed, err := s.store.ConfirmedByHash(txHash); err == nil {
		writeOK(w, confirmedResponse(confirmed))
		return
	}
	pending, err := s.store.PendingByHash(txHash)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, transactionResponse(pending))
}

func (s *Server) handleWalletUTXOs(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("id")
	if _, err := s.store.GetWallet(walletID); err != nil {
		writeErr(w, err)
		return
	}
	utxos, err := s.store.ListUTXOs(walletID)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := make([]map[string]interface{}, len(utxos))
	for i, u := range utxos {
		resp[i] = utxoResponse(u)
	}
	writeOK(w, resp)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("id")
	if _, err := s.store.GetWallet(walletID); err != nil {
		writeErr(w, err)
		return
	}
	balance, err := s.store.BalanceAvailable(walletID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"wallet_id": walletID, "balance": money.Format(balance)})
}

type addBeneficiaryRequest struct {
	WalletID string `json:"wallet_id"`
	Label    string `json:"label"`
}

func (s *Server) handleAddBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req addBeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.Validation("invalid JSON body"))
		return
	}
	if req.Label == "" {
		writeErr(w, apperr.Validation("label is required"))
		return
	}
	if _, err := s.store.GetWallet(req.WalletID); err != nil {
		writeErr(w, err)
		return
	}
	userID, err := uuid.Parse(claimsFrom(r).UserID)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindAuth, "malformed user id in token"))
		return
	}
	b := &storage.Beneficiary{ID: uuid.New(), UserID: userID, WalletID: req.WalletID, Label: req.Label}
	if err := s.store.CreateBeneficiary(b); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"id": b.ID.String(), "wallet_id": b.WalletID, "label": b.Label})
}

func (s *Server) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(claimsFrom(r).UserID)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindAuth, "malformed user id in token"))
		return
	}
	bs, err := s.store.ListBeneficiaries(userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := make([]map[string]string, len(bs))
	for i, b := range bs {
		resp[i] = map[string]string{"id": b.ID.String(), "wallet_id": b.WalletID, "label": b.Label}
	}
	writeOK(w, resp)
}

func (s *Server) handleDeleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, apperr.Validation("beneficiary id must be a uuid"))
		return
	}
	userID, err := uuid.Parse(claimsFrom(r).UserID)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindAuth, "malformed user id in token"))
		return
	}
	if err := s.store.DeleteBeneficiary(userID, id); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]bool{"deleted": true})
}

func (s *Server) handleMineBlock(w http.ResponseWriter, r *http.Request) {
	result, err := s.miner.MineBlock(claimsFrom(r).WalletID)
	if err != nil {
		if err == miner.ErrEmptyMempool {
			writeOK(w, map[string]string{"status": "EMPTY_MEMPOOL"})
			return
		}
		writeErr(w, err)
		return
	}

	s.wsHub.BroadcastBlock(result.Block, result.Transactions)
	for _, c := range result.Confirmed {
		if c.IsCoinbase {
			continue
		}
		s.wsHub.BroadcastTx(c)
	}
	writeOK(w, map[string]interface{}{
		"block":        blockResponse(result.Block),
		"transactions": result.Transactions,
	})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	blocks, err := s.store.ListBlocks(offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := make([]map[string]interface{}, len(blocks))
	for i, b := range blocks {
		resp[i] = blockResponse(b)
	}
	writeOK(w, resp)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	// The id segment is either a height or a 64-hex block hash.
	id := r.PathValue("id")
	var (
		block *storage.Block
		err   error
	)
	if height, parseErr := strconv.ParseInt(id, 10, 64); parseErr == nil {
		block, err = s.store.BlockByHeight(height)
	} else {
		block, err = s.store.BlockByHash(id)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	txs, err := s.store.ConfirmedTransactionsForBlock(block.Height)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := blockResponse(block)
	confirmedTxs := make([]map[string]interface{}, len(txs))
	for i, t := range txs {
		confirmedTxs[i] = confirmedResponse(t)
	}
	resp["transactions"] = confirmedTxs
	writeOK(w, resp)
}

func (s *Server) handleChainInfo(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.GetMeta()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"height":           meta.Height,
		"tip_hash":         meta.TipHash,
		"total_supply":     money.Format(meta.TotalSupply),
		"current_reward":   money.Format(meta.CurrentReward),
		"halving_interval": meta.HalvingInterval,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().Ping(); err != nil {
		writeErr(w, apperr.Transient("database unreachable", err))
		return
	}
	writeOK(w, map[string]string{"status": "ok"})
}

func transactionResponse(p *storage.PendingTransaction) map[string]interface{} {
	return map[string]interface{}{
		"tx_hash":             p.TxHash,
		"sender_wallet_id":    p.SenderWalletID,
		"recipient_wallet_id": p.RecipientWalletID,
		"amount":              money.Format(p.Amount),
		"fee":                 money.Format(p.Fee),
		"note":                p.Note,
		"timestamp":           p.Timestamp,
		"status":              "PENDING",
		"created_at":          p.CreatedAt,
	}
}

func confirmedResponse(c *storage.ConfirmedTransaction) map[string]interface{} {
	return map[string]interface{}{
		"tx_hash":             c.TxHash,
		"block_height":        c.BlockHeight,
		"sender_wallet_id":    c.SenderWalletID,
		"recipient_wallet_id": c.RecipientWalletID,
		"amount":              money.Format(c.Amount),
		"fee":                 money.Format(c.Fee),
		"note":                c.Note,
		"timestamp":           c.Timestamp,
		"is_coinbase":         c.IsCoinbase,
		"status":              "CONFIRMED",
	}
}

func utxoResponse(u *storage.UTXO) map[string]interface{} {
	resp := map[string]interface{}{
		"transaction_hash": u.OriginTxHash,
		"output_index":     u.OriginIndex,
		"amount":           money.Format(u.Amount),
		"state":            u.Status,
		"created_at":       u.CreatedAt,
	}
	if u.ReservedBy != nil {
		resp["reserved_by"] = u.ReservedBy.String()
	}
	if u.SpentAt != nil {
		resp["spent_at"] = u.SpentAt
	}
	return resp
}

func blockResponse(b *storage.Block) map[string]interface{} {
	return map[string]interface{}{
		"height":          b.Height,
		"block_hash":      b.BlockHash,
		"previous_hash":   b.PreviousHash,
		"merkle_root":     b.MerkleRoot,
		"nonce":           b.Nonce,
		"timestamp":       b.Timestamp,
		"miner_wallet_id": b.MinerWalletID,
		"mined_at":        b.MinedAt,
	}
}
