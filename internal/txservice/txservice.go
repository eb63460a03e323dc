// Package txservice implements the transaction admission pipeline: it
// validates a signed transfer, reserves the UTXOs that fund it, and admits
// it to the mempool as one atomic unit.
package txservice

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/cryptoutil"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/walletsvc"
	"github.com/waleed-se/walletd/pkg/money"
)

// maxReservationAttempts bounds step 6's retry-on-CONFLICT loop: a losing
// admission re-selects from scratch rather than failing outright the first
// time another admission raced it for the same UTXOs.
const maxReservationAttempts = 3

// Service is the C4 Transaction Service: the only path by which a transfer
// enters the mempool.
type Service struct {
	store     *storage.Storage
	wallets   *walletsvc.Service
	fee       uint64
	clockSkew time.Duration
}

// New builds a Service. fee is the flat per-transaction fee, in base units,
// charged against the sender and ultimately paid to the miner. clockSkew is
// stored on the Service; Admit does not check any timestamp against it,
// because the transaction timestamp is generated by the server at admission.
func New(store *storage.Storage, wallets *walletsvc.Service, fee uint64, clockSkew time.Duration) *Service {
	return &Service{store: store, wallets: wallets, fee: fee, clockSkew: clockSkew}
}

// TransferRequest is the caller-supplied intent; the signature is produced
// server-side by walletsvc after the caller authenticates, never supplied
// by the client directly.
type TransferRequest struct {
	SenderWalletID    string
	RecipientWalletID string
	Amount            uint64
	Note              string
}

// TxHash canonically serialises the fields that make up a transaction's
// identity — sender, recipient, amount, fee, timestamp, note, amount and fee
// formatted with exactly 8 fractional digits and note empty when absent —
// and returns their SHA-256 digest. note participates so a confirmed
// signature cannot be replayed against a tampered note.
func TxHash(senderWalletID, recipientWalletID string, amount, fee uint64, timestamp int64, note string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		senderWalletID, recipientWalletID, money.FormatFixed(amount), money.FormatFixed(fee), timestamp, note)
	return cryptoutil.Sha256Hex([]byte(canonical))
}

// Admit validates and admits a transfer. It:
//  1. rejects a zero amount, a self-transfer, or an unknown recipient wallet
//  2. signs the canonical tx hash with the sender's custodied private key
//  3. selects and locks enough AVAILABLE UTXOs to cover amount + fee
//  4. reserves those UTXOs and inserts the pending transaction, atomically
//
// Any failure after step 3 rolls back the whole transaction, so a UTXO is
// never left half-reserved. The difference between the reserved input total
// and amount+fee becomes a change UTXO back to the sender when the miner
// later spends this transaction.
func (s *Service) Admit(req TransferRequest) (*storage.PendingTransaction, error) {
	if req.Amount == 0 {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if req.SenderWalletID == req.RecipientWalletID {
		return nil, apperr.Validation("sender and recipient must differ")
	}
	if _, err := s.store.GetWallet(req.SenderWalletID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWallet(req.RecipientWalletID); err != nil {
		return nil, err
	}

	// timestamp is generated here, not supplied by the caller: signatures
	// are produced server-side from the custodied key (§9 "Private-key
	// custody"), so there is no client clock to be skewed against this
	// server's. s.clockSkew is retained so a future client-signed submission
	// path (where the timestamp does arrive from outside) has somewhere to
	// plug in spec.md §4.4 step 1's check without another field threaded
	// through every caller.
	timestamp := time.Now().Unix()

	txHash := TxHash(req.SenderWalletID, req.RecipientWalletID, req.Amount, s.fee, timestamp, req.Note)

	// Hash uniqueness (spec.md §4.4 step 4): must not already exist in
	// either the mempool or the chain store, jointly — a unique index on
	// pending_transactions alone would let a confirmed tx be replayed as a
	// fresh pending row.
	if _, err := s.store.ConfirmedByHash(txHash); err == nil {
		return nil, apperr.Conflict("transaction %s already confirmed", txHash)
	}
	if _, err := s.store.PendingByHash(txHash); err == nil {
		return nil, apperr.Conflict("transaction %s already pending", txHash)
	}

	signature, err := s.wallets.SignFor(req.SenderWalletID, []byte(txHash))
	if err != nil {
		return nil, err
	}

	required := req.Amount + s.fee
	reservationID := uuid.New()

	var pending *storage.PendingTransaction
	var lastErr error
	for attempt := 0; attempt < maxReservationAttempts; attempt++ {
		pending, lastErr = s.tryReserveAndInsert(reservationID, txHash, signature, timestamp, req, required)
		if lastErr == nil {
			return pending, nil
		}
		if apperr.KindOf(lastErr) != apperr.KindConflict {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// tryReserveAndInsert performs one attempt of step 6 (reserve inputs) and
// step 7 (persist the pending row) as a single database transaction. A
// CONFLICT here means another admission raced ahead and claimed one of the
// candidate UTXOs between selection and reservation; Admit retries from
// scratch, bounded to maxReservationAttempts.
func (s *Service) tryReserveAndInsert(reservationID uuid.UUID, txHash, signature string, timestamp int64, req TransferRequest, required uint64) (*storage.PendingTransaction, error) {
	dbtx, err := s.store.DB().Begin()
	if err != nil {
		return nil, apperr.Transient("begin admission transaction", err)
	}
	defer dbtx.Rollback()

	candidates, err := s.store.SelectForReservation(dbtx, req.SenderWalletID, required)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(candidates))
	var inputTotal uint64
	for i, u := range candidates {
		ids[i] = u.ID
		inputTotal += u.Amount
	}

	// The pending row goes in before the RESERVED transition: utxos.reserved_by
	// references it, and the selected rows are already locked, so nothing can
	// claim them in between. Both writes land in the same commit.
	pending := &storage.PendingTransaction{
		ID:                reservationID,
		TxHash:            txHash,
		SenderWalletID:    req.SenderWalletID,
		RecipientWalletID: req.RecipientWalletID,
		Amount:            req.Amount,
		Fee:               s.fee,
		Note:              req.Note,
		Signature:         signature,
		InputUTXOIDs:      ids,
		InputTotal:        inputTotal,
		Timestamp:         timestamp,
	}
	if err := s.store.InsertPendingTransaction(dbtx, pending); err != nil {
		return nil, err
	}
	if err := s.store.ReserveUTXOs(dbtx, ids, reservationID); err != nil {
		return nil, err
	}
	if err := s.store.InsertTransactionLog(dbtx, txHash, storage.TxLogAdmitted,
		fmt.Sprintf("reserved %d inputs totalling %d", len(ids), inputTotal)); err != nil {
		return nil, err
	}

	if err := dbtx.Commit(); err != nil {
		return nil, apperr.Transient("commit admission transaction", err)
	}

	return pending, nil
}

// Verify checks a pending transaction's signature against the sender
// wallet's public key, used by the miner as a defence-in-depth re-check
// before mining it into a block.
func (s *Service) Verify(p *storage.PendingTransaction) error {
	pub, err := s.wallets.PublicKey(p.SenderWalletID)
	if err != nil {
		return err
	}
	if err := cryptoutil.Verify(pub, []byte(p.TxHash), p.Signature); err != nil {
		return apperr.Wrap(apperr.KindAuth, "signature verification failed", err)
	}
	return nil
}
