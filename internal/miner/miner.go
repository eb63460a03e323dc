// Package miner implements the proof-of-work block assembly loop: batching
// the mempool, searching for a valid nonce, and atomically committing the
// new block alongside its UTXO and mempool effects.
package miner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/cryptoutil"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/txservice"
)

// genesisPreviousHash is the previous_hash of block 0.
const genesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000"

// miningLockKey is the pg_advisory_lock key serializing mining across every
// walletd process pointed at the same database. Held on a dedicated session
// connection (not pg_advisory_xact_lock) because it must span the nonce
// search, which runs outside any database transaction.
const miningLockKey = 0x57414c4c4554 // the ASCII bytes of "WALLET" in hex

// checkInterval is how often the nonce search checks for a shutdown signal.
const checkInterval = 1 << 16

// maxCommitAttempts bounds the internal retry loop around the commit
// transaction for transient database failures.
const maxCommitAttempts = 3

// Miner assembles and mines blocks one at a time.
type Miner struct {
	store      *storage.Storage
	txs        *txservice.Service
	batchSize  int
	difficulty int
	shutdown   atomic.Bool
}

// New builds a Miner. difficulty is the number of leading hex-zero nibbles
// a block hash must carry.
func New(store *storage.Storage, txs *txservice.Service, batchSize, difficulty int) *Miner {
	return &Miner{store: store, txs: txs, batchSize: batchSize, difficulty: difficulty}
}

// Shutdown asks any in-progress nonce search to abandon its attempt without
// committing. Safe to call from a different goroutine.
func (m *Miner) Shutdown() {
	m.shutdown.Store(true)
}

// EnsureGenesis inserts block 0 and seeds chain_meta if the chain store is
// empty, as one transaction. Genesis is exempt from the proof-of-work
// search: its nonce is fixed at 0 and its hash is not required to carry the
// difficulty prefix.
func (m *Miner) EnsureGenesis(genesisReward uint64, halvingInterval int64) error {
	tip, err := m.store.Tip()
	if err != nil {
		return err
	}
	if tip != nil {
		return nil
	}

	merkleRoot := cryptoutil.ZeroDigest
	genesisTimestamp := time.Now().Unix()
	hash := blockHash(0, genesisTimestamp, genesisPreviousHash, merkleRoot, 0)

	dbtx, err := m.store.DB().Begin()
	if err != nil {
		return apperr.Transient("begin genesis transaction", err)
	}
	defer dbtx.Rollback()

	genesis := &storage.Block{
		Height:           0,
		BlockHash:        hash,
		PreviousHash:     genesisPreviousHash,
		MerkleRoot:       merkleRoot,
		Nonce:            0,
		DifficultyPrefix: strings.Repeat("0", m.difficulty),
		MinerWalletID:    "",
		Timestamp:        genesisTimestamp,
	}
	if err := m.store.AppendBlock(dbtx, genesis, -1); err != nil {
		return err
	}
	if err := m.store.InitMeta(dbtx, genesisReward, halvingInterval, hash); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return apperr.Transient("commit genesis transaction", err)
	}
	return nil
}

// MineResult reports the outcome of one mining attempt.
type MineResult struct {
	Block        *storage.Block
	Transactions int
	Confirmed    []*storage.ConfirmedTransaction
}

// ErrEmptyMempool signals there was nothing to mine; callers should treat
// this as routine and retry later, not as a failure.
var ErrEmptyMempool = apperr.New(apperr.KindValidation, "mempool is empty")

// MineBlock assembles and mines exactly one block, crediting minerWalletID
// with the coinbase reward plus the batch's fees. It serializes against
// every other miner in the deployment via a Postgres advisory lock, so only
// one block is ever mined globally at a time.
func (m *Miner) MineBlock(minerWalletID string) (*MineResult, error) {
	ctx := context.Background()

	conn, err := m.store.DB().Conn(ctx)
	if err != nil {
		return nil, apperr.Transient("acquire mining connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, miningLockKey); err != nil {
		return nil, apperr.Transient("acquire mining lock", err)
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, miningLockKey)

	batch, err := m.store.TakeBatch(m.batchSize)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, ErrEmptyMempool
	}

	verified := batch[:0]
	for _, p := range batch {
		if err := m.txs.Verify(p); err != nil {
			continue
		}
		verified = append(verified, p)
	}
	if len(verified) == 0 {
		return nil, ErrEmptyMempool
	}

	tip, err := m.store.Tip()
	if err != nil {
		return nil, err
	}
	meta, err := m.store.GetMeta()
	if err != nil {
		return nil, err
	}

	var (
		prevHash   string
		prevHeight int64 = -1
	)
	if tip != nil {
		prevHash = tip.BlockHash
		prevHeight = tip.Height
	} else {
		prevHash = genesisPreviousHash
	}
	newHeight := prevHeight + 1

	var totalFees uint64
	for _, p := range verified {
		totalFees += p.Fee
	}
	coinbaseAmount := meta.CurrentReward + totalFees
	blockTimestamp := time.Now().Unix()
	coinbaseTxHash := cryptoutil.Sha256Hex([]byte(fmt.Sprintf("coinbase|%d|%s|%d|%d",
		newHeight, minerWalletID, coinbaseAmount, blockTimestamp)))

	leaves := make([]string, 0, len(verified)+1)
	leaves = append(leaves, coinbaseTxHash)
	for _, p := range verified {
		leaves = append(leaves, p.TxHash)
	}
	merkleRoot := cryptoutil.MerkleRoot(leaves)

	prefix := strings.Repeat("0", m.difficulty)

	var (
		nonce int64
		hash  string
	)
	for {
		hash = blockHash(newHeight, blockTimestamp, prevHash, merkleRoot, nonce)
		if strings.HasPrefix(hash, prefix) {
			break
		}
		nonce++
		if nonce%checkInterval == 0 && m.shutdown.Load() {
			return nil, apperr.New(apperr.KindTransient, "mining cancelled by shutdown")
		}
	}

	block := &storage.Block{
		Height:           newHeight,
		BlockHash:        hash,
		PreviousHash:     prevHash,
		MerkleRoot:       merkleRoot,
		Nonce:            nonce,
		DifficultyPrefix: prefix,
		MinerWalletID:    minerWalletID,
		Timestamp:        blockTimestamp,
	}
	coinbase := &storage.ConfirmedTransaction{
		ID:                uuid.New(),
		TxHash:            coinbaseTxHash,
		BlockHeight:       newHeight,
		PositionInBlock:   0,
		SenderWalletID:    "",
		RecipientWalletID: minerWalletID,
		Amount:            coinbaseAmount,
		Timestamp:         blockTimestamp,
		IsCoinbase:        true,
	}

	var result *MineResult
	for attempt := 1; ; attempt++ {
		result, err = m.commit(block, coinbase, verified, meta, prevHeight, minerWalletID)
		if err == nil {
			break
		}
		if apperr.KindOf(err) != apperr.KindTransient || attempt >= maxCommitAttempts {
			return nil, err
		}
	}

	// The block is committed at this point; a failed audit write must not
	// turn a mined block into an error.
	_ = m.store.InsertSystemLog("miner", "block_mined",
		fmt.Sprintf("height %d hash %s txs %d", block.Height, block.BlockHash, result.Transactions))

	return result, nil
}

// commit writes the mined block and all its effects as one database
// transaction: the block row, the confirmed transactions, UTXO spends,
// recipient/change/coinbase outputs, mempool removal, the chain_meta
// advance and the advisory balance-cache refresh for every touched wallet.
func (m *Miner) commit(block *storage.Block, coinbase *storage.ConfirmedTransaction, verified []*storage.PendingTransaction, meta *storage.ChainMeta, prevHeight int64, minerWalletID string) (*MineResult, error) {
	dbtx, err := m.store.DB().Begin()
	if err != nil {
		return nil, apperr.Transient("begin mining commit", err)
	}
	defer dbtx.Rollback()

	if err := m.store.AppendBlock(dbtx, block, prevHeight); err != nil {
		return nil, err
	}

	touched := map[string]bool{minerWalletID: true}

	confirmed := make([]*storage.ConfirmedTransaction, 0, len(verified)+1)
	confirmed = append(confirmed, coinbase)

	for i, p := range verified {
		confirmed = append(confirmed, &storage.ConfirmedTransaction{
			ID:                uuid.New(),
			TxHash:            p.TxHash,
			BlockHeight:       block.Height,
			PositionInBlock:   i + 1,
			SenderWalletID:    p.SenderWalletID,
			RecipientWalletID: p.RecipientWalletID,
			Amount:            p.Amount,
			Fee:               p.Fee,
			Note:              p.Note,
			Signature:         p.Signature,
			Timestamp:         p.Timestamp,
			IsCoinbase:        false,
		})
		touched[p.SenderWalletID] = true
		touched[p.RecipientWalletID] = true

		if err := m.store.SpendReserved(dbtx, p.ID); err != nil {
			return nil, err
		}
		if err := m.store.CreateUTXO(dbtx, &storage.UTXO{
			ID:           uuid.New(),
			WalletID:     p.RecipientWalletID,
			Amount:       p.Amount,
			OriginTxHash: p.TxHash,
			OriginIndex:  0,
		}); err != nil {
			return nil, err
		}

		change := p.InputTotal - p.Amount - p.Fee
		if change > 0 {
			if err := m.store.CreateUTXO(dbtx, &storage.UTXO{
				ID:           uuid.New(),
				WalletID:     p.SenderWalletID,
				Amount:       change,
				OriginTxHash: p.TxHash,
				OriginIndex:  1,
			}); err != nil {
				return nil, err
			}
		}

		if err := m.store.DeletePendingTransactions(dbtx, []uuid.UUID{p.ID}); err != nil {
			return nil, err
		}
		if err := m.store.InsertTransactionLog(dbtx, p.TxHash, storage.TxLogConfirmed,
			fmt.Sprintf("block %d", block.Height)); err != nil {
			return nil, err
		}
	}

	if err := m.store.InsertConfirmedTransactions(dbtx, confirmed); err != nil {
		return nil, err
	}

	if err := m.store.CreateUTXO(dbtx, &storage.UTXO{
		ID:           uuid.New(),
		WalletID:     minerWalletID,
		Amount:       coinbase.Amount,
		OriginTxHash: coinbase.TxHash,
		OriginIndex:  0,
	}); err != nil {
		return nil, err
	}

	if err := m.store.AdvanceMeta(dbtx, block.Height, block.BlockHash, meta.CurrentReward); err != nil {
		return nil, err
	}
	newReward := nextReward(meta.CurrentReward, block.Height, meta.HalvingInterval)
	if newReward != meta.CurrentReward {
		if err := m.store.SetReward(dbtx, newReward); err != nil {
			return nil, err
		}
	}

	for walletID := range touched {
		if err := m.store.RefreshBalanceCache(dbtx, walletID); err != nil {
			return nil, err
		}
	}

	if err := dbtx.Commit(); err != nil {
		return nil, apperr.Transient("commit mined block", err)
	}

	return &MineResult{Block: block, Transactions: len(confirmed), Confirmed: confirmed}, nil
}

// nextReward halves the block reward at every halvingInterval boundary,
// flooring at 1 base unit so emission never reaches zero.
func nextReward(current uint64, height, halvingInterval int64) uint64 {
	if height <= 0 || height%halvingInterval != 0 {
		return current
	}
	halved := current / 2
	if halved < 1 {
		return 1
	}
	return halved
}

// blockHash computes the canonical block header digest:
// SHA-256(height|timestamp|previous_hash|merkle_root|nonce).
func blockHash(height, timestamp int64, previousHash, merkleRoot string, nonce int64) string {
	canonical := fmt.Sprintf("%d|%d|%s|%s|%d", height, timestamp, previousHash, merkleRoot, nonce)
	return cryptoutil.Sha256Hex([]byte(canonical))
}
