// Package janitor sweeps the mempool for pending transactions that have
// outlived their TTL, releasing the UTXOs they reserved so they become
// spendable again (spec.md §4.4 "Cancellation").
package janitor

import (
	"context"
	"time"

	"github.com/waleed-se/walletd/internal/apperr"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/pkg/logging"
)

// Janitor periodically releases expired mempool reservations.
type Janitor struct {
	store    *storage.Storage
	interval time.Duration
	ttl      time.Duration
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Janitor. interval is how often the sweep runs; ttl is how
// long a pending transaction may sit unmined before its reservation is
// released.
func New(store *storage.Storage, interval, ttl time.Duration) *Janitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		store:    store,
		interval: interval,
		ttl:      ttl,
		log:      logging.GetDefault().Component("janitor"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine until Stop is called.
func (j *Janitor) Start() {
	go j.run()
}

// Stop cancels the sweep loop and waits for the current sweep to finish.
func (j *Janitor) Stop() {
	j.cancel()
	<-j.done
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			if err := j.sweep(); err != nil {
				j.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// sweep releases every pending transaction's reservation once it is older
// than ttl, one DB transaction per row so a failure on one row never blocks
// the rest.
func (j *Janitor) sweep() error {
	cutoff := time.Now().Add(-j.ttl)
	expired, err := j.store.ExpiredReservations(cutoff)
	if err != nil {
		return err
	}

	for _, e := range expired {
		if err := j.releaseOne(e); err != nil {
			j.log.Error("release reservation failed", "pending_id", e.ID, "error", err)
			continue
		}
		j.log.Info("released expired reservation", "pending_id", e.ID, "tx_hash", e.TxHash)
	}
	return nil
}

// releaseOne reverts a single expired reservation's UTXOs to AVAILABLE and
// drops its mempool row, atomically.
func (j *Janitor) releaseOne(e storage.ExpiredPending) error {
	tx, err := j.store.DB().Begin()
	if err != nil {
		return apperr.Transient("begin janitor sweep", err)
	}
	defer tx.Rollback()

	if err := j.store.ReleaseReservation(tx, e.ID); err != nil {
		return err
	}
	if err := j.store.DeletePendingTransaction(tx, e.ID); err != nil {
		return err
	}
	if err := j.store.InsertTransactionLog(tx, e.TxHash, storage.TxLogExpired, "ttl sweep"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Transient("commit janitor sweep", err)
	}
	return nil
}
