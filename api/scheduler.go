/*
scheduler.go - Automated transfer expiry sweeper

PURPOSE:
  Periodically expires PENDING transfers whose 48-hour acceptance window
  has passed, so stale holds stop counting against senders' available
  balances.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sweep transitions stale PENDING transfers to AUTO_EXPIRED
  - Expiry is also detected lazily at accept time, so the sweeper is an
    eviction pass, not the correctness mechanism

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewTransferSweeper(transfers)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - allocation/transfer.go: SweepExpired
  - handlers.go: SweepTransfers endpoint (manual sweep)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stepperslife/ticket-engine/allocation"
)

// TransferSweeper expires stale transfers in the background.
type TransferSweeper struct {
	Transfers     *allocation.TransferService
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan bool
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewTransferSweeper creates a new sweeper.
func NewTransferSweeper(transfers *allocation.TransferService) *TransferSweeper {
	return &TransferSweeper{
		Transfers:     transfers,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (ts *TransferSweeper) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.wg.Add(1)

	go ts.run()

	log.Printf("[Sweeper] Started with check interval: %v", ts.CheckInterval)
}

// Stop stops the sweeper. Safe to call more than once.
func (ts *TransferSweeper) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker == nil || ts.stopped {
		return
	}
	ts.stopped = true
	ts.ticker.Stop()
	close(ts.stop)
	ts.wg.Wait()
	log.Println("[Sweeper] Stopped")
}

func (ts *TransferSweeper) run() {
	defer ts.wg.Done()

	// Run immediately on start
	ts.sweep()

	for {
		select {
		case <-ts.ticker.C:
			ts.sweep()
		case <-ts.stop:
			return
		}
	}
}

func (ts *TransferSweeper) sweep() {
	n, err := ts.Transfers.SweepExpired(context.Background())
	if err != nil {
		log.Printf("[Sweeper] Error sweeping expired transfers: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Sweeper] Expired %d stale transfers", n)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ts *TransferSweeper) RunNow() {
	ts.sweep()
}
