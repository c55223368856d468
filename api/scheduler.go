/*
scheduler.go - Automated recurring-materialization scheduler

PURPOSE:
  Periodically runs a materialization pass over every active recurring
  series, turning due occurrences into real ledger transactions, and a
  deposit-interest pass posting due monthly accruals.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips (series, date) pairs that already have an occurrence recorded,
    so a pass is idempotent no matter how often it runs
  - All writes go through the mutation coordinator, never the ledger
    directly, so balances and caches stay consistent

CONFIGURATION:
  - CheckInterval: How often to run a pass (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewMaterializationScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - recurring/engine.go: MaterializeDue
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/ledger-engine/deposit"
	"github.com/warp/ledger-engine/recurring"
)

// MaterializationScheduler runs periodic recurring-series and
// deposit-interest passes.
type MaterializationScheduler struct {
	Engine        *recurring.Engine
	Deposits      *deposit.Engine // Optional
	CheckInterval time.Duration
	Enabled       bool

	running bool
	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewMaterializationScheduler creates a new scheduler.
func NewMaterializationScheduler(engine *recurring.Engine) *MaterializationScheduler {
	return &MaterializationScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a
// no-op; Start after Stop begins a fresh run.
func (ms *MaterializationScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ms.running {
		log.Println("[Scheduler] Already running")
		return
	}

	// Fresh ticker and stop channel per run, so a stopped scheduler can
	// be started again without racing the previous goroutine.
	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.stop = make(chan bool)
	ms.running = true
	ms.wg.Add(1)

	go ms.run(ms.ticker, ms.stop)

	log.Printf("[Scheduler] Started with check interval: %v", ms.CheckInterval)
}

// Stop stops the scheduler and waits for the in-flight pass. Calling Stop
// on a stopped scheduler is a no-op.
func (ms *MaterializationScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.running {
		return
	}
	ms.ticker.Stop()
	close(ms.stop)
	ms.wg.Wait()
	ms.running = false
	log.Println("[Scheduler] Stopped")
}

func (ms *MaterializationScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer ms.wg.Done()

	// Run immediately on start
	ms.materialize()

	for {
		select {
		case <-ticker.C:
			ms.materialize()
		case <-stop:
			return
		}
	}
}

func (ms *MaterializationScheduler) materialize() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, err := ms.Engine.MaterializeDue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Materialization pass failed after %d transactions: %v", created, err)
		return
	}
	if created > 0 {
		log.Printf("[Scheduler] Materialized %d recurring transactions", created)
	}

	if ms.Deposits == nil {
		return
	}
	posted, err := ms.Deposits.AccrueDue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Interest pass failed after %d postings: %v", posted, err)
		return
	}
	if posted > 0 {
		log.Printf("[Scheduler] Posted %d interest accruals", posted)
	}
}
