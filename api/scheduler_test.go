package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/finance"
	"github.com/warp/ledger-engine/recurring"
	"github.com/warp/ledger-engine/store/memory"
)

func newTestScheduler(t *testing.T) *MaterializationScheduler {
	t.Helper()

	store := memory.New()
	coord := coordinator.New(coordinator.Config{
		Persistence: store,
		Categories:  coordinator.AllowAllCategories{},
	})
	initial := decimal.NewFromInt(1000)
	require.NoError(t, coord.RegisterAccount(context.Background(), finance.Account{
		ID: "A", Currency: finance.KZT, InitialBalance: &initial, Mode: finance.ModeDerived,
	}))

	engine := recurring.NewEngine(coord, store)
	t.Cleanup(engine.Close)

	ms := NewMaterializationScheduler(engine)
	ms.CheckInterval = 10 * time.Millisecond
	return ms
}

func TestScheduler_StartTwiceIsNoOp(t *testing.T) {
	ms := newTestScheduler(t)
	defer ms.Stop()

	ms.Start()
	ms.Start()

	// Exactly one goroutine is running: a single Stop must return rather
	// than hang waiting on a second one.
	done := make(chan struct{})
	go func() {
		ms.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after a double Start")
	}
}

func TestScheduler_StopTwiceIsNoOp(t *testing.T) {
	ms := newTestScheduler(t)

	ms.Start()
	ms.Stop()
	ms.Stop() // second Stop must not panic on a closed channel

	ms.Stop() // and neither does any later one
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	ms := newTestScheduler(t)

	ms.Start()
	ms.Stop()

	ms.Start()
	time.Sleep(30 * time.Millisecond) // let the fresh run tick
	ms.Stop()
}

func TestScheduler_StopBeforeStartIsNoOp(t *testing.T) {
	ms := newTestScheduler(t)
	ms.Stop()
}

func TestScheduler_DisabledDoesNotRun(t *testing.T) {
	ms := newTestScheduler(t)
	ms.Enabled = false

	ms.Start()
	ms.Stop() // nothing started, nothing to wait for
}
