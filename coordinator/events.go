package coordinator

import (
	"sync"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// OBSERVER BOUNDARY - One notification cycle per completed mutation
// =============================================================================

// eventBuffer is the per-subscriber channel capacity. A slow observer that
// falls this far behind misses intermediate events; the latest state is
// always readable from the coordinator directly.
const eventBuffer = 16

type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan finance.ChangeEvent
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan finance.ChangeEvent)}
}

func (s *subscribers) add() (int, chan finance.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan finance.ChangeEvent, eventBuffer)
	s.subs[id] = ch
	return id, ch
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// publish delivers the event to every subscriber without blocking the
// mutation path. A full buffer drops the event for that subscriber only.
func (s *subscribers) publish(ev finance.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers an observer. The returned cancel function must be
// called to release the subscription; the channel is closed on cancel.
// The coordinator does not know observer identities; any number may
// subscribe.
func (c *Coordinator) Subscribe() (<-chan finance.ChangeEvent, func()) {
	id, ch := c.subscribers.add()
	return ch, func() { c.subscribers.remove(id) }
}
