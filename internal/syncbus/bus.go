// Package syncbus fans triage events out to live viewers. A Bus serves one
// process; a PGBridge joins the buses of every process sharing a database.
package syncbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// Bus is an in-process event fan-out. Publish never blocks: a subscriber whose
// queue is full loses its backlog and receives a single resync event instead.
type Bus struct {
	id     string
	logger log.Logger
	now    func() time.Time

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New creates a bus with a fresh origin id.
func New(logger log.Logger) *Bus {
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{
		id:     uuid.NewString(),
		logger: logger,
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

// ID identifies this bus as the origin of the events it publishes.
func (b *Bus) ID() string { return b.id }

// Publish stamps ev with this bus as origin and delivers it to every
// subscriber. It implements triage.Publisher.
func (b *Bus) Publish(_ context.Context, ev triage.Event) {
	ev.Origin = b.id
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	b.fanout(ev)
}

// Deliver hands a remote event to local subscribers without restamping it.
func (b *Bus) Deliver(ev triage.Event) {
	if ev.Origin == b.id {
		return
	}
	b.fanout(ev)
}

// Subscribers reports the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscribe registers a new subscriber with a queue of the given size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{bus: b, ch: make(chan triage.Event, buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) fanout(ev triage.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if s.offer(ev) {
			continue
		}
		b.logger.Warn(context.Background(), "subscriber lagging, sending resync",
			"event", string(ev.Kind),
			"origin", ev.Origin,
		)
	}
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus  *Bus
	ch   chan triage.Event
	once sync.Once

	// serialises the drain-and-resync path between concurrent publishers
	overflow sync.Mutex
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan triage.Event { return s.ch }

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// offer queues ev, reporting false when the queue was full and the backlog
// was replaced by a resync event.
func (s *Subscription) offer(ev triage.Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}

	s.overflow.Lock()
	defer s.overflow.Unlock()
drain:
	for {
		select {
		case <-s.ch:
		default:
			break drain
		}
	}
	select {
	case s.ch <- triage.Event{Kind: triage.EventResync, Origin: s.bus.id, At: s.bus.now()}:
	default:
	}
	return false
}
