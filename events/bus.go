package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu      sync.RWMutex
	subs    map[int]chan *Event
	nextID  int
	history []*Event
	maxHist int
	dropped int
	logger  *slog.Logger
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		subs:    make(map[int]chan *Event),
		maxHist: 1000,
		logger:  logger,
	}
}

// Publish records ev and offers it to every subscriber. A subscriber whose
// buffer is full misses the event; the publisher never waits.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	// Sends happen under the lock so unsubscribe cannot close a channel
	// mid-send; they are non-blocking.
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			b.logger.Warn("event dropped for slow subscriber",
				slog.Int("subscriber", id), slog.String("kind", string(ev.Kind)))
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe registers a buffered channel subscriber.
func (b *InMemoryBus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// History returns the most recent limit events, oldest first.
// A limit of zero or less returns everything retained.
func (b *InMemoryBus) History(limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]*Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out, nil
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *InMemoryBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
