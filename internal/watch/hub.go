// Package watch streams run progress to remote viewers over gRPC. The
// session publishes every driver summary to a Hub; each Runs stream
// receives the latest summary of every run it asked for, then each update
// as it happens.
package watch

import (
	"sync"

	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/monitoring"
)

var logf = monitoring.Component("watch")

// subscriberBuffer is how many updates a slow viewer may fall behind before
// updates to it are dropped.
const subscriberBuffer = 64

type subscriber struct {
	ch      chan driver.Summary
	dropped int
}

// Hub fans driver summaries out to subscribers. The zero value is not
// usable; call NewHub.
type Hub struct {
	mu     sync.Mutex
	latest map[string]driver.Summary
	order  []string
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		latest: make(map[string]driver.Summary),
		subs:   make(map[int]*subscriber),
	}
}

// Publish records sum as the latest state of its run and passes it to
// every subscriber without blocking.
func (h *Hub) Publish(sum driver.Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, ok := h.latest[sum.RunID]; !ok {
		h.order = append(h.order, sum.RunID)
	}
	h.latest[sum.RunID] = sum
	for id, s := range h.subs {
		select {
		case s.ch <- sum:
		default:
			s.dropped++
			if s.dropped == 1 {
				logf("viewer %d is falling behind, dropping updates", id)
			}
		}
	}
}

// Latest returns the most recent summary of every run, in order of first
// appearance.
func (h *Hub) Latest() []driver.Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]driver.Summary, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.latest[id])
	}
	return out
}

// Subscribe returns the current summaries and a channel of later ones. The
// channel is closed by cancel or when the hub closes.
func (h *Hub) Subscribe() (current []driver.Summary, updates <-chan driver.Summary, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current = make([]driver.Summary, 0, len(h.order))
	for _, id := range h.order {
		current = append(current, h.latest[id])
	}
	ch := make(chan driver.Summary, subscriberBuffer)
	if h.closed {
		close(ch)
		return current, ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = &subscriber{ch: ch}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
	return current, ch, cancel
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
