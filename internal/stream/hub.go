package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/star/gnssacq/internal/metrics"
	"github.com/star/gnssacq/internal/receiver"
)

// subscriber is one open stream's mailbox.
type subscriber struct {
	ch     chan receiver.Event
	filter func(receiver.Event) bool
}

// Hub fans receiver events out to every open stream. A stream that falls
// behind loses events rather than stalling the receiver.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish implements receiver.Publisher.
func (h *Hub) Publish(ev receiver.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.IncStreamErrors("dropped")
			h.logger.Debug("stream subscriber behind, event dropped", "channel_id", ev.ChannelID)
		}
	}
}

// subscribe registers a mailbox; the returned func removes it.
func (h *Hub) subscribe(filter func(receiver.Event) bool) (*subscriber, func()) {
	s := &subscriber{ch: make(chan receiver.Event, h.buffer), filter: filter}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func encodeEvent(ev receiver.Event) ([]byte, error) {
	return json.Marshal(verdictMessage{Type: "verdict", Event: ev})
}
