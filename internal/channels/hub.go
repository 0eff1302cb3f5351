package channels

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBufferSize = 32

// Hub is an in-process Layer. Each subscriber gets a buffered channel; a
// subscriber that falls behind loses messages rather than blocking publishers.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]map[uint64]chan []byte
	nextID     uint64
	bufferSize int
	logger     *zap.Logger
}

// NewHub creates a hub. bufferSize <= 0 uses the default.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		channels:   make(map[string]map[uint64]chan []byte),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish delivers payload to every current subscriber of channel.
// Publishing to a channel nobody listens on is not an error.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.channels[channel] {
		select {
		case ch <- payload:
		default:
			h.logger.Warn("subscriber buffer full, dropping message",
				zap.String("channel", channel),
				zap.Uint64("subscriber", id),
			)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on channel.
func (h *Hub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan []byte, h.bufferSize)

	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[uint64]chan []byte)
		h.channels[channel] = subs
	}
	subs[id] = ch

	return &hubSubscription{hub: h, channel: channel, id: id, ch: ch}, nil
}

// Subscribers returns how many subscriptions channel currently has.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) remove(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.channels[channel]
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

type hubSubscription struct {
	hub     *Hub
	channel string
	id      uint64
	ch      chan []byte
	once    sync.Once
}

func (s *hubSubscription) Messages() <-chan []byte { return s.ch }

func (s *hubSubscription) Close() error {
	s.once.Do(func() { s.hub.remove(s.channel, s.id) })
	return nil
}
