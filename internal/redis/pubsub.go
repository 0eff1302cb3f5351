package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
)

const subscriptionBuffer = 32

// PubSub is a channels.Layer over Redis PUBLISH/SUBSCRIBE, so a push from any
// gateway instance reaches sessions connected to any other.
type PubSub struct {
	client *Client
	logger *zap.Logger
}

// NewPubSub creates the Redis channel layer.
func NewPubSub(client *Client, logger *zap.Logger) *PubSub {
	return &PubSub{client: client, logger: logger}
}

// Publish sends payload to channel.
func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards can be missed.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (channels.Subscription, error) {
	ps := p.client.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	sub := &subscription{
		ps:      ps,
		channel: channel,
		out:     make(chan []byte, subscriptionBuffer),
		logger:  p.logger,
	}
	go sub.pump()
	return sub, nil
}

type subscription struct {
	ps      *redis.PubSub
	channel string
	out     chan []byte
	logger  *zap.Logger
	once    sync.Once
}

// pump copies messages until the underlying go-redis channel is closed.
func (s *subscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		default:
			s.logger.Warn("subscriber buffer full, dropping message",
				zap.String("channel", s.channel),
			)
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
