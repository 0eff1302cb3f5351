// Package channels is the per-user publish/subscribe layer between the fan-out
// dispatcher and live websocket sessions.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends a payload to everyone subscribed to channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber registers interest in a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Layer is a complete channel backend.
type Layer interface {
	Publisher
	Subscriber
}

// Subscription delivers payloads published after it was created.
// Messages is closed once the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// UserChannel is the channel every session of userID listens on.
func UserChannel(userID int64) string {
	return fmt.Sprintf("notifications_%d", userID)
}

// Envelope carries a channel payload across transports that have no native
// channel concept (SNS topic fan-out into SQS queues).
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}
