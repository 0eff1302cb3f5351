package channels

import "context"

// Relay publishes through a remote transport and subscribes on a local hub.
// Whatever consumes the remote transport on this instance must feed the hub,
// so one publish reaches the sessions held by every instance.
type Relay struct {
	remote Publisher
	local  *Hub
}

// NewRelay pairs a remote publisher with the local hub it is mirrored into.
func NewRelay(remote Publisher, local *Hub) *Relay {
	return &Relay{remote: remote, local: local}
}

func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.remote.Publish(ctx, channel, payload)
}

func (r *Relay) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return r.local.Subscribe(ctx, channel)
}
