// Package fanout pushes freshly created notifications to the recipient's
// channel. Delivery is best effort: the database row is the source of truth
// and a session that misses a push sees the event in its next backlog.
package fanout

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
	"github.com/lalithlochan/digitagro/internal/notify"
)

// TypeNewNotification tags a live push.
const TypeNewNotification = "new_notification"

const defaultPublishTimeout = 2 * time.Second

// Push is the frame written to a recipient's sessions.
type Push struct {
	Type string       `json:"type"`
	Data notify.Event `json:"data"`
}

// Dispatcher implements notify.Broadcaster over a channels.Publisher.
type Dispatcher struct {
	publisher channels.Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewDispatcher creates a dispatcher. timeout <= 0 uses the default.
func NewDispatcher(publisher channels.Publisher, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Dispatcher{publisher: publisher, logger: logger, timeout: timeout}
}

// Broadcast publishes notif to notifications_<recipient>. Errors are logged
// and counted, never returned. The publish outlives a cancelled caller so a
// producer hanging up right after the insert still gets its push out.
func (d *Dispatcher) Broadcast(ctx context.Context, notif *db.Notification) {
	channel := channels.UserChannel(notif.RecipientID)

	payload, err := json.Marshal(Push{Type: TypeNewNotification, Data: notify.NewEvent(notif)})
	if err != nil {
		d.logger.Error("failed to encode push",
			zap.Int64("notification_id", notif.ID),
			zap.Error(err),
		)
		metrics.RecordFanout("error", 0)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	start := time.Now()
	err = d.publisher.Publish(pubCtx, channel, payload)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Warn("live push failed",
			zap.String("channel", channel),
			zap.Int64("notification_id", notif.ID),
			zap.Error(err),
		)
		metrics.RecordFanout("error", elapsed)
		return
	}

	metrics.RecordFanout("ok", elapsed)
	d.logger.Debug("live push published",
		zap.String("channel", channel),
		zap.Int64("notification_id", notif.ID),
	)
}
