package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
	"github.com/lalithlochan/digitagro/internal/notify"
)

// Client actions.
const (
	ActionMarkRead    = "mark_read"
	ActionMarkAllRead = "mark_all_read"
)

// TypeUnreadList tags the backlog frame.
const TypeUnreadList = "unread_list"

// ClientMessage is an inbound frame.
type ClientMessage struct {
	Action         string `json:"action"`
	NotificationID *int64 `json:"notification_id,omitempty"`
}

// Backlog is sent once, right after the connection opens.
type Backlog struct {
	Type          string         `json:"type"`
	Notifications []notify.Event `json:"notifications"`
	Count         int            `json:"count"`
}

type session struct {
	id      string
	user    *db.User
	conn    *websocket.Conn
	sub     channels.Subscription
	inbox   Inbox
	cfg     Config
	closing <-chan struct{}
	logger  *zap.Logger
}

func (s *session) run(ctx context.Context) {
	metrics.SessionOpened()
	start := time.Now()
	s.logger = s.logger.With(zap.String("session_id", s.id))
	s.logger.Info("session opened")

	defer func() {
		_ = s.sub.Close()
		_ = s.conn.Close()
		metrics.SessionClosed()
		s.logger.Info("session closed", zap.Duration("duration", time.Since(start)))
	}()

	// Anything published meanwhile waits in the subscription buffer, so the
	// backlog always reaches the client before the first live push.
	if err := s.sendBacklog(ctx); err != nil {
		s.logger.Error("failed to send backlog", zap.Error(err))
		s.closeWith(websocket.CloseInternalServerErr, "backlog unavailable")
		return
	}

	readerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(readerDone)
	}()

	s.readLoop(ctx)
	close(readerDone)
	wg.Wait()
}

func (s *session) sendBacklog(ctx context.Context) error {
	unread, count, err := s.inbox.Unread(ctx, s.user.ID, s.cfg.BacklogSize)
	if err != nil {
		return err
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(Backlog{
		Type:          TypeUnreadList,
		Notifications: notify.NewEvents(unread),
		Count:         count,
	})
}

// writeLoop is the only writer after the backlog. It forwards channel
// payloads verbatim and keeps the peer alive with pings.
func (s *session) writeLoop(readerDone <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-s.sub.Messages():
			if !ok {
				s.logger.Warn("subscription ended")
				s.closeWith(websocket.CloseTryAgainLater, "channel closed")
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("push write failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}
			metrics.RecordSessionPush()

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}

		case <-s.closing:
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case <-readerDone:
			return
		}
	}
}

// readLoop handles client frames one at a time until the connection drops.
func (s *session) readLoop(ctx context.Context) {
	pongWait := 2 * s.cfg.PingInterval
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("session read ended", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, data)
	}
}

// handle applies one client action. Nothing is ever written back: unknown,
// malformed and unauthorised requests are all silently dropped.
func (s *session) handle(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ignoring malformed client message", zap.Error(err))
		metrics.RecordSessionAction("malformed")
		return
	}

	switch msg.Action {
	case ActionMarkRead:
		metrics.RecordSessionAction(ActionMarkRead)
		if msg.NotificationID == nil {
			s.logger.Debug("mark_read without notification_id")
			return
		}
		changed, err := s.inbox.MarkRead(ctx, s.user.ID, *msg.NotificationID)
		if err != nil {
			s.logger.Error("mark_read failed",
				zap.Int64("notification_id", *msg.NotificationID),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("mark_read applied",
			zap.Int64("notification_id", *msg.NotificationID),
			zap.Bool("changed", changed),
		)

	case ActionMarkAllRead:
		metrics.RecordSessionAction(ActionMarkAllRead)
		n, err := s.inbox.MarkAllRead(ctx, s.user.ID)
		if err != nil {
			s.logger.Error("mark_all_read failed", zap.Error(err))
			return
		}
		s.logger.Debug("mark_all_read applied", zap.Int64("marked", n))

	default:
		metrics.RecordSessionAction("unknown")
		s.logger.Info("ignoring unknown client action", zap.String("action", msg.Action))
	}
}

func (s *session) closeWith(code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}
