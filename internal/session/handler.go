// Package session serves the per-user real-time connection: it authenticates
// the handshake, subscribes to the user's channel, replays the unread backlog
// and applies read-state actions sent by the client.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/auth"
	"github.com/lalithlochan/digitagro/internal/channels"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
)

// CloseUnauthorized is sent when the handshake credential does not resolve to
// an active user. It is distinct from every standard close code.
const CloseUnauthorized = 4001

// Authenticator resolves a handshake credential. *auth.Provider satisfies it.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*db.User, error)
}

// Inbox is the read-state surface a session needs. *notify.Service satisfies it.
type Inbox interface {
	Unread(ctx context.Context, recipientID int64, limit int) ([]*db.Notification, int, error)
	MarkRead(ctx context.Context, recipientID, id int64) (bool, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
}

// Config tunes the socket.
type Config struct {
	BacklogSize    int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string // empty allows any origin
}

// DefaultConfig returns the settings used when the gateway config leaves them unset.
func DefaultConfig() Config {
	return Config{
		BacklogSize:    20,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Handler accepts websocket sessions. It is an http.Handler.
type Handler struct {
	auth       Authenticator
	inbox      Inbox
	subscriber channels.Subscriber
	upgrader   websocket.Upgrader
	cfg        Config
	logger     *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewHandler creates the session handler. Zero config fields take defaults.
func NewHandler(authenticator Authenticator, inbox Inbox, subscriber channels.Subscriber, cfg Config, logger *zap.Logger) *Handler {
	def := DefaultConfig()
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = def.BacklogSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		auth:       authenticator,
		inbox:      inbox,
		subscriber: subscriber,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.WriteTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Resolve(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		h.reject(w, r, err)
		return
	}

	channel := channels.UserChannel(user.ID)
	sub, err := h.subscriber.Subscribe(r.Context(), channel)
	if err != nil {
		h.logger.Error("failed to subscribe session",
			zap.Int64("user_id", user.ID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		http.Error(w, "real-time channel unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		_ = sub.Close()
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()
	defer cancel()

	s := &session{
		id:      uuid.NewString(),
		user:    user,
		conn:    conn,
		sub:     sub,
		inbox:   h.inbox,
		cfg:     h.cfg,
		closing: h.ctx.Done(),
		logger: h.logger.With(
			zap.Int64("user_id", user.ID),
			zap.String("channel", channel),
		),
	}

	h.sessions.Add(1)
	defer h.sessions.Done()
	s.run(ctx)
}

// reject completes the handshake only to close it with a code the client can
// tell apart from a network failure. Nothing has been subscribed at this point.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, cause error) {
	code, reason, label := CloseUnauthorized, "unauthorized", "unauthorized"
	switch {
	case errors.Is(cause, auth.ErrMissingToken):
		label = "missing_token"
	case errors.Is(cause, auth.ErrInvalidToken):
		label = "invalid_token"
	case errors.Is(cause, auth.ErrInactiveUser):
		label = "inactive_user"
	default:
		code, reason, label = websocket.CloseInternalServerErr, "internal error", "error"
		h.logger.Error("session authentication failed", zap.Error(cause))
	}
	metrics.RecordSessionRejected(label)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		h.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	return false
}

// Shutdown tells every open session to close with 1001 and waits for them to
// finish, or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
