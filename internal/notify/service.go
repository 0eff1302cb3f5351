package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
)

var (
	ErrInvalidKind      = errors.New("unknown notification kind")
	ErrEmptyText        = errors.New("title and message are required")
	ErrInvalidRecipient = errors.New("recipient is required")
)

// Store is the persistence the service needs. *db.Repository satisfies it.
type Store interface {
	CreateNotification(ctx context.Context, notif *db.Notification) error
	// BulkCreateNotifications stores all notifs or none of them.
	BulkCreateNotifications(ctx context.Context, notifs []*db.Notification) error
	GetNotification(ctx context.Context, id, recipientID int64) (*db.Notification, error)
	ListNotifications(ctx context.Context, recipientID int64, limit, offset int) ([]*db.Notification, error)
	ListUnread(ctx context.Context, recipientID int64, limit int) ([]*db.Notification, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, id, recipientID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	ClearAll(ctx context.Context, recipientID int64) (int64, error)
}

// Broadcaster delivers a freshly persisted notification to its recipient's live sessions.
// It must not fail the caller: delivery is best effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, notif *db.Notification)
}

// Related is a weak reference to the business object behind a notification.
type Related struct {
	Type string
	ID   int64
}

// Spec describes one notification to create.
type Spec struct {
	RecipientID int64
	Kind        Kind
	Title       string
	Message     string
	Related     *Related
	Data        map[string]any
}

// Service owns notification creation and the recipient's read-state mutations.
type Service struct {
	store       Store
	broadcaster Broadcaster
	policy      *bluemonday.Policy
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a notification service. broadcaster may be nil, in which case
// nothing is pushed to live sessions.
func NewService(store Store, broadcaster Broadcaster, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		policy:      bluemonday.StrictPolicy(),
		logger:      logger,
		now:         time.Now,
	}
}

// Create persists one notification and then broadcasts it to the recipient's channel.
// A persistence failure is returned; a broadcast failure never is.
func (s *Service) Create(ctx context.Context, spec Spec) (*db.Notification, error) {
	notif, err := s.build(spec)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateNotification(ctx, notif); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	metrics.RecordEventCreated(notif.Kind, "single")

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, notif)
	}

	return notif, nil
}

// CreateAll persists specs in one write and broadcasts each of them once the
// write has succeeded. Either every spec is stored or none is, so a failed call
// can be retried without duplicating the ones that came first.
func (s *Service) CreateAll(ctx context.Context, specs []Spec) ([]*db.Notification, error) {
	if len(specs) == 0 {
		return []*db.Notification{}, nil
	}

	notifs, err := s.buildAll(specs)
	if err != nil {
		return nil, err
	}

	if err := s.store.BulkCreateNotifications(ctx, notifs); err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}

	for _, n := range notifs {
		metrics.RecordEventCreated(n.Kind, "single")
		if s.broadcaster != nil {
			s.broadcaster.Broadcast(ctx, n)
		}
	}

	return notifs, nil
}

// BulkCreate persists all specs in one write. Nothing is broadcast: recipients
// only see these through the backlog or the inbox.
func (s *Service) BulkCreate(ctx context.Context, specs []Spec) ([]*db.Notification, error) {
	if len(specs) == 0 {
		return []*db.Notification{}, nil
	}

	notifs, err := s.buildAll(specs)
	if err != nil {
		return nil, err
	}

	if err := s.store.BulkCreateNotifications(ctx, notifs); err != nil {
		return nil, fmt.Errorf("bulk create notifications: %w", err)
	}
	for _, n := range notifs {
		metrics.RecordEventCreated(n.Kind, "bulk")
	}

	s.logger.Info("bulk notifications created", zap.Int("count", len(notifs)))

	return notifs, nil
}

// Get returns one notification owned by recipientID.
func (s *Service) Get(ctx context.Context, recipientID, id int64) (*db.Notification, error) {
	return s.store.GetNotification(ctx, id, recipientID)
}

// List returns the recipient's notifications newest first.
func (s *Service) List(ctx context.Context, recipientID int64, limit, offset int) ([]*db.Notification, error) {
	return s.store.ListNotifications(ctx, recipientID, limit, offset)
}

// Unread returns up to limit unread notifications newest first together with
// the total unread count, which may exceed limit.
func (s *Service) Unread(ctx context.Context, recipientID int64, limit int) ([]*db.Notification, int, error) {
	list, err := s.store.ListUnread(ctx, recipientID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list unread: %w", err)
	}
	count, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, 0, fmt.Errorf("count unread: %w", err)
	}
	return list, count, nil
}

// MarkRead marks one of the recipient's notifications read. Already-read,
// missing and foreign notifications are a silent no-op reported as false.
func (s *Service) MarkRead(ctx context.Context, recipientID, id int64) (bool, error) {
	return s.store.MarkRead(ctx, id, recipientID, s.now().UTC())
}

// MarkAllRead marks every unread notification of the recipient read with one timestamp.
func (s *Service) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, recipientID, s.now().UTC())
}

// ClearAll deletes all of the recipient's notifications.
func (s *Service) ClearAll(ctx context.Context, recipientID int64) (int64, error) {
	return s.store.ClearAll(ctx, recipientID)
}

func (s *Service) buildAll(specs []Spec) ([]*db.Notification, error) {
	notifs := make([]*db.Notification, 0, len(specs))
	for i, spec := range specs {
		notif, err := s.build(spec)
		if err != nil {
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}
		notifs = append(notifs, notif)
	}
	return notifs, nil
}

func (s *Service) build(spec Spec) (*db.Notification, error) {
	if spec.RecipientID <= 0 {
		return nil, ErrInvalidRecipient
	}
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, spec.Kind)
	}

	title := s.clean(spec.Title)
	message := s.clean(spec.Message)
	if title == "" || message == "" {
		return nil, ErrEmptyText
	}

	data := spec.Data
	if data == nil {
		data = map[string]any{}
	}

	notif := &db.Notification{
		RecipientID: spec.RecipientID,
		Kind:        string(spec.Kind),
		Title:       title,
		Message:     message,
		Data:        data,
	}
	if spec.Related != nil {
		relType := spec.Related.Type
		relID := spec.Related.ID
		notif.RelatedType = &relType
		notif.RelatedID = &relID
	}

	return notif, nil
}

// clean strips markup from user-supplied text. Entities are decoded again because
// clients render plain text.
func (s *Service) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}
