package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notificationColumns = `
	id, recipient_id, kind, title, message, related_type, related_id,
	data, is_read, read_at, created_at`

// Repository handles database operations for notifications and the users they address
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts one notification and fills in its ID and creation time.
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	if notif.Data == nil {
		notif.Data = map[string]any{}
	}

	query := `
		INSERT INTO notifications (
			recipient_id, kind, title, message, related_type, related_id, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		notif.RecipientID,
		notif.Kind,
		notif.Title,
		notif.Message,
		notif.RelatedType,
		notif.RelatedID,
		notif.Data,
	).Scan(&notif.ID, &notif.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.Int64("recipient_id", notif.RecipientID),
			zap.String("kind", notif.Kind),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Debug("notification created",
		zap.Int64("notification_id", notif.ID),
		zap.Int64("recipient_id", notif.RecipientID),
		zap.String("kind", notif.Kind),
	)

	return nil
}

// BulkCreateNotifications writes every notification in a single multi-row INSERT,
// so either all rows are stored or none is. IDs and creation times are assigned
// back in input order.
func (r *Repository) BulkCreateNotifications(ctx context.Context, notifs []*Notification) error {
	if len(notifs) == 0 {
		return nil
	}

	const cols = 7
	var sb strings.Builder
	sb.WriteString(`INSERT INTO notifications (
		recipient_id, kind, title, message, related_type, related_id, data
	) VALUES `)

	args := make([]any, 0, len(notifs)*cols)
	for i, n := range notifs {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, n.RecipientID, n.Kind, n.Title, n.Message, n.RelatedType, n.RelatedID, n.Data)
	}
	sb.WriteString(" RETURNING id, created_at")

	rows, err := r.db.Pool().Query(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("bulk insert notifications: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(notifs) {
			return fmt.Errorf("bulk insert returned more rows than inserted")
		}
		if err := rows.Scan(&notifs[i].ID, &notifs[i].CreatedAt); err != nil {
			return fmt.Errorf("scan inserted notification: %w", err)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("bulk insert notifications: %w", err)
	}

	r.logger.Info("notifications bulk created", zap.Int("count", i))

	return nil
}

// GetNotification retrieves a notification owned by recipientID.
// A notification owned by someone else is reported as ErrNotFound.
func (r *Repository) GetNotification(ctx context.Context, id, recipientID int64) (*Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE id = $1 AND recipient_id = $2
	`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.Int64("notification_id", id),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return notif, nil
}

// ListNotifications retrieves a recipient's notifications newest first with pagination
func (r *Repository) ListNotifications(ctx context.Context, recipientID int64, limit, offset int) ([]*Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryNotifications(ctx, query, recipientID, limit, offset)
}

// ListUnread retrieves up to limit unread notifications newest first.
func (r *Repository) ListUnread(ctx context.Context, recipientID int64, limit int) ([]*Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND is_read = false
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	return r.queryNotifications(ctx, query, recipientID, limit)
}

// CountUnread returns the true number of unread notifications, independent of any listing cap.
func (r *Repository) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead flips one unread notification owned by recipientID to read.
// Returns false when nothing changed: already read, missing, or owned by someone else.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID int64, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = $1
		WHERE id = $2 AND recipient_id = $3 AND is_read = false
	`

	result, err := r.db.Pool().Exec(ctx, query, at, id, recipientID)
	if err != nil {
		r.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.Int64("notification_id", id),
		)
		return false, fmt.Errorf("mark notification read: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkAllRead marks every unread notification of the recipient as read in one statement,
// all sharing the same read_at. Returns the number of rows changed.
func (r *Repository) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = $1
		WHERE recipient_id = $2 AND is_read = false
	`

	result, err := r.db.Pool().Exec(ctx, query, at, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.RowsAffected(), nil
}

// ClearAll deletes every notification of the recipient, read or not.
func (r *Repository) ClearAll(ctx context.Context, recipientID int64) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("clear notifications: %w", err)
	}

	r.logger.Info("notifications cleared",
		zap.Int64("recipient_id", recipientID),
		zap.Int64("deleted", result.RowsAffected()),
	)

	return result.RowsAffected(), nil
}

// GetUser loads the account behind an authenticated identity.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, email, first_name, last_name, is_active
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &u, nil
}

func (r *Repository) queryNotifications(ctx context.Context, query string, args ...any) ([]*Notification, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*Notification{}
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	err := row.Scan(
		&notif.ID,
		&notif.RecipientID,
		&notif.Kind,
		&notif.Title,
		&notif.Message,
		&notif.RelatedType,
		&notif.RelatedID,
		&notif.Data,
		&notif.IsRead,
		&notif.ReadAt,
		&notif.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notif.Data == nil {
		notif.Data = map[string]any{}
	}
	return &notif, nil
}
