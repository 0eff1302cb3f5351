package db

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a row does not exist or is not visible to the caller.
var ErrNotFound = errors.New("not found")

// Notification is a durable event addressed to exactly one recipient.
// Title, message and kind are fixed at creation; only the read state changes afterwards.
type Notification struct {
	ID          int64          `json:"id"`
	RecipientID int64          `json:"recipient_id"`
	Kind        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	RelatedType *string        `json:"related_type,omitempty"`
	RelatedID   *int64         `json:"related_id,omitempty"`
	Data        map[string]any `json:"data"`
	IsRead      bool           `json:"is_read"`
	ReadAt      *time.Time     `json:"read_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// User is the subset of the marketplace account needed to authorise sessions
// and to render names inside notification messages.
type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	IsActive  bool
}

// FullName returns "first last", or the local part of the email when no name is set.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}
