package notify

import (
	"time"

	"github.com/lalithlochan/digitagro/internal/db"
)

// Event is the client-facing shape of a notification, shared by the REST inbox,
// the session backlog and live pushes.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Icon      string         `json:"icon"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	IsRead    bool           `json:"is_read"`
	ReadAt    *time.Time     `json:"read_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent renders a stored notification for clients.
func NewEvent(n *db.Notification) Event {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        n.ID,
		Type:      n.Kind,
		Icon:      Kind(n.Kind).Icon(),
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// NewEvents renders a list, preserving order. Never returns nil.
func NewEvents(ns []*db.Notification) []Event {
	out := make([]Event, 0, len(ns))
	for _, n := range ns {
		out = append(out, NewEvent(n))
	}
	return out
}
