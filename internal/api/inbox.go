package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/notify"
)

// ListResponse is a page of the caller's inbox.
type ListResponse struct {
	Data   []notify.Event `json:"data"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Count  int            `json:"count"`
}

// UnreadResponse carries the total unread count and the newest unread events.
type UnreadResponse struct {
	Count   int            `json:"count"`
	Results []notify.Event `json:"results"`
}

// ListNotifications handles GET /v1/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	list, err := h.inbox.List(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Int64("user_id", user.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list notifications", "")
		return
	}

	events := notify.NewEvents(list)
	h.writeJSON(w, http.StatusOK, ListResponse{
		Data:   events,
		Limit:  limit,
		Offset: offset,
		Count:  len(events),
	})
}

// UnreadNotifications handles GET /v1/notifications/unread
func (h *Handler) UnreadNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	list, count, err := h.inbox.Unread(r.Context(), user.ID, unreadPageSize)
	if err != nil {
		h.logger.Error("failed to list unread notifications", zap.Int64("user_id", user.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list unread notifications", "")
		return
	}

	h.writeJSON(w, http.StatusOK, UnreadResponse{
		Count:   count,
		Results: notify.NewEvents(list),
	})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, valid := pathID(r)
	if !valid {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "")
		return
	}

	notif, ok := h.lookup(w, r, user.ID, id)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, notify.NewEvent(notif))
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, valid := pathID(r)
	if !valid {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "")
		return
	}

	// Ownership is checked first so that a foreign id is a 404 here, unlike
	// the socket where it is silently ignored.
	if _, ok := h.lookup(w, r, user.ID, id); !ok {
		return
	}

	if _, err := h.inbox.MarkRead(r.Context(), user.ID, id); err != nil {
		h.logger.Error("failed to mark notification read",
			zap.Int64("user_id", user.ID),
			zap.Int64("notification_id", id),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to mark notification read", "")
		return
	}

	notif, ok := h.lookup(w, r, user.ID, id)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, notify.NewEvent(notif))
}

// MarkAllRead handles POST /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	n, err := h.inbox.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to mark all read", zap.Int64("user_id", user.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to mark notifications read", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"marked_count": n})
}

// ClearNotifications handles DELETE /v1/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}

	n, err := h.inbox.ClearAll(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to clear notifications", zap.Int64("user_id", user.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to clear notifications", "")
		return
	}

	h.logger.Info("notifications cleared", zap.Int64("user_id", user.ID), zap.Int64("deleted", n))
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted_count": n})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, userID, id int64) (*db.Notification, bool) {
	notif, err := h.inbox.Get(r.Context(), userID, id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get notification",
			zap.Int64("user_id", userID),
			zap.Int64("notification_id", id),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get notification", "")
		return nil, false
	}
	return notif, true
}
