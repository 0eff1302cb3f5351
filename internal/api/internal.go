package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
	"github.com/lalithlochan/digitagro/internal/notify"
	"github.com/lalithlochan/digitagro/internal/redis"
)

// Idempotency scopes, one per producer route.
const (
	scopeCreate         = "create"
	scopeBulk           = "bulk"
	scopeOrderCancelled = "order_cancelled"
	scopeEvent          = "event"
)

// CreateRequest is the body of a single producer notification.
type CreateRequest struct {
	RecipientID int64          `json:"recipient_id" validate:"required,gt=0"`
	Kind        string         `json:"kind" validate:"required,notification_kind"`
	Title       string         `json:"title" validate:"required,max=200"`
	Message     string         `json:"message" validate:"required"`
	RelatedType string         `json:"related_type,omitempty" validate:"omitempty,max=50"`
	RelatedID   *int64         `json:"related_id,omitempty" validate:"omitempty,gt=0"`
	Data        map[string]any `json:"data,omitempty"`
}

func (c CreateRequest) spec() notify.Spec {
	s := notify.Spec{
		RecipientID: c.RecipientID,
		Kind:        notify.Kind(c.Kind),
		Title:       c.Title,
		Message:     c.Message,
		Data:        c.Data,
	}
	if c.RelatedType != "" && c.RelatedID != nil {
		s.Related = &notify.Related{Type: c.RelatedType, ID: *c.RelatedID}
	}
	return s
}

// BulkCreateRequest creates many notifications in one write without pushing them live.
type BulkCreateRequest struct {
	Notifications []CreateRequest `json:"notifications" validate:"required,min=1,max=500,dive"`
}

// OrderCancelledRequest describes a cancelled order and who cancelled it.
type OrderCancelledRequest struct {
	Seller      notify.Party `json:"seller" validate:"required"`
	Buyer       notify.Party `json:"buyer" validate:"required"`
	Product     string       `json:"product" validate:"required"`
	Quantity    float64      `json:"quantity" validate:"gte=0"`
	Total       float64      `json:"total" validate:"gte=0"`
	CancelledBy notify.Party `json:"cancelled_by" validate:"required"`
}

// CreateResponse is returned for a single created notification.
type CreateResponse struct {
	ID int64 `json:"id"`
}

// IDsResponse is returned when a call may create several notifications.
type IDsResponse struct {
	IDs   []int64 `json:"ids"`
	Count int     `json:"count"`
}

// CreateNotification handles POST /v1/internal/notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if h.replay(w, r, scopeCreate, key) {
		return
	}

	var req CreateRequest
	if !h.decode(w, r, &req) {
		h.release(r, scopeCreate, key)
		return
	}

	notif, err := h.inbox.Create(r.Context(), req.spec())
	if err != nil {
		h.release(r, scopeCreate, key)
		h.createFailed(w, err)
		return
	}

	h.logger.Info("notification created",
		zap.Int64("notification_id", notif.ID),
		zap.Int64("recipient_id", notif.RecipientID),
		zap.String("kind", notif.Kind),
	)

	h.remember(r, scopeCreate, key, http.StatusCreated, notif.ID)
	h.writeJSON(w, http.StatusCreated, CreateResponse{ID: notif.ID})
}

// BulkCreateNotifications handles POST /v1/internal/notifications/bulk
func (h *Handler) BulkCreateNotifications(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if h.replay(w, r, scopeBulk, key) {
		return
	}

	var req BulkCreateRequest
	if !h.decode(w, r, &req) {
		h.release(r, scopeBulk, key)
		return
	}

	specs := make([]notify.Spec, 0, len(req.Notifications))
	for _, n := range req.Notifications {
		specs = append(specs, n.spec())
	}

	created, err := h.inbox.BulkCreate(r.Context(), specs)
	if err != nil {
		h.release(r, scopeBulk, key)
		h.createFailed(w, err)
		return
	}

	ids := notificationIDs(created)
	h.remember(r, scopeBulk, key, http.StatusCreated, ids...)
	h.writeJSON(w, http.StatusCreated, IDsResponse{IDs: ids, Count: len(ids)})
}

// OrderCancelled handles POST /v1/internal/orders/{id}/cancelled
func (h *Handler) OrderCancelled(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "")
		return
	}

	// The same client key may legitimately be reused for different orders.
	scope := scopeOrderCancelled + ":" + strconv.FormatInt(orderID, 10)
	key := r.Header.Get("Idempotency-Key")
	if h.replay(w, r, scope, key) {
		return
	}

	var req OrderCancelledRequest
	if !h.decode(w, r, &req) {
		h.release(r, scope, key)
		return
	}

	order := notify.Order{
		ID:       orderID,
		Seller:   req.Seller,
		Buyer:    req.Buyer,
		Product:  req.Product,
		Quantity: req.Quantity,
		Total:    req.Total,
	}
	created, err := h.events.OrderCancelled(r.Context(), order, req.CancelledBy)
	if err != nil {
		h.release(r, scope, key)
		h.createFailed(w, err)
		return
	}

	ids := notificationIDs(created)
	h.logger.Info("order cancellation notified",
		zap.Int64("order_id", orderID),
		zap.Int64("cancelled_by", req.CancelledBy.UserID),
		zap.Int("notified", len(ids)),
	)

	h.remember(r, scope, key, http.StatusCreated, ids...)
	h.writeJSON(w, http.StatusCreated, IDsResponse{IDs: ids, Count: len(ids)})
}

// AnnounceEvent handles POST /v1/internal/events/{action}. The body is the
// action's business object; title and message come from the factory.
func (h *Handler) AnnounceEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	action, ok := notify.LookupAction(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown_action", "Unknown business action", name)
		return
	}

	scope := scopeEvent + ":" + action.Name()
	key := r.Header.Get("Idempotency-Key")
	if h.replay(w, r, scope, key) {
		return
	}

	body := action.Body()
	if !h.decode(w, r, body) {
		h.release(r, scope, key)
		return
	}

	created, err := h.events.Announce(r.Context(), action, body)
	if err != nil {
		h.release(r, scope, key)
		h.createFailed(w, err)
		return
	}

	ids := notificationIDs(created)
	h.logger.Info("business event announced",
		zap.String("action", action.Name()),
		zap.Int("notified", len(ids)),
	)

	h.remember(r, scope, key, http.StatusCreated, ids...)
	h.writeJSON(w, http.StatusCreated, IDsResponse{IDs: ids, Count: len(ids)})
}

func (h *Handler) createFailed(w http.ResponseWriter, err error) {
	if isInputError(err) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification", err.Error())
		return
	}
	h.logger.Error("failed to create notification", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create notification", "")
}

// replay handles the idempotency check. It returns true when a response has
// already been written: a replayed result or a 409 for a call still in flight.
// Redis errors are logged and the request proceeds without deduplication.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, scope, key string) bool {
	if h.idempotency == nil || key == "" {
		return false
	}

	cached, err := h.idempotency.CheckOrReserve(r.Context(), scope, key)
	if errors.Is(err, redis.ErrDuplicateRequest) {
		h.writeError(w, http.StatusConflict, "duplicate_request", "Request already in progress",
			"A request with this idempotency key is currently being processed")
		return true
	}
	if err != nil {
		h.logger.Warn("idempotency check failed", zap.String("scope", scope), zap.Error(err))
		return false
	}
	if cached == nil {
		return false
	}

	metrics.RecordIdempotencyHit()
	w.Header().Set("X-Idempotency-Replayed", "true")
	if len(cached.NotificationIDs) == 1 && scope == scopeCreate {
		h.writeJSON(w, cached.StatusCode, CreateResponse{ID: cached.NotificationIDs[0]})
		return true
	}
	ids := cached.NotificationIDs
	if ids == nil {
		ids = []int64{}
	}
	h.writeJSON(w, cached.StatusCode, IDsResponse{IDs: ids, Count: len(ids)})
	return true
}

func (h *Handler) remember(r *http.Request, scope, key string, status int, ids ...int64) {
	if h.idempotency == nil || key == "" {
		return
	}
	result := &redis.IdempotencyResult{NotificationIDs: ids, StatusCode: status}
	if err := h.idempotency.Store(r.Context(), scope, key, result, redis.IdempotencyTTL); err != nil {
		h.logger.Warn("failed to store idempotency result", zap.String("scope", scope), zap.Error(err))
	}
}

func (h *Handler) release(r *http.Request, scope, key string) {
	if h.idempotency == nil || key == "" {
		return
	}
	if err := h.idempotency.Release(r.Context(), scope, key); err != nil {
		h.logger.Warn("failed to release idempotency key", zap.String("scope", scope), zap.Error(err))
	}
}

func notificationIDs(ns []*db.Notification) []int64 {
	ids := make([]int64, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.ID)
	}
	return ids
}
