package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/auth"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/notify"
	"github.com/lalithlochan/digitagro/internal/redis"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	unreadPageSize  = 50
)

// Inbox is the notification service surface the handlers use. *notify.Service satisfies it.
type Inbox interface {
	Create(ctx context.Context, spec notify.Spec) (*db.Notification, error)
	BulkCreate(ctx context.Context, specs []notify.Spec) ([]*db.Notification, error)
	Get(ctx context.Context, recipientID, id int64) (*db.Notification, error)
	List(ctx context.Context, recipientID int64, limit, offset int) ([]*db.Notification, error)
	Unread(ctx context.Context, recipientID int64, limit int) ([]*db.Notification, int, error)
	MarkRead(ctx context.Context, recipientID, id int64) (bool, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	ClearAll(ctx context.Context, recipientID int64) (int64, error)
}

// EventFactory announces business actions with fixed wording. *notify.Factory satisfies it.
type EventFactory interface {
	OrderCancelled(ctx context.Context, o notify.Order, by notify.Party) ([]*db.Notification, error)
	Announce(ctx context.Context, a notify.Action, body any) ([]*db.Notification, error)
}

// IdempotencyStore dedupes producer calls. *redis.IdempotencyService satisfies it.
type IdempotencyStore interface {
	CheckOrReserve(ctx context.Context, scope, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, scope, key string, result *redis.IdempotencyResult, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	inbox       Inbox
	events      EventFactory
	idempotency IdempotencyStore // nil when redis is not configured
	validate    *validator.Validate
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, inbox Inbox, events EventFactory, idempotency IdempotencyStore) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("notification_kind", func(fl validator.FieldLevel) bool {
		return notify.Kind(fl.Field().String()).Valid()
	})
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		logger:      logger,
		inbox:       inbox,
		events:      events,
		idempotency: idempotency,
		validate:    validate,
	}
}

// InboxRoutes registers the recipient-facing routes. They expect AuthMiddleware upstream.
func (h *Handler) InboxRoutes(r chi.Router) {
	r.Get("/", h.ListNotifications)
	r.Delete("/", h.ClearNotifications)
	r.Get("/unread", h.UnreadNotifications)
	r.Post("/read-all", h.MarkAllRead)
	r.Get("/{id}", h.GetNotification)
	r.Post("/{id}/read", h.MarkRead)
}

// InternalRoutes registers the producer routes. They expect ServiceTokenMiddleware upstream.
func (h *Handler) InternalRoutes(r chi.Router) {
	r.Post("/notifications", h.CreateNotification)
	r.Post("/notifications/bulk", h.BulkCreateNotifications)
	r.Post("/orders/{id}/cancelled", h.OrderCancelled)
	r.Post("/events/{action}", h.AnnounceEvent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// caller returns the authenticated user, writing a 401 when there is none.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (*db.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
		return nil, false
	}
	return user, true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= maxPageSize {
			limit = l
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if o, err := strconv.Atoi(s); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// isInputError reports service errors caused by the request content.
func isInputError(err error) bool {
	return errors.Is(err, notify.ErrInvalidKind) ||
		errors.Is(err, notify.ErrEmptyText) ||
		errors.Is(err, notify.ErrInvalidRecipient)
}
