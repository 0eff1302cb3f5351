package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/auth"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/redis"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("bad miniredis port: %v", err)
	}
	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// stubAuth accepts "good" and "inactive" tokens and fails the backend on "boom".
type stubAuth struct{}

func (stubAuth) Resolve(ctx context.Context, token string) (*db.User, error) {
	switch token {
	case "":
		return nil, auth.ErrMissingToken
	case "good":
		return &db.User{ID: 7, IsActive: true}, nil
	case "inactive":
		return nil, auth.ErrInactiveUser
	case "boom":
		return nil, errors.New("connection refused")
	default:
		return nil, auth.ErrInvalidToken
	}
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if got := UserKeyFunc(req); got != "" {
		t.Errorf("expected empty key without user, got %q", got)
	}

	req = req.WithContext(auth.WithUser(req.Context(), &db.User{ID: 42}))
	if got := UserKeyFunc(req); got != "user:42" {
		t.Errorf("expected %q, got %q", "user:42", got)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Forwarded-For chain", "1.2.3.4, 10.0.0.1", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8"},
		{"RemoteAddr without port", "", "", "5.6.7.8", "ip:5.6.7.8"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RateLimitMiddleware(nil, nil, "test", IPKeyFunc)
	wrapped := middleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	client := newTestRedis(t)
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: 2, Window: time.Minute})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), "test", IPKeyFunc)(handler)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "9.9.9.9:1000"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 200 429], got %v", codes)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("expected X-RateLimit-Limit 2, got %q", got)
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(last.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Type != "rate_limit_exceeded" {
		t.Errorf("expected rate_limit_exceeded, got %q", errResp.Type)
	}
}

func TestRateLimitMiddleware_KeysAreIndependent(t *testing.T) {
	client := newTestRedis(t)
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: 1, Window: time.Minute})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), "test", IPKeyFunc)(handler)

	for _, addr := range []string{"1.1.1.1:1", "2.2.2.2:1"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", addr, rec.Code)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"valid token", "Bearer good", http.StatusOK},
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"inactive user", "Bearer inactive", http.StatusUnauthorized},
		{"backend failure", "Bearer boom", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *db.User
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = auth.UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			wrapped := AuthMiddleware(stubAuth{}, zap.NewNop())(handler)

			req := httptest.NewRequest("GET", "/v1/notifications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusOK {
				if seen == nil || seen.ID != 7 {
					t.Errorf("expected user 7 in context, got %+v", seen)
				}
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", ct)
			}
		})
	}
}

func TestServiceTokenMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		configured     string
		sent           string
		expectedStatus int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusOK},
		{"wrong token", "s3cret", "guess", http.StatusUnauthorized},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured rejects all", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			wrapped := ServiceTokenMiddleware(tt.configured)(handler)

			req := httptest.NewRequest("POST", "/v1/internal/notifications", nil)
			if tt.sent != "" {
				req.Header.Set(ServiceTokenHeader, tt.sent)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}
