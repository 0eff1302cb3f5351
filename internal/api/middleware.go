package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/auth"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/metrics"
	"github.com/lalithlochan/digitagro/internal/redis"
)

// ServiceTokenHeader carries the shared secret of internal producers.
const ServiceTokenHeader = "X-Service-Token"

// Authenticator resolves a bearer token. *auth.Provider satisfies it.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*db.User, error)
}

// AuthMiddleware resolves the request's bearer token to an active user and
// stores it in the context for the inbox handlers.
func AuthMiddleware(authenticator Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticator.Resolve(r.Context(), auth.TokenFromRequest(r))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
			case errors.Is(err, auth.ErrMissingToken),
				errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrInactiveUser):
				w.Header().Set("WWW-Authenticate", `Bearer realm="digitagro"`)
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", err.Error())
			default:
				logger.Error("authentication failed", zap.Error(err))
				writeProblem(w, http.StatusInternalServerError, "internal_error", "Authentication unavailable", "")
			}
		})
	}
}

// ServiceTokenMiddleware guards the producer routes with a shared secret. An
// empty configured token rejects every request.
func ServiceTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "invalid service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware creates an HTTP middleware that enforces rate limits.
// The keyFunc extracts the rate limit key from the request (e.g., user ID, IP).
// scope labels rejections in metrics.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, scope string, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection(scope)
				retryAfter := max(1, int(time.Until(result.ResetAt).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests",
					"Rate limit exceeded. Please retry after the specified time.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKeyFunc keys rate limits by the authenticated user. It must run after AuthMiddleware.
func UserKeyFunc(r *http.Request) string {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return ""
	}
	return "user:" + strconv.FormatInt(user.ID, 10)
}

// IPKeyFunc keys rate limits by client address: the first X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote host.
func IPKeyFunc(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}
