// Package auth resolves the bearer token on REST and websocket requests to an
// active user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/db"
)

var (
	ErrMissingToken = errors.New("authorization required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrInactiveUser = errors.New("user is inactive")
)

// UserStore loads users by id. *db.Repository satisfies it.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
}

// Provider validates HS256 tokens whose subject is the user id.
type Provider struct {
	secret []byte
	users  UserStore
	logger *zap.Logger
}

// NewProvider creates a token provider.
func NewProvider(secret string, users UserStore, logger *zap.Logger) *Provider {
	return &Provider{secret: []byte(secret), users: users, logger: logger}
}

// Resolve returns the active user the token was issued for.
func (p *Provider) Resolve(ctx context.Context, token string) (*db.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	userID, err := p.subject(token)
	if err != nil {
		return nil, err
	}

	user, err := p.users.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	return user, nil
}

func (p *Provider) subject(token string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		p.logger.Debug("token rejected", zap.Error(err))
		return 0, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// Issue signs a token for userID with the shared secret, in the same shape the
// account service issues them.
func (p *Provider) Issue(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// TokenFromRequest reads a Bearer token, falling back to the "token" query
// parameter since browsers can't set headers on websocket handshakes.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*db.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(*db.User)
	return user, ok && user != nil
}
