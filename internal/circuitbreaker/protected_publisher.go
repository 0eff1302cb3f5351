package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/channels"
)

// ProtectedPublisher wraps a channels.Publisher with a CircuitBreaker.
// Subscriptions are never gated.
type ProtectedPublisher struct {
	publisher channels.Publisher
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewProtectedPublisher wraps a publisher with circuit breaker protection.
func NewProtectedPublisher(publisher channels.Publisher, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedPublisher {
	return &ProtectedPublisher{
		publisher: publisher,
		breaker:   breaker,
		logger:    logger,
	}
}

// Publish returns ErrCircuitOpen without touching the layer while the breaker
// is open.
func (p *ProtectedPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected publish - failing fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("channel", channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.publisher.Publish(ctx, channel, payload); err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for health reporting.
func (p *ProtectedPublisher) Breaker() *CircuitBreaker {
	return p.breaker
}
