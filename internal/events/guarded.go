package events

import (
	"context"

	"github.com/rosepetal/storefront/internal/circuitbreaker"
)

// GuardedPublisher fails fast with circuitbreaker.ErrOpen while the brokers
// are down, so request latency does not depend on Kafka timeouts.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedPublisher(next Publisher, breaker *circuitbreaker.CircuitBreaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, breaker: breaker}
}

func (g *GuardedPublisher) Publish(ctx context.Context, event Event) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Publish(ctx, event)
	})
}
