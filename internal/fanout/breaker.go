package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"boarcore.com/pkg/metrics"
)

type BreakerConfig struct {
	// MaxRequests probes are let through while half-open.
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	// Timeout is how long the breaker stays open before probing.
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

func (c *BreakerConfig) fill() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
}

// ErrBreakerOpen is returned instead of calling a broker that keeps failing.
var ErrBreakerOpen = errors.New("fanout: breaker open")

// Guarded fails fast while the wrapped broker is unhealthy, so a dead broker
// costs the forwarder nothing per event.
type Guarded struct {
	next Broker
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func WithBreaker(name string, next Broker, c BreakerConfig) *Guarded {
	c.fill()
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: c.MaxRequests,
		Interval:    c.Interval,
		Timeout:     c.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.ConsecutiveFailures
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &Guarded{next: next, cb: cb}
}

func (g *Guarded) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Publish(ctx, topic, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) Close() error { return g.next.Close() }
