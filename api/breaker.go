package api

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"pickleball-calendar/metrics"
)

// ErrUpstreamUnavailable is returned while the breaker rejects calls.
var ErrUpstreamUnavailable = errors.New("upstream unavailable: circuit open")

type breaker struct {
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger *zap.Logger
}

// newBreaker opens after failures consecutive upstream errors and probes
// again with a single request once timeout has passed.
func newBreaker(name string, failures uint32, timeout time.Duration, logger *zap.Logger) *breaker {
	if failures == 0 {
		failures = 5
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	metrics.BreakerState.Set(0)

	b := &breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a cancelled run says nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.Set(stateValue(to))
		},
	})
	return b
}

func (b *breaker) execute(fn func() ([]byte, error)) ([]byte, error) {
	payload, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrUpstreamUnavailable, err)
	}
	return payload, err
}

func (b *breaker) state() gobreaker.State {
	return b.cb.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState reports the upstream breaker state as "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.state().String()
}
