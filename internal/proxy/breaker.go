package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

// breakerTransport fails fast once a service has produced too many
// consecutive transport errors. HTTP error statuses do not count; only
// requests that never got a response do.
type breakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

func newBreakerTransport(svc domain.ServiceKey, next http.RoundTripper, failures uint32, openFor time.Duration) *breakerTransport {
	breakerState.WithLabelValues(string(svc)).Set(0)

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        string(svc),
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// A caller hanging up says nothing about the service's health.
		IsSuccessful: func(err error) bool {
			return err == nil || (errors.Is(err, context.Canceled) && !errors.Is(err, errUpstreamTimeout))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			ev := log.Info()
			if to == gobreaker.StateOpen {
				ev = log.Warn()
			}
			ev.Str("service", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &breakerTransport{next: next, cb: cb}
}

func (b *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.RoundTrip(req)
		if err != nil && errors.Is(context.Cause(req.Context()), errUpstreamTimeout) {
			return nil, errors.Join(errUpstreamTimeout, err)
		}
		return resp, err
	})
}

// State exposes the breaker state.
func (b *breakerTransport) State() gobreaker.State { return b.cb.State() }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
