package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/fleet-gateway/internal/config"
	"github.com/tbourn/fleet-gateway/internal/domain"
)

// ErrStoreUnavailable is returned by Allow under fail-closed when the store
// could not be reached.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Decision is the result of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	ResetIn    time.Duration // whole seconds until ResetAt
	RetryAfter time.Duration // equals ResetIn, set only when denied
	Degraded   bool          // allowed only because the store failed
}

// Limiter applies the configured tier limits on top of a Store.
type Limiter struct {
	store Store
	cfg   config.RateLimitConfig
	now   func() time.Time
	alarm *rate.Sometimes
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter backed by store.
func New(store Store, cfg config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		alarm: &rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Limits returns the window and ceiling of tier.
func (l *Limiter) Limits(tier domain.Tier) config.TierLimits { return l.cfg.For(tier) }

// Store returns the backing store.
func (l *Limiter) Store() Store { return l.store }

// Allow counts one request from clientID against tier.
//
// The request is denied once the window count exceeds the tier maximum.
// When the store fails, the request is allowed and marked Degraded if the
// limiter fails open; otherwise ErrStoreUnavailable is returned.
func (l *Limiter) Allow(ctx context.Context, clientID string, tier domain.Tier) (Decision, error) {
	lim := l.cfg.For(tier)
	cnt, err := l.store.Increment(ctx, string(tier)+":"+clientID, lim.Window)
	now := l.now()

	if err != nil {
		storeErrors.Inc()
		if !l.cfg.FailOpen {
			decisions.WithLabelValues(string(tier), "unavailable").Inc()
			log.Error().Err(err).Str("tier", string(tier)).Msg("rate limit store unavailable, rejecting")
			return Decision{Limit: lim.Max, ResetAt: now.Add(lim.Window), ResetIn: ceilSeconds(lim.Window)}, errors.Join(ErrStoreUnavailable, err)
		}
		l.alarm.Do(func() {
			log.Error().Err(err).Str("tier", string(tier)).Msg("rate limit store unavailable, failing open")
		})
		decisions.WithLabelValues(string(tier), "degraded").Inc()
		return Decision{
			Allowed:   true,
			Limit:     lim.Max,
			Remaining: lim.Max,
			ResetAt:   now.Add(lim.Window),
			ResetIn:   ceilSeconds(lim.Window),
			Degraded:  true,
		}, nil
	}

	d := Decision{
		Allowed:   cnt.Count <= lim.Max,
		Limit:     lim.Max,
		Remaining: max(lim.Max-cnt.Count, 0),
		ResetAt:   cnt.ResetAt,
		ResetIn:   ceilSeconds(cnt.ResetAt.Sub(now)),
	}
	if d.Allowed {
		decisions.WithLabelValues(string(tier), "allowed").Inc()
		return d, nil
	}
	d.RetryAfter = d.ResetIn
	decisions.WithLabelValues(string(tier), "denied").Inc()
	return d, nil
}

// ceilSeconds rounds d up to whole seconds, never below one.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	s := (d + time.Second - 1) / time.Second
	return s * time.Second
}
