// Package proxy forwards matched requests to downstream services.
//
// Each service gets its own httputil.ReverseProxy and circuit breaker. The
// proxy strips client-supplied identity headers and cookies, stamps the
// verified identity and correlation id, propagates trace context, and
// streams the response back without buffering it.
//
// Failures that happen before the downstream answers are returned to the
// caller as *Error so the HTTP layer can render them; nothing about the
// service topology is written to the client here.
package proxy

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

// Headers the gateway owns on the way downstream.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
	HeaderUserEmail     = "X-User-Email"
	HeaderUserRole      = "X-User-Role"
)

// errUpstreamTimeout is the cancellation cause of a call that ran past the
// configured timeout.
var errUpstreamTimeout = errors.New("upstream timeout")

var (
	// ErrUnknownService means a rule points at a service with no endpoint.
	ErrUnknownService = errors.New("no endpoint for service")
	// ErrTimeout and ErrUnavailable classify *Error values.
	ErrTimeout     = errors.New("upstream timed out")
	ErrUnavailable = errors.New("upstream unavailable")
)

// Error describes a forward that failed before any response was written.
type Error struct {
	Service domain.ServiceKey
	Status  int // 502 or 504
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("proxy %s: %v: %v", e.Service, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Options configures New.
type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
	// Transport overrides the shared downstream transport (tests).
	Transport http.RoundTripper
}

type target struct {
	key     domain.ServiceKey
	rp      *httputil.ReverseProxy
	breaker *breakerTransport
}

// Proxy holds one reverse proxy per downstream service. Safe for concurrent use.
type Proxy struct {
	targets map[domain.ServiceKey]*target
	timeout time.Duration
}

// New builds a Proxy for the given endpoints.
func New(endpoints map[domain.ServiceKey]domain.ServiceEndpoint, opts Options) (*Proxy, error) {
	if opts.Timeout <= 0 {
		return nil, errors.New("proxy timeout must be positive")
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = 30 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = newTransport()
	}

	p := &Proxy{targets: make(map[domain.ServiceKey]*target, len(endpoints)), timeout: opts.Timeout}
	for key, ep := range endpoints {
		if ep.BaseURL == nil {
			return nil, fmt.Errorf("service %s: missing base url", key)
		}
		t := &target{key: key, breaker: newBreakerTransport(key, base, opts.BreakerFailures, opts.BreakerOpenFor)}
		baseURL := ep.BaseURL
		t.rp = &httputil.ReverseProxy{
			Rewrite:        func(pr *httputil.ProxyRequest) { rewrite(pr, baseURL) },
			Transport:      t.breaker,
			FlushInterval:  -1,
			ModifyResponse: modifyResponse,
			ErrorHandler:   t.handleError,
			ErrorLog:       stdlog.New(log.Logger, "", 0),
		}
		p.targets[key] = t
	}
	return p, nil
}

func newTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 64
	tr.IdleConnTimeout = 90 * time.Second
	tr.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return tr
}

// forward is the per-call state carried on the outbound request context.
type forward struct {
	rule      domain.RouteRule
	identity  *domain.AuthContext
	stopTimer func() bool
	failure   *Error
}

type forwardKey struct{}

func forwardFrom(ctx context.Context) *forward {
	f, _ := ctx.Value(forwardKey{}).(*forward)
	return f
}

// Forward proxies r to the service named by rule.
//
// identity is nil for public routes. A non-nil error means nothing was
// written to w and the caller must respond.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, rule domain.RouteRule, identity *domain.AuthContext) error {
	t, ok := p.targets[rule.Service]
	if !ok {
		return &Error{Service: rule.Service, Status: http.StatusBadGateway, Kind: ErrUnavailable, Err: ErrUnknownService}
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	timer := time.AfterFunc(p.timeout, func() { cancel(errUpstreamTimeout) })
	defer func() {
		timer.Stop()
		cancel(nil)
	}()

	f := &forward{rule: rule, identity: identity, stopTimer: timer.Stop}
	ctx = context.WithValue(ctx, forwardKey{}, f)

	start := time.Now()
	t.rp.ServeHTTP(w, r.WithContext(ctx))
	upstreamLat.WithLabelValues(string(t.key)).Observe(time.Since(start).Seconds())

	if f.failure != nil {
		upstreamReqs.WithLabelValues(string(t.key), outcome(f.failure)).Inc()
		return f.failure
	}
	upstreamReqs.WithLabelValues(string(t.key), "ok").Inc()
	return nil
}

// BreakerState reports the breaker state of svc.
func (p *Proxy) BreakerState(svc domain.ServiceKey) (gobreaker.State, bool) {
	t, ok := p.targets[svc]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return t.breaker.State(), true
}

func rewrite(pr *httputil.ProxyRequest, base *url.URL) {
	f := forwardFrom(pr.In.Context())

	// Keep the inbound forwarding chain; Rewrite drops it from Out.
	if prior := pr.In.Header.Values("X-Forwarded-For"); len(prior) > 0 {
		pr.Out.Header["X-Forwarded-For"] = append([]string(nil), prior...)
	}

	if f != nil {
		pr.Out.URL.Path, pr.Out.URL.RawPath = upstreamPath(f.rule, pr.In.URL)
	}
	pr.SetURL(base)
	pr.SetXForwarded()

	h := pr.Out.Header
	h.Del("Cookie")
	h.Del(HeaderUserID)
	h.Del(HeaderUserEmail)
	h.Del(HeaderUserRole)
	if f != nil && f.identity != nil {
		h.Set(HeaderUserID, f.identity.UserID)
		if f.identity.Email != "" {
			h.Set(HeaderUserEmail, f.identity.Email)
		}
		if f.identity.Role != "" {
			h.Set(HeaderUserRole, f.identity.Role)
		}
	}
	if h.Get(HeaderCorrelationID) == "" {
		h.Set(HeaderCorrelationID, uuid.NewString())
	}
	otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(h))
}

// upstreamPath strips the rule prefix from both the decoded and the escaped
// inbound path, so escapes such as %2F reach the service as sent.
func upstreamPath(rule domain.RouteRule, in *url.URL) (string, string) {
	p := rule.UpstreamPath(in.Path)
	if in.RawPath == "" {
		return p, ""
	}
	raw := rule.UpstreamPath(in.RawPath)
	if u, err := url.PathUnescape(raw); err != nil || u != p {
		return p, ""
	}
	return p, raw
}

// modifyResponse lifts the timeout for event streams once headers arrive;
// the stream then lives as long as both ends keep it open.
func modifyResponse(resp *http.Response) error {
	if resp.Request == nil {
		return nil
	}
	f := forwardFrom(resp.Request.Context())
	if f == nil {
		return nil
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == "text/event-stream" {
		f.stopTimer()
	}
	return nil
}

func (t *target) handleError(_ http.ResponseWriter, r *http.Request, err error) {
	pe := classify(r.Context(), t.key, err)
	if f := forwardFrom(r.Context()); f != nil {
		f.failure = pe
	}

	ev := loggerFor(r.Context()).Warn()
	if errors.Is(pe.Kind, ErrUnavailable) && !errors.Is(err, context.Canceled) {
		ev = loggerFor(r.Context()).Error()
	}
	ev.Err(err).
		Str("service", string(t.key)).
		Str("path", r.URL.Path).
		Int("status", pe.Status).
		Msg("upstream request failed")
}

func classify(ctx context.Context, svc domain.ServiceKey, err error) *Error {
	timedOut := errors.Is(err, errUpstreamTimeout) ||
		errors.Is(context.Cause(ctx), errUpstreamTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if !timedOut && errors.As(err, &ne) && ne.Timeout() {
		timedOut = true
	}
	if timedOut {
		return &Error{Service: svc, Status: http.StatusGatewayTimeout, Kind: ErrTimeout, Err: err}
	}
	return &Error{Service: svc, Status: http.StatusBadGateway, Kind: ErrUnavailable, Err: err}
}

func outcome(e *Error) string {
	switch {
	case errors.Is(e.Kind, ErrTimeout):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}

// loggerFor returns the request-scoped logger when one was attached.
func loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
