package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

func endpoint(t *testing.T, key domain.ServiceKey, raw string) map[domain.ServiceKey]domain.ServiceEndpoint {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return map[domain.ServiceKey]domain.ServiceEndpoint{key: {Key: key, BaseURL: u}}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

var fleetRule = domain.RouteRule{PathPrefix: "/api/fleet", Service: domain.ServiceFleet, RequiresAuth: true, Tier: domain.TierAPI}

func TestForward_RewritesPathQueryAndHeaders(t *testing.T) {
	var got *http.Request
	var body string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("X-Upstream", "fleet")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"123"}`)
	}))
	defer up.Close()

	p, err := New(endpoint(t, domain.ServiceFleet, up.URL+"/v1"), Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/vehicles/123?expand=owner&x=1", strings.NewReader(`{"a":1}`))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Cookie", "session=secret")
	req.Header.Set(HeaderUserID, "spoofed")
	req.Header.Set(HeaderUserRole, "ADMIN")
	req.Header.Set("Connection", "keep-alive, X-Hop")
	req.Header.Set("X-Hop", "drop-me")

	w := httptest.NewRecorder()
	id := &domain.AuthContext{UserID: "u-1", Email: "u@x.io", Role: "USER"}
	if err := p.Forward(w, req, fleetRule, id); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if w.Code != http.StatusCreated || w.Body.String() != `{"id":"123"}` || w.Header().Get("X-Upstream") != "fleet" {
		t.Fatalf("response not relayed: %d %q %v", w.Code, w.Body.String(), w.Header())
	}
	if got.Method != http.MethodPost || body != `{"a":1}` {
		t.Fatalf("method/body changed: %s %q", got.Method, body)
	}
	if got.URL.Path != "/v1/vehicles/123" {
		t.Fatalf("path = %q", got.URL.Path)
	}
	if got.URL.RawQuery != "expand=owner&x=1" {
		t.Fatalf("query = %q", got.URL.RawQuery)
	}
	if got.Header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("authorization should be forwarded")
	}
	if got.Header.Get("Cookie") != "" || got.Header.Get("X-Hop") != "" {
		t.Fatalf("cookie/hop-by-hop headers leaked: %v", got.Header)
	}
	if got.Header.Get(HeaderUserID) != "u-1" || got.Header.Get(HeaderUserRole) != "USER" || got.Header.Get(HeaderUserEmail) != "u@x.io" {
		t.Fatalf("identity headers not set from token: %v", got.Header)
	}
	if got.Header.Get(HeaderCorrelationID) == "" {
		t.Fatalf("correlation id should be added")
	}
	if got.Header.Get("X-Forwarded-For") == "" || got.Header.Get("X-Forwarded-Host") == "" {
		t.Fatalf("forwarded headers missing: %v", got.Header)
	}
	if host, _ := url.Parse(up.URL); got.Host != host.Host {
		t.Fatalf("Host = %q; want upstream host", got.Host)
	}
}

func TestForward_KeepsEscapedPathSegments(t *testing.T) {
	var uri string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri = r.RequestURI
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()

	cases := []struct {
		name, base, in, want string
	}{
		{"encoded slash", up.URL, "/api/fleet/docs/a%2Fb?x=1", "/docs/a%2Fb?x=1"},
		{"encoded slash under base path", up.URL + "/v1", "/api/fleet/docs/a%2Fb", "/v1/docs/a%2Fb"},
		{"plain path", up.URL, "/api/fleet/docs/a/b", "/docs/a/b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(endpoint(t, domain.ServiceFleet, tc.base), Options{Timeout: time.Second})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			req := httptest.NewRequest(http.MethodGet, tc.in, nil)
			if err := p.Forward(httptest.NewRecorder(), req, fleetRule, nil); err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if uri != tc.want {
				t.Fatalf("upstream RequestURI = %q; want %q", uri, tc.want)
			}
		})
	}
}

func TestForward_KeepsCorrelationIDAndPublicIdentity(t *testing.T) {
	var got http.Header
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()

	p, _ := New(endpoint(t, domain.ServiceSmartcar, up.URL), Options{Timeout: time.Second})
	rule := domain.RouteRule{PathPrefix: "/api/webhooks/smartcar", Service: domain.ServiceSmartcar, StripPrefix: "/api"}

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/smartcar", nil)
	req.Header.Set(HeaderCorrelationID, "corr-1")
	req.Header.Set(HeaderUserID, "spoofed")

	if err := p.Forward(httptest.NewRecorder(), req, rule, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got.Get(HeaderCorrelationID) != "corr-1" {
		t.Fatalf("existing correlation id should be kept, got %q", got.Get(HeaderCorrelationID))
	}
	if got.Get(HeaderUserID) != "" {
		t.Fatalf("spoofed identity must be stripped on public routes")
	}
}

func TestForward_UnreachableIs502AndLogsService(t *testing.T) {
	buf := captureLogs(t)
	p, _ := New(endpoint(t, domain.ServiceParts, deadURL(t)), Options{Timeout: 2 * time.Second})
	base := testutil.ToFloat64(upstreamReqs.WithLabelValues("parts", "unavailable"))

	w := httptest.NewRecorder()
	rule := domain.RouteRule{PathPrefix: "/api/parts", Service: domain.ServiceParts}
	start := time.Now()
	err := p.Forward(w, httptest.NewRequest(http.MethodGet, "/api/parts/items", nil), rule, nil)

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if pe.Status != http.StatusBadGateway || !errors.Is(err, ErrUnavailable) || pe.Service != domain.ServiceParts {
		t.Fatalf("unexpected error: %+v", pe)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("should fail within the timeout")
	}
	if w.Body.Len() != 0 {
		t.Fatalf("proxy must not write on failure, got %q", w.Body.String())
	}
	if !strings.Contains(buf.String(), `"service":"parts"`) {
		t.Fatalf("log should carry service key: %s", buf.String())
	}
	if got := testutil.ToFloat64(upstreamReqs.WithLabelValues("parts", "unavailable")); got != base+1 {
		t.Fatalf("unavailable counter = %v; want %v", got, base+1)
	}
}

func TestForward_TimeoutIs504(t *testing.T) {
	captureLogs(t)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer up.Close()

	p, _ := New(endpoint(t, domain.ServiceDelivery, up.URL), Options{Timeout: 50 * time.Millisecond})
	rule := domain.RouteRule{PathPrefix: "/api/delivery", Service: domain.ServiceDelivery}

	err := p.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/delivery/x", nil), rule, nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusGatewayTimeout || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected 504 timeout error, got %v", err)
	}
}

func TestForward_EventStreamOutlivesTimeout(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		_, _ = io.WriteString(w, "data: done\n\n")
	}))
	defer up.Close()

	p, _ := New(endpoint(t, domain.ServiceFleet, up.URL), Options{Timeout: 50 * time.Millisecond})
	w := httptest.NewRecorder()
	if err := p.Forward(w, httptest.NewRequest(http.MethodGet, "/api/fleet/live", nil), fleetRule, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !strings.Contains(w.Body.String(), "data: done") {
		t.Fatalf("stream was cut: %q", w.Body.String())
	}
}

func TestForward_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	captureLogs(t)
	p, _ := New(endpoint(t, domain.ServiceWorkshop, deadURL(t)), Options{
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerOpenFor:  time.Minute,
	})
	rule := domain.RouteRule{PathPrefix: "/api/workshop", Service: domain.ServiceWorkshop}
	call := func() error {
		return p.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/workshop/jobs", nil), rule, nil)
	}

	_ = call()
	if st, _ := p.BreakerState(domain.ServiceWorkshop); st != gobreaker.StateClosed {
		t.Fatalf("breaker should still be closed, got %v", st)
	}
	_ = call()
	if st, _ := p.BreakerState(domain.ServiceWorkshop); st != gobreaker.StateOpen {
		t.Fatalf("breaker should be open, got %v", st)
	}
	if v := testutil.ToFloat64(breakerState.WithLabelValues("workshop")); v != 2 {
		t.Fatalf("breaker gauge = %v; want 2", v)
	}

	err := call()
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state rejection, got %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusBadGateway {
		t.Fatalf("open breaker should map to 502, got %v", err)
	}
}

func TestForward_HTTPErrorsDoNotTripBreaker(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer up.Close()

	p, _ := New(endpoint(t, domain.ServiceAuth, up.URL), Options{Timeout: time.Second, BreakerFailures: 1})
	rule := domain.RouteRule{PathPrefix: "/api/auth", Service: domain.ServiceAuth}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		if err := p.Forward(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), rule, nil); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status should be relayed, got %d", w.Code)
		}
	}
	if st, _ := p.BreakerState(domain.ServiceAuth); st != gobreaker.StateClosed {
		t.Fatalf("breaker should stay closed on HTTP errors, got %v", st)
	}
}

func TestForward_UnknownService(t *testing.T) {
	p, _ := New(nil, Options{Timeout: time.Second})
	err := p.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/fleet", nil), fleetRule, nil)
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	if _, ok := p.BreakerState(domain.ServiceFleet); ok {
		t.Fatalf("no breaker expected for unknown service")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatalf("zero timeout should fail")
	}
	bad := map[domain.ServiceKey]domain.ServiceEndpoint{domain.ServiceFleet: {Key: domain.ServiceFleet}}
	if _, err := New(bad, Options{Timeout: time.Second}); err == nil {
		t.Fatalf("missing base url should fail")
	}
}
