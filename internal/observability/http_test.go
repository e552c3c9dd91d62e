package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/csai/cyborg-arviz-agent/internal/metrics"
)

func TestMiddlewareEchoesRequestID(t *testing.T) {
	var logs bytes.Buffer
	reg := metrics.New()
	var seen string
	h := Middleware(NewLoggerTo(&logs, "info"), reg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/session/next", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "req-1" || rr.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("expected request id to propagate, got ctx=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
	if !strings.Contains(logs.String(), `"msg":"http_request"`) || !strings.Contains(logs.String(), `"status":409`) {
		t.Fatalf("expected access log line, got %s", logs.String())
	}
	if !strings.Contains(reg.RenderPrometheus(), "arviz_agent_request_errors_total 1") {
		t.Fatalf("expected error counter to increment")
	}
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := Middleware(NewLoggerTo(&buf, "error"), metrics.New(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if _, err := uuid.Parse(rr.Header().Get("X-Request-ID")); err != nil {
		t.Fatalf("expected generated uuid request id, got %q", rr.Header().Get("X-Request-ID"))
	}
	if buf.Len() != 0 {
		t.Fatalf("info log written at error level: %s", buf.String())
	}
}

func TestTransportStampsRequestID(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Request-ID"))
		mu.Unlock()
	}))
	defer upstream.Close()

	var logs bytes.Buffer
	hc := &http.Client{Transport: &Transport{Logger: NewLoggerTo(&logs, "debug")}}

	req, _ := http.NewRequestWithContext(WithRequestID(context.Background(), "from-ctx"), http.MethodGet, upstream.URL, nil)
	resp, err := hc.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, upstream.URL, nil)
	resp, err = hc.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "from-ctx" {
		t.Fatalf("unexpected request ids %v", got)
	}
	if _, err := uuid.Parse(got[1]); err != nil {
		t.Fatalf("expected generated uuid, got %q", got[1])
	}
	if req.Header.Get("X-Request-ID") != "" {
		t.Fatalf("transport mutated the caller's request")
	}
	if strings.Count(logs.String(), "game_api_round_trip") != 2 {
		t.Fatalf("expected two round trip logs, got %s", logs.String())
	}
}
