package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestTraceContextReachesGameServer(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var (
		mu          sync.Mutex
		traceparent string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traceparent = r.Header.Get("Traceparent")
		mu.Unlock()
	}))
	defer upstream.Close()

	hc := &http.Client{Transport: TraceTransport(&Transport{})}
	h := TraceHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := http.NewRequestWithContext(r.Context(), http.MethodPost, upstream.URL+"/api/games/g1", nil)
		resp, err := hc.Do(req)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		resp.Body.Close()
	}), "session")

	req := httptest.NewRequest(http.MethodPost, "/v1/session/next", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(traceparent, traceID) {
		t.Fatalf("expected trace id to be forwarded, got %q", traceparent)
	}
}
