package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type histogram struct {
	buckets map[float64]uint64
	inf     uint64
	sum     float64
}

func newHistogram() *histogram {
	h := &histogram{buckets: make(map[float64]uint64, len(defaultBuckets))}
	for _, b := range defaultBuckets {
		h.buckets[b] = 0
	}
	return h
}

// observe keeps one count per bucket; render accumulates.
func (h *histogram) observe(secs float64) {
	h.sum += secs
	for _, b := range defaultBuckets {
		if secs <= b {
			h.buckets[b]++
			return
		}
	}
	h.inf++
}

type Registry struct {
	reqTotal        atomic.Uint64
	reqErrors       atomic.Uint64
	rateLimited     atomic.Uint64
	sessionsStarted atomic.Uint64
	sessionsEnded   atomic.Uint64
	currentStep     atomic.Int64
	loading         atomic.Int64

	mu           sync.RWMutex
	pathCount    map[string]uint64
	requestLat   *histogram
	gameCalls    map[string]uint64
	gameFailures map[[2]string]uint64
	gameLat      map[string]*histogram
}

func New() *Registry {
	return &Registry{
		pathCount:    map[string]uint64{},
		requestLat:   newHistogram(),
		gameCalls:    map[string]uint64{},
		gameFailures: map[[2]string]uint64{},
		gameLat:      map[string]*histogram{},
	}
}

func (r *Registry) IncRequest(path string) {
	r.reqTotal.Add(1)
	r.mu.Lock()
	r.pathCount[path]++
	r.mu.Unlock()
}
func (r *Registry) IncError()            { r.reqErrors.Add(1) }
func (r *Registry) IncRateLimited()      { r.rateLimited.Add(1) }
func (r *Registry) IncSessionStart()     { r.sessionsStarted.Add(1) }
func (r *Registry) IncSessionEnd()       { r.sessionsEnded.Add(1) }
func (r *Registry) SetCurrentStep(v int) { r.currentStep.Store(int64(v)) }

func (r *Registry) SetLoading(v bool) {
	if v {
		r.loading.Store(1)
		return
	}
	r.loading.Store(0)
}

func (r *Registry) ObserveRequestDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestLat.observe(d.Seconds())
}

// ObserveGameCall records one call to the simulation API. kind is empty on
// success, otherwise the failure class reported by the transport.
func (r *Registry) ObserveGameCall(op, kind string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gameCalls[op]++
	if kind != "" {
		r.gameFailures[[2]string{op, kind}]++
	}
	h, ok := r.gameLat[op]
	if !ok {
		h = newHistogram()
		r.gameLat[op] = h
	}
	h.observe(d.Seconds())
}

// GameCalls returns the number of recorded calls for op.
func (r *Registry) GameCalls(op string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameCalls[op]
}

// GameFailures returns the number of failed calls for op with the given kind.
func (r *Registry) GameFailures(op, kind string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameFailures[[2]string{op, kind}]
}

func (r *Registry) RenderPrometheus() string {
	var b strings.Builder
	counter(&b, "arviz_agent_requests_total", "Total control API requests", r.reqTotal.Load())
	counter(&b, "arviz_agent_request_errors_total", "Total control API request errors", r.reqErrors.Load())
	counter(&b, "arviz_agent_rate_limited_total", "Total rate-limited requests", r.rateLimited.Load())
	counter(&b, "arviz_agent_sessions_started_total", "Games started", r.sessionsStarted.Load())
	counter(&b, "arviz_agent_sessions_ended_total", "Games ended", r.sessionsEnded.Load())
	fmt.Fprintln(&b, "# HELP arviz_agent_session_current_step Current step of the active game")
	fmt.Fprintln(&b, "# TYPE arviz_agent_session_current_step gauge")
	fmt.Fprintf(&b, "arviz_agent_session_current_step %d\n", r.currentStep.Load())
	fmt.Fprintln(&b, "# HELP arviz_agent_session_loading 1 while a session operation is in flight")
	fmt.Fprintln(&b, "# TYPE arviz_agent_session_loading gauge")
	fmt.Fprintf(&b, "arviz_agent_session_loading %d\n", r.loading.Load())

	r.mu.RLock()
	defer r.mu.RUnlock()

	fmt.Fprintln(&b, "# HELP arviz_agent_requests_by_path_total Requests by path")
	fmt.Fprintln(&b, "# TYPE arviz_agent_requests_by_path_total counter")
	for _, k := range sortedKeys(r.pathCount) {
		fmt.Fprintf(&b, "arviz_agent_requests_by_path_total{path=%q} %d\n", k, r.pathCount[k])
	}

	fmt.Fprintln(&b, "# HELP arviz_agent_request_duration_seconds Request duration histogram")
	fmt.Fprintln(&b, "# TYPE arviz_agent_request_duration_seconds histogram")
	renderHistogram(&b, "arviz_agent_request_duration_seconds", "", r.requestLat)

	fmt.Fprintln(&b, "# HELP arviz_agent_game_calls_total Calls to the simulation API by operation")
	fmt.Fprintln(&b, "# TYPE arviz_agent_game_calls_total counter")
	for _, op := range sortedKeys(r.gameCalls) {
		fmt.Fprintf(&b, "arviz_agent_game_calls_total{op=%q} %d\n", op, r.gameCalls[op])
	}

	fmt.Fprintln(&b, "# HELP arviz_agent_game_failures_total Failed simulation API calls by operation and kind")
	fmt.Fprintln(&b, "# TYPE arviz_agent_game_failures_total counter")
	failKeys := make([][2]string, 0, len(r.gameFailures))
	for k := range r.gameFailures {
		failKeys = append(failKeys, k)
	}
	sort.Slice(failKeys, func(i, j int) bool {
		if failKeys[i][0] != failKeys[j][0] {
			return failKeys[i][0] < failKeys[j][0]
		}
		return failKeys[i][1] < failKeys[j][1]
	})
	for _, k := range failKeys {
		fmt.Fprintf(&b, "arviz_agent_game_failures_total{op=%q,kind=%q} %d\n", k[0], k[1], r.gameFailures[k])
	}

	fmt.Fprintln(&b, "# HELP arviz_agent_game_call_duration_seconds Simulation API call duration histogram")
	fmt.Fprintln(&b, "# TYPE arviz_agent_game_call_duration_seconds histogram")
	ops := make([]string, 0, len(r.gameLat))
	for op := range r.gameLat {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		renderHistogram(&b, "arviz_agent_game_call_duration_seconds", fmt.Sprintf("op=%q,", op), r.gameLat[op])
	}
	return b.String()
}

func counter(b *strings.Builder, name, help string, v uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, v)
}

func renderHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cumulative := uint64(0)
	for _, bound := range defaultBuckets {
		cumulative += h.buckets[bound]
		fmt.Fprintf(b, "%s_bucket{%sle=%q} %d\n", name, labels, trimFloat(bound), cumulative)
	}
	total := cumulative + h.inf
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labels, total)
	if labels == "" {
		fmt.Fprintf(b, "%s_sum %s\n", name, trimFloat(h.sum))
		fmt.Fprintf(b, "%s_count %d\n", name, total)
		return
	}
	l := "{" + strings.TrimSuffix(labels, ",") + "}"
	fmt.Fprintf(b, "%s_sum%s %s\n", name, l, trimFloat(h.sum))
	fmt.Fprintf(b, "%s_count%s %d\n", name, l, total)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func trimFloat(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
	if s == "" {
		return "0"
	}
	return s
}
