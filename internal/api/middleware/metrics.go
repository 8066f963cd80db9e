package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// Metrics collects HTTP request and fiscal action metrics in a
// Prometheus-compatible format.
type Metrics struct {
	requestsTotal   sync.Map // key: "method:status" -> *int64
	requestDuration sync.Map // key: "method:path" -> *durationBuckets
	activeRequests  int64

	actionsTotal   sync.Map // key: "action|status|kind" -> *int64
	actionDuration sync.Map // key: action -> *durationBuckets
}

type durationBuckets struct {
	mu    sync.Mutex
	sum   float64
	count int64
}

func (b *durationBuckets) observe(seconds float64) {
	b.mu.Lock()
	b.sum += seconds
	b.count++
	b.mu.Unlock()
}

func (b *durationBuckets) read() (float64, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum, b.count
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			atomic.AddInt64(&m.activeRequests, 1)

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			atomic.AddInt64(&m.activeRequests, -1)

			key := fmt.Sprintf("%s:%d", r.Method, rw.status)
			counter, _ := m.requestsTotal.LoadOrStore(key, new(int64))
			atomic.AddInt64(counter.(*int64), 1)

			pathKey := fmt.Sprintf("%s:%s", r.Method, normalizeMetricsPath(r.URL.Path))
			buckets, _ := m.requestDuration.LoadOrStore(pathKey, &durationBuckets{})
			buckets.(*durationBuckets).observe(time.Since(start).Seconds())
		})
	}
}

// ObserveAction counts a fiscal action outcome. It never fails.
func (m *Metrics) ObserveAction(_ context.Context, e domain.ActionEvent) error {
	key := strings.Join([]string{string(e.Action), string(e.Status), e.ErrorKind}, "|")
	counter, _ := m.actionsTotal.LoadOrStore(key, new(int64))
	atomic.AddInt64(counter.(*int64), 1)

	buckets, _ := m.actionDuration.LoadOrStore(string(e.Action), &durationBuckets{})
	buckets.(*durationBuckets).observe(e.Duration.Seconds())
	return nil
}

// Handler serves the /metrics endpoint in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP fiscus_http_active_requests Number of active HTTP requests.\n")
		fmt.Fprintf(w, "# TYPE fiscus_http_active_requests gauge\n")
		fmt.Fprintf(w, "fiscus_http_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

		fmt.Fprintf(w, "# HELP fiscus_http_requests_total Total number of HTTP requests.\n")
		fmt.Fprintf(w, "# TYPE fiscus_http_requests_total counter\n")
		for _, key := range sortedKeys(&m.requestsTotal) {
			val, _ := m.requestsTotal.Load(key)
			method, status := splitMetricsKey(key)
			fmt.Fprintf(w, "fiscus_http_requests_total{method=%q,status=%q} %d\n",
				method, status, atomic.LoadInt64(val.(*int64)))
		}

		fmt.Fprintf(w, "\n# HELP fiscus_http_request_duration_seconds HTTP request duration in seconds.\n")
		fmt.Fprintf(w, "# TYPE fiscus_http_request_duration_seconds summary\n")
		for _, key := range sortedKeys(&m.requestDuration) {
			val, _ := m.requestDuration.Load(key)
			sum, count := val.(*durationBuckets).read()
			method, path := splitMetricsKey(key)
			fmt.Fprintf(w, "fiscus_http_request_duration_seconds_sum{method=%q,path=%q} %.6f\n", method, path, sum)
			fmt.Fprintf(w, "fiscus_http_request_duration_seconds_count{method=%q,path=%q} %d\n", method, path, count)
		}

		fmt.Fprintf(w, "\n# HELP fiscus_fdms_actions_total Fiscal actions attempted against FDMS.\n")
		fmt.Fprintf(w, "# TYPE fiscus_fdms_actions_total counter\n")
		for _, key := range sortedKeys(&m.actionsTotal) {
			val, _ := m.actionsTotal.Load(key)
			parts := strings.SplitN(key, "|", 3)
			fmt.Fprintf(w, "fiscus_fdms_actions_total{action=%q,status=%q,error_kind=%q} %d\n",
				parts[0], parts[1], parts[2], atomic.LoadInt64(val.(*int64)))
		}

		fmt.Fprintf(w, "\n# HELP fiscus_fdms_action_duration_seconds FDMS call duration in seconds.\n")
		fmt.Fprintf(w, "# TYPE fiscus_fdms_action_duration_seconds summary\n")
		for _, key := range sortedKeys(&m.actionDuration) {
			val, _ := m.actionDuration.Load(key)
			sum, count := val.(*durationBuckets).read()
			fmt.Fprintf(w, "fiscus_fdms_action_duration_seconds_sum{action=%q} %.6f\n", key, sum)
			fmt.Fprintf(w, "fiscus_fdms_action_duration_seconds_count{action=%q} %d\n", key, count)
		}
	}
}

func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func splitMetricsKey(key string) (string, string) {
	method, rest, _ := strings.Cut(key, ":")
	return method, rest
}

// normalizeMetricsPath replaces UUIDs and numeric IDs with {id} to group metrics.
func normalizeMetricsPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if isIDSegment(s) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isIDSegment(s string) bool {
	if len(s) == 0 {
		return false
	}
	// UUID pattern: 8-4-4-4-12 hex chars
	if len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-' {
		return true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
