// Package telemetry provides observability for the TPN documentation
// service using only standard library constructs. It exposes metrics
// (counters, gauges, histograms) and a Prometheus text exposition
// endpoint without importing the go.opentelemetry.io SDK.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Metric names used across the service. Counters and gauges are keyed by
// these constants; the Prometheus handler maps them to exposition names.
const (
	MetricRenders          = "tpn.render.count"
	MetricSegmentErrors    = "tpn.render.segment_errors"
	MetricCacheHits        = "tpn.script.cache_hits"
	MetricCacheMisses      = "tpn.script.cache_misses"
	MetricValidationEvents = "tpn.validation.events" // labeled by severity
	MetricWorksheetsOpen   = "tpn.worksheets.open"
	MetricRenderDuration   = "tpn.render.duration" // seconds
)

// HTTP surface metrics recorded by the middleware.
const (
	metricActiveRequests  = "http.server.active_requests"
	metricRequestDuration = "http.server.request.duration"
	metricRequests        = "http.server.requests" // labeled by status code
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds all configuration for the telemetry provider.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

func (c *Config) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "tpn-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

// metricStore is a locked name-to-value table. Counters and gauges are
// both views over it; labeled series use composite keys from LabelsKey.
type metricStore struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMetricStore() *metricStore {
	return &metricStore{values: make(map[string]int64)}
}

func (s *metricStore) add(key string, delta int64) {
	s.mu.Lock()
	s.values[key] += delta
	s.mu.Unlock()
}

func (s *metricStore) set(key string, val int64) {
	s.mu.Lock()
	s.values[key] = val
	s.mu.Unlock()
}

func (s *metricStore) get(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *metricStore) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]int64, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// histogram is a fixed-bucket histogram. Storage is per-bucket counts;
// the cumulative form Prometheus wants is computed at export time.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64 // ascending
	buckets []int64
	count   int64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

// Observe records a single value. Values above every bound only show up
// in the +Inf bucket, which the exporter derives from count.
func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.buckets[i]++
	}
}

func (h *histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.buckets))
	var total int64
	for i, n := range h.buckets {
		total += n
		cum[i] = total
	}
	return cum
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// defaultDurationBuckets are the histogram bucket boundaries (in seconds)
// used for HTTP request and render durations.
var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// LabelsKey builds the composite key used for labeled counters.
func LabelsKey(name, label string) string {
	return name + "|" + label
}

// Provider owns all metric stores for the process. All methods are safe
// for concurrent use and become no-ops when metrics are disabled.
type Provider struct {
	cfg        Config
	counters   *metricStore
	gauges     *metricStore
	histMu     sync.RWMutex
	histograms map[string]*histogram
}

// NewProvider creates a Provider from the given config, applying defaults.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		counters:   newMetricStore(),
		gauges:     newMetricStore(),
		histograms: make(map[string]*histogram),
	}
}

// Resource describes the process the metrics belong to.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":    p.cfg.ServiceName,
		"service.version": p.cfg.ServiceVersion,
		"environment":     p.cfg.Environment,
	}
}

// Inc increments a named counter by one.
func (p *Provider) Inc(name string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(name, 1)
}

// IncLabeled increments the labeled variant of a named counter.
func (p *Provider) IncLabeled(name, label string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(LabelsKey(name, label), 1)
}

// SetCounter overwrites a named counter with an absolute value. It is
// meant for cumulative totals tracked outside the provider, such as
// compile cache hit counts, where the source of truth keeps its own
// tally.
func (p *Provider) SetCounter(name string, val int64) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.set(name, val)
}

// Counter returns the current value of a named counter.
func (p *Provider) Counter(name string) int64 {
	return p.counters.get(name)
}

// CounterLabeled returns the current value of a labeled counter.
func (p *Provider) CounterLabeled(name, label string) int64 {
	return p.counters.get(LabelsKey(name, label))
}

// GaugeSet sets a named gauge to an absolute value.
func (p *Provider) GaugeSet(name string, val int64) {
	if !p.cfg.metricsOn() {
		return
	}
	p.gauges.set(name, val)
}

// GaugeAdd adjusts a named gauge by delta.
func (p *Provider) GaugeAdd(name string, delta int64) {
	if !p.cfg.metricsOn() {
		return
	}
	p.gauges.add(name, delta)
}

// Gauge returns the current value of a named gauge.
func (p *Provider) Gauge(name string) int64 {
	return p.gauges.get(name)
}

// Observe records a value in a named histogram, creating it on first use.
func (p *Provider) Observe(name string, v float64) {
	if !p.cfg.metricsOn() {
		return
	}
	p.histogramFor(name).Observe(v)
}

// HistogramCount returns the observation count of a named histogram.
func (p *Provider) HistogramCount(name string) int64 {
	p.histMu.RLock()
	h := p.histograms[name]
	p.histMu.RUnlock()
	if h == nil {
		return 0
	}
	return h.Count()
}

// HistogramSum returns the observation sum of a named histogram.
func (p *Provider) HistogramSum(name string) float64 {
	p.histMu.RLock()
	h := p.histograms[name]
	p.histMu.RUnlock()
	if h == nil {
		return 0
	}
	return h.Sum()
}

func (p *Provider) histogramFor(name string) *histogram {
	p.histMu.RLock()
	h := p.histograms[name]
	p.histMu.RUnlock()
	if h != nil {
		return h
	}

	p.histMu.Lock()
	defer p.histMu.Unlock()
	if existing := p.histograms[name]; existing != nil {
		return existing
	}
	h = newHistogram(defaultDurationBuckets)
	p.histograms[name] = h
	return h
}

// ---------------------------------------------------------------------------
// HTTP middleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records request duration and tracks active requests.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			start := time.Now()
			p.gauges.add(metricActiveRequests, 1)

			err := next(c)

			p.gauges.add(metricActiveRequests, -1)
			p.Observe(metricRequestDuration, time.Since(start).Seconds())
			p.counters.add(LabelsKey(metricRequests, strconv.Itoa(c.Response().Status)), 1)
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// severityLabels are the validation event labels exported even when zero,
// so dashboards have a stable series set.
var severityLabels = []string{"hard", "firm", "soft"}

// PrometheusHandler returns an Echo handler that serves metrics in
// Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.histMu.RLock()
		reqHist := p.histograms[metricRequestDuration]
		renderHist := p.histograms[MetricRenderDuration]
		p.histMu.RUnlock()

		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", reqHist, defaultDurationBuckets)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n", p.gauges.get(metricActiveRequests))
		b.WriteByte('\n')

		counters := []struct {
			promName string
			name     string
			help     string
		}{
			{"tpn_render_total", MetricRenders, "Total worksheet render operations."},
			{"tpn_render_segment_errors_total", MetricSegmentErrors, "Total dynamic segments that failed to evaluate."},
			{"tpn_script_cache_hits_total", MetricCacheHits, "Total compile cache hits."},
			{"tpn_script_cache_misses_total", MetricCacheMisses, "Total compile cache misses."},
		}
		for _, m := range counters {
			fmt.Fprintf(&b, "# HELP %s %s\n", m.promName, m.help)
			fmt.Fprintf(&b, "# TYPE %s counter\n", m.promName)
			fmt.Fprintf(&b, "%s %d\n", m.promName, p.counters.get(m.name))
			b.WriteByte('\n')
		}

		b.WriteString("# HELP tpn_validation_events_total Total range violations recorded, by severity.\n")
		b.WriteString("# TYPE tpn_validation_events_total counter\n")
		for _, sev := range severityLabels {
			fmt.Fprintf(&b, "tpn_validation_events_total{severity=%q} %d\n",
				sev, p.counters.get(LabelsKey(MetricValidationEvents, sev)))
		}
		b.WriteByte('\n')

		writeHistogram(&b, "tpn_render_duration_seconds",
			"Duration of worksheet renders in seconds.", renderHist, defaultDurationBuckets)

		gauges := []struct {
			promName string
			name     string
			help     string
		}{
			{"tpn_worksheets_open", MetricWorksheetsOpen, "Currently open worksheet sessions."},
			{"db_pool_active_connections", "db.pool.active_connections", "Number of active database pool connections."},
			{"db_pool_idle_connections", "db.pool.idle_connections", "Number of idle database pool connections."},
		}
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.promName, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.promName)
			fmt.Fprintf(&b, "%s %d\n", g.promName, p.gauges.get(g.name))
			b.WriteByte('\n')
		}

		return c.String(http.StatusOK, b.String())
	}
}

// writeHistogram writes one histogram in Prometheus exposition format.
// A nil histogram still writes a zero-valued series, so the series
// exists before the first observation.
func writeHistogram(b *strings.Builder, name, help string, h *histogram, bounds []float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	if h == nil {
		h = newHistogram(bounds)
	}

	cum := h.cumulativeBuckets()
	for i, bound := range bounds {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, formatBound(bound), cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.Count())
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, h.Count())
	b.WriteByte('\n')
}

func formatBound(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}
