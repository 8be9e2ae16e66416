// Package metrics is a small Prometheus-text-format registry on the standard
// library: counters, gauges, and histograms with optional labels, served from
// an http.Handler.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets cover request latencies from milliseconds to a minute.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge goes both ways.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram records a distribution over fixed upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			return
		}
	}
}

// Since observes the seconds elapsed from t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// family is one metric name with its type and per-label-set children.
type family struct {
	typ      string
	help     string
	children map[string]any // label string -> *Counter/*Gauge/*Histogram
	order    []string
}

// Registry holds named metric families.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Labels renders label pairs into the canonical `{k="v",...}` form. An odd
// number of arguments yields the empty label set.
func Labels(kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func (r *Registry) child(name, typ, help, labels string, make func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{typ: typ, help: help, children: map[string]any{}}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	c, ok := f.children[labels]
	if !ok {
		c = make()
		f.children[labels] = c
		f.order = append(f.order, labels)
	}
	return c
}

// Counter returns (or creates) the counter name with optional label pairs.
func (r *Registry) Counter(name, help string, kvs ...string) *Counter {
	return r.child(name, "counter", help, Labels(kvs...), func() any { return &Counter{} }).(*Counter)
}

// Gauge returns (or creates) the gauge name with optional label pairs.
func (r *Registry) Gauge(name, help string, kvs ...string) *Gauge {
	return r.child(name, "gauge", help, Labels(kvs...), func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns (or creates) the histogram name with optional label
// pairs. nil buckets means DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, kvs ...string) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.child(name, "histogram", help, Labels(kvs...), func() any { return newHistogram(buckets) }).(*Histogram)
}

// Render emits the registry in the Prometheus text exposition format, in
// registration order.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.typ)
		for _, labels := range f.order {
			switch m := f.children[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, labels, m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", name, labels, m.Value())
			case *Histogram:
				renderHistogram(&b, name, labels, m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	bounds := h.bounds
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	sum, total := h.sum, h.total
	h.mu.Unlock()

	inner := strings.TrimSuffix(strings.TrimPrefix(labels, "{"), "}")
	sep := ""
	if inner != "" {
		sep = ","
	}
	cumulative := uint64(0)
	for i, bound := range bounds {
		cumulative += counts[i]
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, inner, sep, bound, cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, inner, sep, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, labels, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, labels, total)
}

// Handler serves the registry as a /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
