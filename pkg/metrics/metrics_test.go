package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	r := New()
	c := r.Counter("requests_total", "Total requests.")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("counter = %d", c.Value())
	}

	g := r.Gauge("inflight", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 2 {
		t.Errorf("gauge = %d", g.Value())
	}
}

func TestSameNameReturnsSameMetric(t *testing.T) {
	r := New()
	a := r.Counter("hits_total", "")
	b := r.Counter("hits_total", "")
	a.Inc()
	if b.Value() != 1 {
		t.Error("same name must return the same counter")
	}
}

func TestLabeledChildrenAreDistinct(t *testing.T) {
	r := New()
	ok := r.Counter("searches_total", "", "strategy", "semantic")
	rr := r.Counter("searches_total", "", "strategy", "rerank")
	ok.Add(3)
	rr.Inc()

	out := r.Render()
	if !strings.Contains(out, `searches_total{strategy="semantic"} 3`) {
		t.Errorf("missing semantic line:\n%s", out)
	}
	if !strings.Contains(out, `searches_total{strategy="rerank"} 1`) {
		t.Errorf("missing rerank line:\n%s", out)
	}
	if strings.Count(out, "# TYPE searches_total counter") != 1 {
		t.Errorf("family header should appear once:\n%s", out)
	}
}

func TestRenderFormat(t *testing.T) {
	r := New()
	r.Counter("chat_requests_total", "Chat requests served.").Inc()

	out := r.Render()
	want := "# HELP chat_requests_total Chat requests served.\n" +
		"# TYPE chat_requests_total counter\n" +
		"chat_requests_total 1\n"
	if out != want {
		t.Errorf("render:\n%s\nwant:\n%s", out, want)
	}
}

func TestHistogramRender(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.7)
	h.Observe(100) // beyond all bounds, lands only in +Inf

	out := r.Render()
	for _, line := range []string{
		`latency_seconds_bucket{le="0.1"} 1`,
		`latency_seconds_bucket{le="1"} 3`,
		`latency_seconds_bucket{le="10"} 3`,
		`latency_seconds_bucket{le="+Inf"} 4`,
		`latency_seconds_count 4`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
}

func TestHistogramLabeledBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("op_seconds", "", []float64{1}, "op", "upsert")
	h.Observe(0.5)

	out := r.Render()
	if !strings.Contains(out, `op_seconds_bucket{op="upsert",le="1"} 1`) {
		t.Errorf("labeled bucket line missing:\n%s", out)
	}
	if !strings.Contains(out, `op_seconds_count{op="upsert"} 1`) {
		t.Errorf("labeled count line missing:\n%s", out)
	}
}

func TestLabelsHelper(t *testing.T) {
	if got := Labels("a", "1", "b", "2"); got != `{a="1",b="2"}` {
		t.Errorf("labels = %q", got)
	}
	if got := Labels("odd"); got != "" {
		t.Errorf("odd pairs should yield empty, got %q", got)
	}
	if got := Labels(); got != "" {
		t.Errorf("no pairs should yield empty, got %q", got)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("up", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "up 1") {
		t.Errorf("body:\n%s", rec.Body.String())
	}
}
