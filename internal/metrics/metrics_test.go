package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	implicit := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	explicit := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before200 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "200"))
	before404 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "404"))

	rec := httptest.NewRecorder()
	implicit.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("implicit status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	explicit.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("explicit status = %d, want 404", rec.Code)
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "200")); got != before200+1 {
		t.Fatalf("200 counter = %v, want %v", got, before200+1)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "404")); got != before404+1 {
		t.Fatalf("404 counter = %v, want %v", got, before404+1)
	}
}

func TestInstrumentHandlerSkipsMetricsEndpoint(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/metrics", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/metrics", "418")); got != before {
		t.Fatalf("metrics endpoint was instrumented: %v -> %v", before, got)
	}
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                          "/",
		"/healthz":                   "/healthz",
		"/members":                   "/members",
		"/members/abc-123":           "/members/:id",
		"/members/abc-123/progress":  "/members/:id/progress",
		"/members/abc/matrix/feeder": "/members/:id/matrix",
		"/events/qualifying":         "/events/qualifying",
		"/events/placement":          "/events/placement",
	}
	for raw, want := range cases {
		if got := canonicalPath(raw); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}
