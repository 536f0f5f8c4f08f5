package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewIsRepeatable(t *testing.T) {
	// A private registry per instance means no duplicate-registration panic.
	_ = New()
	_ = New()
}

func TestRecordOperation(t *testing.T) {
	m := New()
	m.RecordOperation("create_entry", nil, time.Millisecond)
	m.RecordOperation("create_entry", nil, time.Millisecond)
	m.RecordOperation("create_entry", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("create_entry", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("create_entry", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncrCacheHit("categories")
	m.IncrOfflineFetch("cache")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"spese_cache_hits_total", "spese_offline_fetches_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
