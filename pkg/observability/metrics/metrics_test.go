package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvaluation(t *testing.T) {
	before := testutil.ToFloat64(cohortEvaluations.WithLabelValues("gender", "ok"))
	ObserveEvaluation("gender", "ok", 5*time.Millisecond, 3)
	after := testutil.ToFloat64(cohortEvaluations.WithLabelValues("gender", "ok"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, after)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveCacheLookup(true)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "reporting_cohort_cache_lookups_total") {
		t.Fatalf("metrics output missing cache counter:\n%s", body)
	}
}
