package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRateLimitCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("general"))
	RateLimitExceeded.WithLabelValues("general").Inc()
	after := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("general"))

	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, grew by %v", after-before)
	}
}

func TestAuditCountersUseIndependentLabels(t *testing.T) {
	success := AuditRecordsTotal.WithLabelValues("Car", "CREATE", "SUCCESS")
	failure := AuditRecordsTotal.WithLabelValues("Car", "CREATE", "FAILURE")

	s0, f0 := testutil.ToFloat64(success), testutil.ToFloat64(failure)
	success.Inc()
	success.Inc()
	failure.Inc()

	if got := testutil.ToFloat64(success) - s0; got != 2 {
		t.Errorf("success delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(failure) - f0; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
}

func TestActiveBucketsGauge(t *testing.T) {
	RateLimitActiveBuckets.WithLabelValues("auth").Set(3)
	if got := testutil.ToFloat64(RateLimitActiveBuckets.WithLabelValues("auth")); got != 3 {
		t.Fatalf("gauge = %v, want 3", got)
	}
}

func TestCollectorsLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(HTTPRequestsInFlight)
	if err != nil {
		t.Fatalf("lint failed: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected lint problems: %v", problems)
	}
}
