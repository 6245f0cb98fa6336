package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("conga-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordParticipantOpened()
	RecordParticipantClosed()
	RecordForward(42)
	RecordConnFailure("framing")
}

func TestRecordFrameBoundsVerbLabel(t *testing.T) {
	before := testutil.ToFloat64(framesTotal.WithLabelValues("other"))
	RecordFrame("PING")
	RecordFrame("hello")
	if got := testutil.ToFloat64(framesTotal.WithLabelValues("other")); got != before+2 {
		t.Fatalf("expected unknown verbs under other, got %v want %v", got, before+2)
	}

	msgBefore := testutil.ToFloat64(framesTotal.WithLabelValues("MSG"))
	RecordFrame("MSG")
	if got := testutil.ToFloat64(framesTotal.WithLabelValues("MSG")); got != msgBefore+1 {
		t.Fatalf("unexpected MSG count: %v", got)
	}
}

func TestRecordDroppedWriteByReason(t *testing.T) {
	before := testutil.ToFloat64(droppedWrites.WithLabelValues(DropDeadTarget))
	for i := 0; i < 3; i++ {
		RecordDroppedWrite(DropDeadTarget)
	}
	if got := testutil.ToFloat64(droppedWrites.WithLabelValues(DropDeadTarget)); got != before+3 {
		t.Fatalf("unexpected drop count: %v", got)
	}
}

func TestRouteGroup(t *testing.T) {
	cases := map[string]string{
		"/participants":     "participants",
		"/participants/:id": "participants",
		"/health":           "health",
		"unmatched":         "unmatched",
		"/":                 "root",
	}
	for route, want := range cases {
		if got := routeGroup(route); got != want {
			t.Fatalf("routeGroup(%q) = %q, want %q", route, got, want)
		}
	}
}
