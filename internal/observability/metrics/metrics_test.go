package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestWorkerMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkerMetrics(reg)
	m.ObserveCycle("document-verifier", "changed", 0.02)
	m.ObserveDocumentScored("salary_slip", true)
	m.ObserveDocumentScored("salary_slip", false)
	m.ObserveSanctionIssued()

	if got := counterValue(t, m.documentsScored.WithLabelValues("salary_slip", "approved")); got != 1 {
		t.Fatalf("approved count = %v", got)
	}
	if got := counterValue(t, m.sanctionsIssued); got != 1 {
		t.Fatalf("sanctions = %v", got)
	}
}

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTurn("verification", "ok", 0.3)
	m.ObserveLoopGuardTrip()
	m.ObserveLLMRetry("gemini")

	if got := counterValue(t, m.loopGuardTrips); got != 1 {
		t.Fatalf("loop guard trips = %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 4 {
		t.Fatalf("expected 4 metric families, got %d", len(families))
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var w *WorkerMetrics
	w.ObserveCycle("x", "idle", 0)
	w.ObserveDocumentScored("x", true)
	w.ObserveSanctionIssued()

	var c *ConversationMetrics
	c.ObserveTurn("x", "ok", 0)
	c.ObserveLoopGuardTrip()
	c.ObserveLLMRetry("x")
}
