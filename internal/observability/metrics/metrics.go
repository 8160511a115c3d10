package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "loan_assistant"

// WorkerMetrics exposes counters/histograms for the background workers.
type WorkerMetrics struct {
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	documentsScored *prometheus.CounterVec
	sanctionsIssued prometheus.Counter
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cycles_total",
			Help:      "Poll cycles per worker by outcome",
		}, []string{"worker", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one poll cycle across all snapshots",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker"}),
		documentsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "documents_scored_total",
			Help:      "Income proof documents scored by type and result",
		}, []string{"doc_type", "result"}),
		sanctionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sanction_letters_issued_total",
			Help:      "Sanction letters committed to a conversation",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cyclesTotal, m.cycleDuration, m.documentsScored, m.sanctionsIssued)
	return m
}

// ObserveCycle records one poll cycle. outcome is "changed", "idle" or "error".
func (m *WorkerMetrics) ObserveCycle(worker, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(worker, outcome).Inc()
	m.cycleDuration.WithLabelValues(worker).Observe(seconds)
}

func (m *WorkerMetrics) ObserveDocumentScored(docType string, verified bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if verified {
		result = "approved"
	}
	m.documentsScored.WithLabelValues(docType, result).Inc()
}

func (m *WorkerMetrics) ObserveSanctionIssued() {
	if m == nil {
		return
	}
	m.sanctionsIssued.Inc()
}

// ConversationMetrics exposes counters/histograms for the conversation driver.
type ConversationMetrics struct {
	turnsTotal     *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	loopGuardTrips prometheus.Counter
	llmRetries     *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed user turns by resulting stage and outcome",
		}, []string{"stage", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one processed message",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		loopGuardTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "loop_guard_trips_total",
			Help:      "Times the stage machine loop guard reset a conversation",
		}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "llm_retries_total",
			Help:      "LLM calls retried after a rate limit",
		}, []string{"model"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.loopGuardTrips, m.llmRetries)
	return m
}

func (m *ConversationMetrics) ObserveTurn(stage, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(stage, outcome).Inc()
	m.turnLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *ConversationMetrics) ObserveLoopGuardTrip() {
	if m == nil {
		return
	}
	m.loopGuardTrips.Inc()
}

func (m *ConversationMetrics) ObserveLLMRetry(model string) {
	if m == nil {
		return
	}
	m.llmRetries.WithLabelValues(model).Inc()
}
