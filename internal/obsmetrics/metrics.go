// Package obsmetrics tracks operational metrics for the Analysis
// Engine, the Investigation Pipeline, and the LLM client, mirroring
// each counter into both a fast atomic for hot-path reads and a
// Prometheus metric for export.
package obsmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics tracks Analysis Engine request counters.
type EngineMetrics struct {
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	cacheHits          atomic.Uint64
	totalLatency       atomic.Int64 // microseconds

	kindMu    sync.RWMutex
	kindCount map[string]uint64

	registry *prometheus.Registry

	promRequestsTotal  prometheus.Counter
	promRequestsOK     prometheus.Counter
	promRequestsFailed prometheus.Counter
	promCacheHits      prometheus.Counter
	promLatency        prometheus.Histogram
	promByKind         *prometheus.CounterVec
}

// NewEngineMetrics builds Engine metrics against a private registry, so
// that multiple engines (or multiple test cases) never collide on a
// shared default registerer.
func NewEngineMetrics() *EngineMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &EngineMetrics{
		kindCount: make(map[string]uint64),
		registry:  registry,
		promRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "requests_total",
			Help: "Total number of Analyze calls.",
		}),
		promRequestsOK: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "requests_successful_total",
			Help: "Total number of successful Analyze calls.",
		}),
		promRequestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "requests_failed_total",
			Help: "Total number of failed Analyze calls.",
		}),
		promCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "cache_hits_total",
			Help: "Total number of Analyze calls served from cache.",
		}),
		promLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "request_latency_seconds",
			Help: "Analyze call latency in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		promByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "engine", Name: "requests_by_kind_total",
			Help: "Analyze calls labeled by analysis kind.",
		}, []string{"kind"}),
	}
}

// Registry returns the private Prometheus registry these metrics are
// registered against, for exposition via an HTTP handler.
func (m *EngineMetrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest updates all engine counters for one completed Analyze
// call (cache hits included; see spec §4.2 tie-break rules).
func (m *EngineMetrics) RecordRequest(kind string, success, cacheHit bool, latency time.Duration) {
	m.totalRequests.Add(1)
	m.promRequestsTotal.Inc()
	m.promLatency.Observe(latency.Seconds())
	m.totalLatency.Add(latency.Microseconds())

	if success {
		m.successfulRequests.Add(1)
		m.promRequestsOK.Inc()
	} else {
		m.failedRequests.Add(1)
		m.promRequestsFailed.Inc()
	}
	if cacheHit {
		m.cacheHits.Add(1)
		m.promCacheHits.Inc()
	}

	m.kindMu.Lock()
	m.kindCount[kind]++
	m.kindMu.Unlock()
	m.promByKind.WithLabelValues(kind).Inc()
}

// EngineStats is a snapshot of EngineMetrics.
type EngineStats struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	CacheHits          uint64
	AverageLatency     time.Duration
	ByKind             map[string]uint64
}

// Stats snapshots current counters.
func (m *EngineMetrics) Stats() EngineStats {
	m.kindMu.RLock()
	byKind := make(map[string]uint64, len(m.kindCount))
	for k, v := range m.kindCount {
		byKind[k] = v
	}
	m.kindMu.RUnlock()

	total := m.totalRequests.Load()
	var avg time.Duration
	if total > 0 {
		avg = time.Duration(float64(m.totalLatency.Load())/float64(total)) * time.Microsecond
	}

	return EngineStats{
		TotalRequests:      total,
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		CacheHits:          m.cacheHits.Load(),
		AverageLatency:     avg,
		ByKind:             byKind,
	}
}

// Reset zeroes every atomic counter. The Prometheus collectors on this
// instance's private registry are left in place and keep the values
// they have accumulated; this mirrors the Engine's
// ResetMetrics operation from spec §4.2.
func (m *EngineMetrics) Reset() {
	m.totalRequests.Store(0)
	m.successfulRequests.Store(0)
	m.failedRequests.Store(0)
	m.cacheHits.Store(0)
	m.totalLatency.Store(0)
	m.kindMu.Lock()
	m.kindCount = make(map[string]uint64)
	m.kindMu.Unlock()
}

// PipelineMetrics tracks Investigation Pipeline counters.
type PipelineMetrics struct {
	investigationsStarted   atomic.Uint64
	investigationsCompleted atomic.Uint64
	investigationsFailed    atomic.Uint64
	phasesExecuted          atomic.Uint64
	phasesFailed            atomic.Uint64
	adaptivePhasesInjected  atomic.Uint64

	registry *prometheus.Registry

	promInvestigations *prometheus.CounterVec
	promPhases         *prometheus.CounterVec
	promAdaptive       prometheus.Counter
}

// NewPipelineMetrics builds Pipeline metrics against a private registry.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &PipelineMetrics{
		registry: registry,
		promInvestigations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "pipeline", Name: "investigations_total",
			Help: "Investigations labeled by terminal status.",
		}, []string{"status"}),
		promPhases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "pipeline", Name: "phases_total",
			Help: "Phase executions labeled by outcome.",
		}, []string{"outcome"}),
		promAdaptive: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "pipeline", Name: "adaptive_phases_injected_total",
			Help: "Total adaptive phases injected in response to anomaly signals.",
		}),
	}
}

// Registry returns the private Prometheus registry for exposition.
func (m *PipelineMetrics) Registry() *prometheus.Registry { return m.registry }

// RecordInvestigationStarted increments the started counter.
func (m *PipelineMetrics) RecordInvestigationStarted() {
	m.investigationsStarted.Add(1)
	m.promInvestigations.WithLabelValues("started").Inc()
}

// RecordInvestigationTerminal records a terminal investigation status.
func (m *PipelineMetrics) RecordInvestigationTerminal(status string, success bool) {
	if success {
		m.investigationsCompleted.Add(1)
	} else {
		m.investigationsFailed.Add(1)
	}
	m.promInvestigations.WithLabelValues(status).Inc()
}

// RecordPhase records one phase's outcome.
func (m *PipelineMetrics) RecordPhase(success bool) {
	m.phasesExecuted.Add(1)
	if !success {
		m.phasesFailed.Add(1)
	}
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	m.promPhases.WithLabelValues(outcome).Inc()
}

// RecordAdaptivePhase records one adaptively-injected phase.
func (m *PipelineMetrics) RecordAdaptivePhase() {
	m.adaptivePhasesInjected.Add(1)
	m.promAdaptive.Inc()
}

// PipelineStats is a snapshot of PipelineMetrics.
type PipelineStats struct {
	InvestigationsStarted   uint64
	InvestigationsCompleted uint64
	InvestigationsFailed    uint64
	PhasesExecuted          uint64
	PhasesFailed            uint64
	AdaptivePhasesInjected  uint64
}

// Stats snapshots current counters.
func (m *PipelineMetrics) Stats() PipelineStats {
	return PipelineStats{
		InvestigationsStarted:   m.investigationsStarted.Load(),
		InvestigationsCompleted: m.investigationsCompleted.Load(),
		InvestigationsFailed:    m.investigationsFailed.Load(),
		PhasesExecuted:          m.phasesExecuted.Load(),
		PhasesFailed:            m.phasesFailed.Load(),
		AdaptivePhasesInjected:  m.adaptivePhasesInjected.Load(),
	}
}

// LLMClientMetrics tracks the rate-limited LLM client's counters.
type LLMClientMetrics struct {
	completions     atomic.Uint64
	cacheHits       atomic.Uint64
	retries         atomic.Uint64
	rateLimitWaits  atomic.Uint64
	totalWaitMicros atomic.Int64

	registry *prometheus.Registry

	promCompletions prometheus.Counter
	promCacheHits   prometheus.Counter
	promRetries     prometheus.Counter
	promWaitSeconds prometheus.Histogram
}

// NewLLMClientMetrics builds LLM client metrics against a private
// registry.
func NewLLMClientMetrics() *LLMClientMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &LLMClientMetrics{
		registry: registry,
		promCompletions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "llmclient", Name: "completions_total",
			Help: "Total completions requested.",
		}),
		promCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "llmclient", Name: "cache_hits_total",
			Help: "Total completions served from cache.",
		}),
		promRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intelgraph", Subsystem: "llmclient", Name: "retries_total",
			Help: "Total retry attempts after a transient failure.",
		}),
		promWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intelgraph", Subsystem: "llmclient", Name: "rate_limit_wait_seconds",
			Help: "Time spent waiting on the token bucket before a completion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Registry returns the private Prometheus registry for exposition.
func (m *LLMClientMetrics) Registry() *prometheus.Registry { return m.registry }

// RecordCompletion records one completion request, cache-hit or not.
func (m *LLMClientMetrics) RecordCompletion(cacheHit bool) {
	m.completions.Add(1)
	m.promCompletions.Inc()
	if cacheHit {
		m.cacheHits.Add(1)
		m.promCacheHits.Inc()
	}
}

// RecordRetry records one retry attempt.
func (m *LLMClientMetrics) RecordRetry() {
	m.retries.Add(1)
	m.promRetries.Inc()
}

// RecordRateLimitWait records time spent blocked on the rate limiter.
func (m *LLMClientMetrics) RecordRateLimitWait(wait time.Duration) {
	if wait <= 0 {
		return
	}
	m.rateLimitWaits.Add(1)
	m.totalWaitMicros.Add(wait.Microseconds())
	m.promWaitSeconds.Observe(wait.Seconds())
}
