package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all ruledesk metrics.
type Registry struct {
	// Ruleset reads
	FetchTotal    *prometheus.CounterVec
	FetchLatency  prometheus.Histogram
	RulesObserved prometheus.Gauge
	FetchWarnings prometheus.Counter

	// Mutations
	MutationsTotal  *prometheus.CounterVec
	PartialFailures prometheus.Counter

	// Kernel collaborator calls
	KernelCalls   *prometheus.CounterVec
	KernelLatency *prometheus.HistogramVec

	// HTTP surface
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledesk_ruleset_fetches_total",
		Help: "Ruleset listings requested from the kernel",
	}, []string{"outcome"})

	r.FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ruledesk_ruleset_fetch_duration_seconds",
		Help:    "Time to list and render the ruleset",
		Buckets: prometheus.DefBuckets,
	})

	r.RulesObserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ruledesk_rules_observed",
		Help: "Rules present in the most recent listing",
	})

	r.FetchWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruledesk_ruleset_fetch_warnings_total",
		Help: "Listings that carried soft-degradation warnings",
	})

	r.MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledesk_mutations_total",
		Help: "Rule mutations submitted, by operation and outcome",
	}, []string{"operation", "outcome"})

	r.PartialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruledesk_partial_mutations_total",
		Help: "Edits that removed the original rule without adding the replacement",
	})

	r.KernelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledesk_kernel_calls_total",
		Help: "Calls issued to the kernel ruleset collaborator",
	}, []string{"call", "outcome"})

	r.KernelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ruledesk_kernel_call_duration_seconds",
		Help:    "Kernel collaborator call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledesk_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ruledesk_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordFetch records one ruleset listing.
func (r *Registry) RecordFetch(rules int, warnings int, d time.Duration, err error) {
	r.FetchLatency.Observe(d.Seconds())
	if err != nil {
		r.FetchTotal.WithLabelValues("error").Inc()
		return
	}
	r.FetchTotal.WithLabelValues("ok").Inc()
	r.RulesObserved.Set(float64(rules))
	if warnings > 0 {
		r.FetchWarnings.Inc()
	}
}

// RecordMutation records a completed submission. outcome is "ok" or an error kind.
func (r *Registry) RecordMutation(operation, outcome string) {
	r.MutationsTotal.WithLabelValues(operation, outcome).Inc()
	if outcome == "partial_mutation" {
		r.PartialFailures.Inc()
	}
}

// RecordKernelCall records one collaborator call.
func (r *Registry) RecordKernelCall(call, outcome string, d time.Duration) {
	r.KernelCalls.WithLabelValues(call, outcome).Inc()
	r.KernelLatency.WithLabelValues(call).Observe(d.Seconds())
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// statusString converts an HTTP status code to string.
func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
