// Package metrics provides Prometheus metrics for coordkit primitives.
//
// Each Registry wraps its own prometheus.Registry, so several clients in one
// process never collide. A nil *Registry is valid and records nothing.
package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "coordkit"

// Lock acquisition results.
const (
	ResultAcquired = "acquired"
	ResultTimeout  = "timeout"
	ResultError    = "error"
)

// Retry run outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
	OutcomeCanceled  = "canceled"
)

// Registry holds all coordkit metrics.
type Registry struct {
	reg *prometheus.Registry

	lockAcquire  *prometheus.CounterVec
	lockRelease  *prometheus.CounterVec
	lockSteals   prometheus.Counter
	lockWait     prometheus.Histogram
	locks        *prometheus.GaugeVec
	mapWrites    *prometheus.CounterVec
	mapCorrupt   prometheus.Counter
	retryRuns    *prometheus.CounterVec
	retryAttempt prometheus.Counter
	cacheLookups *prometheus.CounterVec
	cacheLoads   *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lock", Name: "acquire_total",
			Help: "Lock acquisitions by result.",
		}, []string{"result"}),
		lockRelease: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lock", Name: "release_total",
			Help: "Lock releases; owned=false when the token no longer held the file.",
		}, []string{"owned"}),
		lockSteals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lock", Name: "steals_total",
			Help: "Expired lock files taken over from a previous holder.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "lock", Name: "wait_seconds",
			Help:    "Time spent waiting to acquire a lock.",
			Buckets: []float64{.001, .005, .025, .1, .5, 1, 5, 30, 120},
		}),
		locks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "locks",
			Help: "Lock files found by the last directory scan, by state.",
		}, []string{"state"}),
		mapWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sharedmap", Name: "writes_total",
			Help: "Lock-guarded shared map writes by operation.",
		}, []string{"op"}),
		mapCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sharedmap", Name: "corrupt_reads_total",
			Help: "Shared map files that failed to parse and were read as empty.",
		}),
		retryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "runs_total",
			Help: "Retry sequences by outcome.",
		}, []string{"outcome"}),
		retryAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Individual attempts made by retry sequences.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "lookups_total",
			Help: "TTL cache lookups by result.",
		}, []string{"result"}),
		cacheLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "loads_total",
			Help: "GetOrLoad loader invocations by result.",
		}, []string{"result"}),
	}
	r.reg.MustRegister(
		r.lockAcquire, r.lockRelease, r.lockSteals, r.lockWait, r.locks,
		r.mapWrites, r.mapCorrupt,
		r.retryRuns, r.retryAttempt,
		r.cacheLookups, r.cacheLoads,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Registerer lets callers add their own collectors next to coordkit's.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family in text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// SetLocks records how many lock files a scan found in state.
func (r *Registry) SetLocks(state string, n int) {
	if r == nil {
		return
	}
	r.locks.WithLabelValues(state).Set(float64(n))
}

// RecordLockAcquire records one Acquire call.
func (r *Registry) RecordLockAcquire(result string, waited time.Duration) {
	if r == nil {
		return
	}
	r.lockAcquire.WithLabelValues(result).Inc()
	r.lockWait.Observe(waited.Seconds())
}

// RecordLockSteal records a takeover of an expired lock file.
func (r *Registry) RecordLockSteal() {
	if r == nil {
		return
	}
	r.lockSteals.Inc()
}

// RecordLockRelease records a Release call.
func (r *Registry) RecordLockRelease(owned bool) {
	if r == nil {
		return
	}
	label := "false"
	if owned {
		label = "true"
	}
	r.lockRelease.WithLabelValues(label).Inc()
}

// RecordMapWrite records a lock-guarded shared map write.
func (r *Registry) RecordMapWrite(op string) {
	if r == nil {
		return
	}
	r.mapWrites.WithLabelValues(op).Inc()
}

// RecordMapCorrupt records a corrupt shared map file read as empty.
func (r *Registry) RecordMapCorrupt() {
	if r == nil {
		return
	}
	r.mapCorrupt.Inc()
}

// RecordRetryAttempt records one attempt inside a retry sequence.
func (r *Registry) RecordRetryAttempt() {
	if r == nil {
		return
	}
	r.retryAttempt.Inc()
}

// RecordRetryRun records the outcome of a whole retry sequence.
func (r *Registry) RecordRetryRun(outcome string) {
	if r == nil {
		return
	}
	r.retryRuns.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a TTL cache hit or miss.
func (r *Registry) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordCacheLoad records a GetOrLoad loader call.
func (r *Registry) RecordCacheLoad(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.cacheLoads.WithLabelValues("ok").Inc()
		return
	}
	r.cacheLoads.WithLabelValues("error").Inc()
}
