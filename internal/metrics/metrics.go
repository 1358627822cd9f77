// Package metrics records snapshot, paging, lock and mutation outcomes as prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortcuts"

// Recorder owns the registry and counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	snapshotsCreated prometheus.Counter
	snapshotPages    prometheus.Counter
	snapshotExpired  *prometheus.CounterVec
	lockTimeouts     *prometheus.CounterVec
	mutations        *prometheus.CounterVec
}

// NewRecorder registers the counters on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Snapshots materialized into the cache.",
		}),
		snapshotPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_pages_total",
			Help:      "Pages served from snapshots.",
		}),
		snapshotExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_expired_total",
			Help:      "Page reads answered with the expired signal, by internal reason.",
		}, []string{"reason"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up waiting.",
		}, []string{"scope"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Serialized mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	registry.MustRegister(
		recorder.snapshotsCreated,
		recorder.snapshotPages,
		recorder.snapshotExpired,
		recorder.lockTimeouts,
		recorder.mutations,
	)
	return recorder
}

func (r *Recorder) SnapshotCreated() {
	if r == nil {
		return
	}
	r.snapshotsCreated.Inc()
}

func (r *Recorder) PageServed() {
	if r == nil {
		return
	}
	r.snapshotPages.Inc()
}

func (r *Recorder) SnapshotExpired(reason string) {
	if r == nil {
		return
	}
	r.snapshotExpired.WithLabelValues(reason).Inc()
}

func (r *Recorder) LockTimeout(scope string) {
	if r == nil {
		return
	}
	r.lockTimeouts.WithLabelValues(scope).Inc()
}

func (r *Recorder) Mutation(operation, outcome string) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(operation, outcome).Inc()
}

// Registry exposes the underlying registry for scraping and tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
