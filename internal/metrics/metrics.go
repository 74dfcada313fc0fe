// Package metrics exposes Prometheus counters and gauges for a vault
// node on a private registry, grounded on the pack's
// prometheus.Registerer-wrapping pattern (luxfi-consensus/metrics) but
// concrete to this node's operations rather than a thin pass-through.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge this node exports, registered on a
// private registry so tests can construct independent instances without
// colliding on the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	StoresTotal       prometheus.Counter
	StoreRejections   *prometheus.CounterVec
	DedupHitsTotal    prometheus.Counter
	RetrievalsTotal   prometheus.Counter
	BlobNotFoundTotal prometheus.Counter

	ReplicationAttemptsTotal  prometheus.Counter
	ReplicationSuccessTotal   prometheus.Counter
	ReplicationFailureTotal   prometheus.Counter
	ReplicationConfirmedGauge prometheus.Gauge

	GCRunsTotal      prometheus.Counter
	GCDeletedTotal   prometheus.Counter
	GCBytesReclaimed prometheus.Counter
	GCSkippedPinned  prometheus.Counter

	ProofsGeneratedTotal prometheus.Counter
	ProofsVerifiedTotal  *prometheus.CounterVec

	StorageUsedBytes prometheus.Gauge
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// New builds a Metrics instance on its own private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		StoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_stores_total", Help: "Total StoreBlob calls that succeeded.",
		}),
		StoreRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_store_rejections_total", Help: "StoreBlob calls rejected, by reason kind.",
		}, []string{"kind"}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_hits_total", Help: "StoreBlob calls that were no-ops because the CID already existed.",
		}),
		RetrievalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_retrievals_total", Help: "Total successful GetBlob calls.",
		}),
		BlobNotFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_blob_not_found_total", Help: "GetBlob calls for a CID not held locally.",
		}),
		ReplicationAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_replication_attempts_total", Help: "Peer replication pushes attempted.",
		}),
		ReplicationSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_replication_success_total", Help: "Peer replication pushes confirmed.",
		}),
		ReplicationFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_replication_failure_total", Help: "Peer replication pushes that exhausted their retry budget.",
		}),
		ReplicationConfirmedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replication_confirmed_nodes", Help: "Confirmed replica count for the most recently replicated CID.",
		}),
		GCRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_gc_runs_total", Help: "Garbage collection passes executed (non-simulated).",
		}),
		GCDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_gc_deleted_total", Help: "Blobs deleted by garbage collection.",
		}),
		GCBytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_gc_bytes_reclaimed_total", Help: "Bytes reclaimed by garbage collection.",
		}),
		GCSkippedPinned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_gc_skipped_pinned_total", Help: "Pinned blobs skipped during garbage collection passes.",
		}),
		ProofsGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_proofs_generated_total", Help: "Storage proofs generated by this node.",
		}),
		ProofsVerifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_proofs_verified_total", Help: "Storage proofs verified, by result.",
		}, []string{"result"}),
		StorageUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_storage_used_bytes", Help: "Total bytes currently held on disk.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_cache_hits_total", Help: "In-process LRU cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_cache_misses_total", Help: "In-process LRU cache misses.",
		}),
	}

	reg.MustRegister(
		m.StoresTotal, m.StoreRejections, m.DedupHitsTotal, m.RetrievalsTotal, m.BlobNotFoundTotal,
		m.ReplicationAttemptsTotal, m.ReplicationSuccessTotal, m.ReplicationFailureTotal, m.ReplicationConfirmedGauge,
		m.GCRunsTotal, m.GCDeletedTotal, m.GCBytesReclaimed, m.GCSkippedPinned,
		m.ProofsGeneratedTotal, m.ProofsVerifiedTotal,
		m.StorageUsedBytes, m.CacheHitsTotal, m.CacheMissesTotal,
	)
	return m
}

// Handler returns the promhttp handler for this instance's private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
