package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the script service
type Metrics struct {
	LeaseAcquireTotal  *prometheus.CounterVec
	LeaseReleaseTotal  *prometheus.CounterVec
	DraftSavesTotal    *prometheus.CounterVec
	CommitsTotal       *prometheus.CounterVec
	CommitRetriesTotal prometheus.Counter
	VersionCacheTotal  *prometheus.CounterVec

	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LeaseAcquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "lease",
			Name:      "acquire_total",
			Help:      "Lease acquire attempts by result (granted, locked, lost, error)",
		}, []string{"result"}),
		LeaseReleaseTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "lease",
			Name:      "release_total",
			Help:      "Lease release calls by result (released, noop, error)",
		}, []string{"result"}),
		DraftSavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "draft",
			Name:      "saves_total",
			Help:      "Draft saves by result (saved, error)",
		}, []string{"result"}),
		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "version",
			Name:      "commits_total",
			Help:      "Version commits by result (committed, conflict, error)",
		}, []string{"result"}),
		CommitRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "version",
			Name:      "commit_retries_total",
			Help:      "Commit attempts retried after an ordinal collision",
		}),
		VersionCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptdesk",
			Subsystem: "version",
			Name:      "list_cache_total",
			Help:      "Version list cache lookups by result (hit, miss, bypass)",
		}, []string{"result"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scriptdesk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// NewNop returns metrics registered on a throwaway registry, for tests and tools.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
