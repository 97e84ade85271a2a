package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event outcomes recorded by the polling pipeline.
const (
	EventNew       = "new"
	EventDuplicate = "duplicate"
	EventStale     = "stale"
	EventDropped   = "dropped"
	EventIgnored   = "ignored"
)

// Delivery outcomes.
const (
	DeliverySent     = "sent"
	DeliveryRetry    = "retry"
	DeliveryTerminal = "terminal"
)

// FetchOK labels successful fetches; failures use the fetch error kind.
const FetchOK = "ok"

// Metrics groups the Prometheus collectors of the watcher.
type Metrics struct {
	FetchTotal      *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	EventsTotal     *prometheus.CounterVec
	MatchesTotal    prometheus.Counter
	DeliveriesTotal *prometheus.CounterVec
	PendingEvents   prometheus.Gauge
	TickDuration    prometheus.Histogram
	DedupEvicted    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_fetch_total",
				Help: "Adapter fetches by route and outcome",
			},
			[]string{"chain", "marketplace", "outcome"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nftwatch_fetch_duration_seconds",
				Help:    "Duration of adapter fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain", "marketplace"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_events_total",
				Help: "Raw transactions by pipeline outcome",
			},
			[]string{"outcome"},
		),
		MatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nftwatch_matches_total",
				Help: "Events matched to subscribers",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_deliveries_total",
				Help: "Batch deliveries by outcome",
			},
			[]string{"outcome"},
		),
		PendingEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nftwatch_pending_events",
				Help: "Events waiting in user batches",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nftwatch_tick_duration_seconds",
				Help:    "Duration of polling ticks",
				Buckets: prometheus.DefBuckets,
			},
		),
		DedupEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nftwatch_dedup_evicted_total",
				Help: "Dedup records removed by eviction",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FetchTotal,
			m.FetchDuration,
			m.EventsTotal,
			m.MatchesTotal,
			m.DeliveriesTotal,
			m.PendingEvents,
			m.TickDuration,
			m.DedupEvicted,
		)
	}
	return m
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return New(nil)
}
