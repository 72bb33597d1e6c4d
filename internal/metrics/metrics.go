package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIRequests counts outbound Torn API requests by outcome: success,
// api_error, http_error, network_error, rejected_local.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "api_requests_total",
	Help:      "Outbound Torn API requests by outcome.",
}, []string{"outcome"})

var SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "sync_passes_total",
	Help:      "Per-faction crime sync outcomes.",
}, []string{"result"})

var CrimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "crime_events_total",
	Help:      "Crime history events appended by type.",
}, []string{"type"})

var HistoryPruned = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "history_rows_pruned_total",
	Help:      "History rows removed by retention pruning.",
}, []string{"table"})

var SummariesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "summaries_created_total",
	Help:      "Period summaries created per table.",
}, []string{"table"})

var NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torntracker",
	Name:      "notifications_sent_total",
	Help:      "Fire-and-forget notifications by kind.",
}, []string{"kind"})
