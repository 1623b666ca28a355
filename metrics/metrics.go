// Package metrics exposes Prometheus collectors for the HTTP surface and the
// match finder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts requests by route pattern, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrimony_http_requests_total",
		Help: "HTTP requests handled",
	}, []string{"route", "method", "status"})

	// MatchRequestsTotal counts match runs by mode ("radius", "percentage",
	// "combined") and outcome ("ok", "not_found", "invalid", "error", "rate_limited").
	MatchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrimony_match_requests_total",
		Help: "Match finder invocations",
	}, []string{"mode", "outcome"})

	// MatchDuration records how long one full candidate scan takes.
	MatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matrimony_match_duration_seconds",
		Help:    "Time spent scanning candidates for one match request",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"mode"})

	// MatchResults records how many candidates qualified per request.
	MatchResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matrimony_match_results",
		Help:    "Qualifying candidates returned per match request",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"mode"})

	// MatchRecordsPruned counts history rows removed by the retention job.
	MatchRecordsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matrimony_match_records_pruned_total",
		Help: "Match history rows deleted by the retention job",
	})

	// NotificationClients tracks open /ws/matches connections.
	NotificationClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrimony_notification_clients",
		Help: "Open match notification websocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		MatchRequestsTotal,
		MatchDuration,
		MatchResults,
		MatchRecordsPruned,
		NotificationClients,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
