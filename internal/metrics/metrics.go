package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticker_refresh_ticks_total",
			Help: "Refresh ticks by kind",
		},
		[]string{"kind"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticker_refresh_duration_seconds",
			Help:    "Time from tick start to commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticker_gateway_requests_total",
			Help: "Market data gateway calls by operation and result",
		},
		[]string{"op", "result"},
	)

	WatchlistAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticker_watchlist_assets",
			Help: "Number of tracked assets",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticker_stream_clients",
			Help: "Connected websocket clients",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
