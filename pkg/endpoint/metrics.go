package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	endpointFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_endpoint_fetches_total",
		Help: "Total endpoint page fetches by endpoint and result",
	}, []string{"endpoint", "result"}) // "success", "error", "discarded"

	endpointFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_endpoint_fetch_duration_seconds",
		Help:    "Endpoint page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	endpointSharedWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_endpoint_shared_waits_total",
		Help: "Callers that joined an in-flight fetch instead of starting one",
	}, []string{"endpoint"})

	endpointCacheServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_endpoint_cache_served_total",
		Help: "Full loads answered from the endpoint cache without a fetch",
	}, []string{"endpoint"})
)
