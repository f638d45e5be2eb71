// Package metrics provides the Prometheus registry shared by the inventory
// engine and the HTTP handler that exposes it.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, endpoint, provider, thumbnail) to keep them next to the code
// that records them.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry collected.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names returns the sorted names of gathered metric families that start with
// prefix. Labeled metrics only show up once they have been observed.
func Names(prefix string) ([]string, error) {
	families, err := Gatherer.Gather()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), prefix) {
			names = append(names, mf.GetName())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - catalog_rate_limit_remaining (Gauge): Requests left in the catalog quota window
//   - catalog_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - catalog_rate_limit_throttles_total (Counter): Requests throttled at the warning threshold
//
// Cache Metrics (pkg/cache):
//   - catalog_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - catalog_cache_misses_total (Counter): Cache misses
//   - catalog_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - catalog_304_responses_total (Counter): 304 Not Modified responses
//   - catalog_conditional_requests_total (Counter): Conditional requests sent
//   - catalog_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - catalog_requests_total{endpoint, status} (Counter): Requests by route and HTTP status
//   - catalog_request_duration_seconds{endpoint} (Histogram): Request duration by route
//   - catalog_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - catalog_pacing_wait_seconds (Histogram): Time spent waiting on the request pacer
//
// Retry Metrics (pkg/client):
//   - catalog_retries_total{error_class} (Counter): Retry attempts by error class
//   - catalog_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - catalog_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Paging Metrics (pkg/endpoint, pkg/provider):
//   - inventory_endpoint_fetches_total{endpoint, result} (Counter): Page fetches by result
//   - inventory_endpoint_fetch_duration_seconds{endpoint} (Histogram): Page fetch duration
//   - inventory_endpoint_shared_waits_total{endpoint} (Counter): Callers joining an in-flight fetch
//   - inventory_endpoint_cache_served_total{endpoint} (Counter): Full loads served from the endpoint cache
//   - inventory_provider_load_more_rejected_total (Counter): LoadMore calls ignored by the guard
//
// Thumbnail Metrics (pkg/thumbnail):
//   - inventory_thumbnail_resolutions_total{result} (Counter): Resolutions by result
//   - inventory_thumbnail_batch_duration_seconds (Histogram): Batch duration
//   - inventory_thumbnail_releases_total (Counter): Released thumbnail handles
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(catalog_cache_hits_total[5m])) /
//   (sum(rate(catalog_cache_hits_total[5m])) + sum(rate(catalog_cache_misses_total[5m])))
//
//   # Quota Status
//   catalog_rate_limit_remaining < 20
//
//   # Single-flight share of page loads
//   sum(rate(inventory_endpoint_shared_waits_total[5m])) /
//   sum(rate(inventory_endpoint_fetches_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(catalog_request_duration_seconds_bucket[5m]))
