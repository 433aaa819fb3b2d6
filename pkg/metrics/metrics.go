// Package metrics provides the centralized Prometheus metrics registry for the
// lead harvester. All metrics are defined in their respective packages
// (searchapi, harvest, pacing, cooldown, runlog) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Upstream Request Metrics (pkg/searchapi):
//   - leadharvest_page_requests_total{outcome} (Counter): Page fetches by outcome (ok, rate_limited, account_frozen, generic)
//   - leadharvest_page_request_duration_seconds (Histogram): Page fetch duration
//   - leadharvest_fetch_errors_total{kind} (Counter): Classified fetch errors by kind
//
// Session Metrics (pkg/harvest):
//   - leadharvest_sessions_total{reason} (Counter): Finished sessions by termination reason
//   - leadharvest_pages_harvested_total (Counter): Successfully folded pages
//   - leadharvest_records_harvested_total (Counter): Accumulated records across sessions
//   - leadharvest_retries_total (Counter): Page retry attempts after throttling
//   - leadharvest_retry_backoff_seconds (Histogram): Applied retry backoff durations
//   - leadharvest_circuit_trips_total (Counter): Circuit breaker trips
//
// Pacing Metrics (pkg/pacing):
//   - leadharvest_pacing_delay_seconds (Histogram): Applied inter-page delays
//   - leadharvest_pacing_widens_total (Counter): Base delay widenings after throttling
//
// Cooldown Metrics (pkg/cooldown):
//   - leadharvest_cooldowns_total{reason} (Counter): Cooldown windows opened by reason
//
// Run Log Metrics (pkg/runlog):
//   - leadharvest_runs_recorded_total{status} (Counter): Run log entries written by final status
//
// Example Prometheus Queries:
//
//   # Throttle Rate
//   rate(leadharvest_fetch_errors_total{kind="rate_limited"}[5m]) /
//   rate(leadharvest_page_requests_total[5m])
//
//   # Records Per Second
//   rate(leadharvest_records_harvested_total[5m])
//
//   # P95 Page Fetch Latency
//   histogram_quantile(0.95, rate(leadharvest_page_request_duration_seconds_bucket[5m]))
//
//   # Sessions Ending In Cooldown
//   sum(rate(leadharvest_sessions_total{reason=~"circuit_tripped|account_frozen"}[1h]))
