// Package api hosts the operator HTTP surface that runs alongside a crawl or
// download run. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current run's phase and outcome counters.
package api
