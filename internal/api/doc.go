// Package api hosts the optional operator HTTP server that runs next to a
// crawl. Routes:
//   - GET /healthz and /readyz for liveness and sink readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /stats for the latest run summary.
package api
