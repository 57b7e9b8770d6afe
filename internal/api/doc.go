// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl for a collected batch, GET /v1/crawl/stream for the
//     same batch as Server-Sent Events in completion order.
//   - GET /v1/history/... for stored sessions, statistics, comparisons and
//     exports, backed by the crawler.SessionStore interface.
package api
