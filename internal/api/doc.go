// Package api hosts the operator HTTP endpoint started when metrics.addr is set.
// Routes:
//   - GET /healthz for liveness.
//   - GET /readyz, 503 until the command has built its clients.
//   - GET /metrics for Prometheus scraping.
package api
