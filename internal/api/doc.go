// Package api hosts the HTTP server, middleware, and REST handlers of
// `soundings serve`. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stations for the station catalog.
//   - GET /v1/soundings/{station} to download soundings on demand.
//   - GET /v1/runs for the run history kept in Postgres.
package api
