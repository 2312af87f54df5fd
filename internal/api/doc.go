// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/search to queue a cause-list search for a date and its
//     weekend follow-ons.
//   - GET /v1/search/queue-status for task queue introspection.
//
// When auth is enabled the /v1 routes require the API key in the
// Authorization or X-API-Key header.
package api
