// Package api hosts the HTTP server, middleware, and REST handlers through
// which clients submit crawls and workers lease, acknowledge, and complete
// jobs. Notable routes:
//   - POST /crawl, GET /crawl/{id}, DELETE /crawl/{id}?hard= for crawls.
//   - GET /crawl/{id}/events?after=&limit= to page through the event journal.
//   - GET /job?crawl=&num= to lease jobs, DELETE /crawl/{crawlId}/job/{deleteId}
//     to acknowledge one.
//   - GET /page/{id}?hydrate= and PUT /page/{id} for pages.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
