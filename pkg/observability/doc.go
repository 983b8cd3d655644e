// Package observability provides structured logging, Prometheus metrics,
// and health checking for the Arbor access control service.
//
// Logging is JSON-structured (logrus) with request-scoped context fields.
// Metrics cover the HTTP surface, permission resolution, the resolution
// cache, and structural index mutations. Health checks expose liveness and
// readiness endpoints on a dedicated port so load balancers and Kubernetes
// probes never contend with API traffic.
package observability
