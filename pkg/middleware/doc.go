// Package middleware provides the HTTP middleware chain: request IDs,
// bearer-token authentication, and Redis-backed rate limiting.
package middleware
