// Package config loads and validates service configuration from
// ARBOR_-prefixed environment variables.
package config
