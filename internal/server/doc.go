// Package server implements the HTTP monitoring API: health, statistics,
// sanitized configuration and Prometheus metrics.
package server
