// Package httpserver serves the admin HTTP surface of a logstreams node:
// /metrics for Prometheus, /v1/healthz and /v1/partitions.
package httpserver
