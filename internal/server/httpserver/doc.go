// Package httpserver provides the gateway's HTTP/HTTPS server.
//
// It assembles the handler package behind a middleware chain
// (request id, panic recovery, audit logging, CORS, rate limiting and
// caller session checks) and exposes Prometheus metrics on /metrics.
package httpserver
