// Package metric provides Prometheus metrics for QueryDeck.
//
// A Registry owns a private prometheus registry so tests can build isolated
// instances; Global is the process-wide one. All Observe helpers are safe on
// a nil *Registry, which lets components treat metrics as optional.
package metric
