// Package tlsroots manages TLS material for the gateway and its clients.
//
//   - roots.go: system roots plus custom CA files for clients
//   - reloader.go: server certificate hot reload via fsnotify
package tlsroots
