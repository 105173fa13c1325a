// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X .../buildinfo.Version=1.0.0 -X .../buildinfo.Commit=abc123"
//
// Both querydeck-cli and querydeck-gateway report it from their version
// commands, and the gateway client sends it in User-Agent.
package buildinfo
