// Package gateway is the HTTP client for the QueryDeck gateway.
//
// The gateway owns actual database sessions. This package sends connect and
// disconnect requests, reads status and schema, and exposes the
// gateway-side credential and profile stores used by the remote vault
// backend and by registry reconciliation.
//
// Every response uses the envelope described by Envelope. Non-2xx responses
// are turned back into domain errors by code.
package gateway
