// Package session implements the session controller: the state machine that
// selects one active connection profile, resolves its credentials, connects
// it through the gateway and keeps the live channel bound to it.
//
// States are disconnected, connecting, connected and failed. The registry
// holds the persisted status; the controller is the only writer of
// lifecycle transitions.
package session
