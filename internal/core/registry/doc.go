// Package registry owns the set of connection profiles.
//
// Profiles are persisted in the local KV store under profile/{id}. When a
// remote source is configured, List merges the gateway's copy into the local
// view: remote entries win on id collision and local-only entries survive.
//
// The registry is the SecretFlagger for the vault, and the only writer of
// profile status. Deleting a profile removes its vault entry and notifies
// delete hooks (the session controller clears its active id there).
package registry
