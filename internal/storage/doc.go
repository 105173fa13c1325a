// Package storage provides the key-value persistence substrate for QueryDeck.
//
// Two backends implement KV:
//
//   - BadgerKV: durable embedded store used by the CLI data directory and
//     the gateway credential store
//   - MemoryKV: map-backed store for tests and throwaway sessions
//
// Keys are namespaced by the owning component (profile/, vault/, cred/).
package storage
