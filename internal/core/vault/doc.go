// Package vault stores connection secrets under encryption.
//
// Two backends satisfy Vault:
//
//   - LocalVault keeps a master passphrase verifier and one sealed entry per
//     profile in the local KV store. Each entry has its own salt and is bound
//     to its profile id, so a copied or corrupted entry fails to open.
//   - RemoteVault delegates to the gateway's credential store, identified by
//     the caller's session token. Passphrase arguments are ignored.
//
// Both report presence changes to a SecretFlagger (the registry) so that a
// profile's HasStoredSecret flag tracks whether an entry exists.
package vault
