// Package seal provides passphrase- and key-based authenticated encryption.
//
// Keys are derived from passphrases with Argon2id and used with an AEAD that
// is picked per platform: AES-256-GCM where the CPU accelerates AES,
// ChaCha20-Poly1305 otherwise. Ciphertexts carry their nonce as a prefix.
//
// Every open failure collapses into ErrOpenFailed so callers cannot
// distinguish a wrong key from tampered data.
package seal
