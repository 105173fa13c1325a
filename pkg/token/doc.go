// Package token provides caller session token generation and hashing.
//
// Session token format:
//
//   - Prefix: qdst_ (5 characters)
//   - Body: 43 characters of Base64 RawURL encoded random bytes
//
// A session token identifies one caller to the gateway's remote credential
// store. The gateway only ever persists Hash(token).
package token
