// Package logger provides structured logging for QueryDeck.
//
// It wraps the standard library log/slog behind a small Logger interface:
//
//   - logger.go: handler construction, dynamic level, rotated file output
//   - context.go: request and profile id propagation
//   - redact.go: masking of passwords, passphrases and session tokens
//
// Secrets must never reach a sink in clear text. Attributes whose key looks
// sensitive are replaced, and domain.Secret values render without password
// through slog.LogValuer.
package logger
