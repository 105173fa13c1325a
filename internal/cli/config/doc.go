// Package config holds the querydeck-cli configuration (~/.querydeck/cli.yaml).
//
// The file is optional. Environment variables (QUERYDECK_*) and global
// flags override it. The CLI also writes the file back to persist the
// caller session token it generates on first use.
package config
