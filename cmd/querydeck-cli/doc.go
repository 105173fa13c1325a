// Package main provides the entry point for querydeck-cli.
//
// querydeck-cli keeps database connection profiles and their credentials
// on the local machine and drives a QueryDeck gateway's single database
// session:
//
//   - profile: create, list, rename, delete, export and import profiles
//   - vault: manage the passphrase-sealed credential store
//   - connect, disconnect, status, schema: the gateway database session
//   - stream, shell: the live channel (metrics stream, interactive queries)
//
// Usage:
//
//	querydeck-cli profile create --kind postgresql --host db --database app --user alice
//	querydeck-cli vault init
//	querydeck-cli connect app
//	querydeck-cli -o json stream --count 10
package main
