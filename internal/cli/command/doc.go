// Package command defines the querydeck-cli commands on urfave/cli/v2.
//
// Every data command resolves a Runtime (runtime.go) that wires the
// profile registry, the credential vault, the gateway client, the live
// channel and the session controller over one badger data directory.
// Commands parse flags, call into that graph and render through the
// output package:
//
//   - profile: create, list, show, rename, delete, export, import
//   - vault: status, init, store, remove, reset
//   - connect, disconnect, status, schema: the gateway database session
//   - stream, shell: live channel consumers
//   - system, config: gateway health, build info, CLI configuration
package command
