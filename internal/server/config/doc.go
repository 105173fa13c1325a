// Package config provides the querydeck-gateway configuration.
//
//   - spec.go: GatewayConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (addresses, key format, paths)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - convert.go: Mapping onto component configs
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files, environment variables, and flags.
package config
