package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
func Sanitize(cfg *GatewayConfig) *GatewayConfig {
	sanitized := *cfg
	sanitized.Server.HTTP.AllowedOrigins = append([]string(nil), cfg.Server.HTTP.AllowedOrigins...)

	if sanitized.Security.ServerKey != "" {
		sanitized.Security.ServerKey = maskSecret(sanitized.Security.ServerKey)
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
