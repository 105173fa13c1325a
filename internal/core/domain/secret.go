package domain

import (
	"fmt"
	"log/slog"
)

// Secret is the sensitive half of a connection: what the vault encrypts and
// what the gateway needs once per connect.
type Secret struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsZero reports whether neither field is set.
func (s Secret) IsZero() bool {
	return s.Username == "" && s.Password == ""
}

// String never includes the password.
func (s Secret) String() string {
	return fmt.Sprintf("Secret{Username:%q, Password:<redacted>}", s.Username)
}

// GoString guards %#v formatting.
func (s Secret) GoString() string {
	return s.String()
}

// LogValue implements slog.LogValuer so a Secret passed to a logger is
// rendered without its password.
func (s Secret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "***REDACTED***"),
	)
}
