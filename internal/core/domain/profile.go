// Package domain defines the core domain models for QueryDeck.
package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProfileIDPrefix is the prefix for connection profile ids.
// Format: qdcp-{ulid_lowercase}, 31 characters total.
const ProfileIDPrefix = "qdcp-"

// Kind is the database flavour a profile points at.
type Kind string

const (
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindMongoDB    Kind = "mongodb"
	KindSQLite     Kind = "sqlite"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindPostgreSQL, KindMySQL, KindMongoDB, KindSQLite}

// ParseKind normalizes s into a Kind. The boolean is false for unknown kinds.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPostgreSQL, KindMySQL, KindMongoDB, KindSQLite:
		return k, true
	case "postgres", "pg":
		return KindPostgreSQL, true
	case "mongo":
		return KindMongoDB, true
	}
	return "", false
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPostgreSQL, KindMySQL, KindMongoDB, KindSQLite:
		return true
	}
	return false
}

// DefaultPort returns the conventional port for the kind, 0 for file-based kinds.
func (k Kind) DefaultPort() int {
	switch k {
	case KindPostgreSQL:
		return 5432
	case KindMySQL:
		return 3306
	case KindMongoDB:
		return 27017
	default:
		return 0
	}
}

// UsesCredentials reports whether connecting requires a username and secret.
func (k Kind) UsesCredentials() bool {
	return k != KindSQLite
}

// Status is the lifecycle state of a profile's session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Endpoint is the non-secret network location of a database.
// For sqlite, Database is the file path and Host is the gateway-local host label.
type Endpoint struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
}

// Address returns host:port, or the host alone when no port applies.
func (e Endpoint) Address() string {
	if e.Port <= 0 {
		return e.Host
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Profile is a named, persisted description of how to reach one database.
type Profile struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`

	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Endpoint Endpoint `json:"endpoint"`

	// Status is the last known lifecycle state.
	Status Status `json:"status"`

	// LastConnectedAt is set only on a successful connect.
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`

	// HasStoredSecret is true iff the vault holds an entry for this profile.
	HasStoredSecret bool `json:"has_stored_secret"`

	CreatedAt time.Time `json:"created_at"`
}

// NewProfile builds a disconnected profile with a fresh id.
func NewProfile(name string, kind Kind, ep Endpoint) (*Profile, error) {
	id, err := GenerateProfileID()
	if err != nil {
		return nil, err
	}
	return &Profile{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Endpoint:  ep,
		Status:    StatusDisconnected,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GenerateProfileID generates a new profile id using ULID.
func GenerateProfileID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return ProfileIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidProfileID checks that id has the profile prefix and a ULID body.
func IsValidProfileID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, ProfileIDPrefix) || len(id) != len(ProfileIDPrefix)+26 {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(ProfileIDPrefix):]))
	return err == nil
}

// Validate checks the creation constraints.
// Returns ErrInvalidProfile with every violation joined in Details.
func (p *Profile) Validate() error {
	var violations []string

	if !p.Kind.Valid() {
		violations = append(violations, fmt.Sprintf("unsupported kind %q", p.Kind))
	}
	if strings.TrimSpace(p.Endpoint.Host) == "" {
		violations = append(violations, "host is required")
	}
	if strings.TrimSpace(p.Endpoint.Database) == "" {
		violations = append(violations, "database is required")
	}
	if p.Kind != KindSQLite {
		if p.Endpoint.Port <= 0 {
			violations = append(violations, "port must be positive")
		}
		if strings.TrimSpace(p.Endpoint.Username) == "" {
			violations = append(violations, "username is required")
		}
	}
	if p.Endpoint.Port > 65535 {
		violations = append(violations, "port exceeds 65535")
	}

	if len(violations) > 0 {
		return ErrInvalidProfile.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Fingerprint identifies the database a profile points at, independent of
// its name and id. Two profiles with the same fingerprint are duplicates.
func (p *Profile) Fingerprint() string {
	raw := fmt.Sprintf("%s:%d/%s@%s:%s",
		strings.ToLower(p.Endpoint.Host), p.Endpoint.Port, p.Endpoint.Database,
		p.Endpoint.Username, p.Kind)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.LastConnectedAt != nil {
		t := *p.LastConnectedAt
		c.LastConnectedAt = &t
	}
	return &c
}
