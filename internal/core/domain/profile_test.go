package domain

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNewProfile(t *testing.T) {
	p, err := NewProfile("orders", KindPostgreSQL, Endpoint{Host: "db", Port: 5432, Database: "orders", Username: "app"})
	if err != nil {
		t.Fatalf("NewProfile() error = %v", err)
	}

	if !IsValidProfileID(p.ID) {
		t.Errorf("ID %q is not a valid profile id", p.ID)
	}
	if p.Status != StatusDisconnected {
		t.Errorf("Status = %q, want disconnected", p.Status)
	}
	if p.LastConnectedAt != nil {
		t.Error("LastConnectedAt should be nil for a new profile")
	}
	if p.HasStoredSecret {
		t.Error("HasStoredSecret should be false for a new profile")
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestGenerateProfileID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id, err := GenerateProfileID()
		if err != nil {
			t.Fatalf("GenerateProfileID() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestIsValidProfileID(t *testing.T) {
	id, _ := GenerateProfileID()
	tests := []struct {
		id   string
		want bool
	}{
		{id, true},
		{strings.ToUpper(id), true},
		{"", false},
		{"qdcp-short", false},
		{"tmss-" + id[len(ProfileIDPrefix):], false},
	}
	for _, tt := range tests {
		if got := IsValidProfileID(tt.id); got != tt.want {
			t.Errorf("IsValidProfileID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind        Kind
		port        int
		credentials bool
	}{
		{KindPostgreSQL, 5432, true},
		{KindMySQL, 3306, true},
		{KindMongoDB, 27017, true},
		{KindSQLite, 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if !tt.kind.Valid() {
				t.Error("Valid() = false")
			}
			if got := tt.kind.DefaultPort(); got != tt.port {
				t.Errorf("DefaultPort() = %d, want %d", got, tt.port)
			}
			if got := tt.kind.UsesCredentials(); got != tt.credentials {
				t.Errorf("UsesCredentials() = %v, want %v", got, tt.credentials)
			}
		})
	}

	if Kind("oracle").Valid() {
		t.Error("oracle should not be valid")
	}
	if k, ok := ParseKind(" Postgres "); !ok || k != KindPostgreSQL {
		t.Errorf("ParseKind(Postgres) = %q, %v", k, ok)
	}
	if _, ok := ParseKind("redis"); ok {
		t.Error("ParseKind(redis) should fail")
	}
}

func TestProfile_Validate(t *testing.T) {
	valid := Endpoint{Host: "db.internal", Port: 5432, Database: "app", Username: "svc"}

	tests := []struct {
		name    string
		kind    Kind
		ep      Endpoint
		wantErr bool
	}{
		{"valid postgres", KindPostgreSQL, valid, false},
		{"empty host", KindPostgreSQL, Endpoint{Port: 5432, Database: "app", Username: "svc"}, true},
		{"blank host", KindMySQL, Endpoint{Host: "  ", Port: 3306, Database: "app", Username: "svc"}, true},
		{"empty database", KindPostgreSQL, Endpoint{Host: "db", Port: 5432, Username: "svc"}, true},
		{"zero port", KindPostgreSQL, Endpoint{Host: "db", Database: "app", Username: "svc"}, true},
		{"negative port", KindMongoDB, Endpoint{Host: "db", Port: -1, Database: "app", Username: "svc"}, true},
		{"port too large", KindMySQL, Endpoint{Host: "db", Port: 70000, Database: "app", Username: "svc"}, true},
		{"missing username", KindMySQL, Endpoint{Host: "db", Port: 3306, Database: "app"}, true},
		{"sqlite without port or user", KindSQLite, Endpoint{Host: "localhost", Database: "/var/data/app.db"}, false},
		{"sqlite without path", KindSQLite, Endpoint{Host: "localhost"}, true},
		{"unknown kind", Kind("oracle"), valid, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{Name: "x", Kind: tt.kind, Endpoint: tt.ep}
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("Validate() error = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestProfile_Fingerprint(t *testing.T) {
	a := &Profile{ID: "a", Name: "one", Kind: KindPostgreSQL, Endpoint: Endpoint{Host: "DB", Port: 5432, Database: "app", Username: "svc"}}
	b := &Profile{ID: "b", Name: "two", Kind: KindPostgreSQL, Endpoint: Endpoint{Host: "db", Port: 5432, Database: "app", Username: "svc"}}
	c := &Profile{ID: "c", Name: "one", Kind: KindMySQL, Endpoint: a.Endpoint}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("name, id and host case should not affect the fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("kind should affect the fingerprint")
	}
}

func TestProfile_Clone(t *testing.T) {
	p, _ := NewProfile("x", KindSQLite, Endpoint{Host: "localhost", Database: "a.db"})
	now := p.CreatedAt
	p.LastConnectedAt = &now

	c := p.Clone()
	c.Name = "y"
	*c.LastConnectedAt = now.Add(1)

	if p.Name != "x" {
		t.Error("Clone shares Name")
	}
	if !p.LastConnectedAt.Equal(now) {
		t.Error("Clone shares LastConnectedAt")
	}
}

func TestSecret_NeverFormatsPassword(t *testing.T) {
	s := Secret{Username: "svc", Password: "hunter2"}

	for _, out := range []string{s.String(), fmt.Sprintf("%v", s), fmt.Sprintf("%+v", s), fmt.Sprintf("%#v", s)} {
		if strings.Contains(out, "hunter2") {
			t.Errorf("formatted secret leaked password: %s", out)
		}
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("connecting", "secret", s)
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("logged secret leaked password: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "svc") {
		t.Errorf("logged secret lost username: %s", buf.String())
	}
}
