package gateway

import (
	"encoding/json"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
)

// HeaderUserSession carries the caller session token.
const HeaderUserSession = "X-User-Session"

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

// CodeOK is the envelope code of a successful response.
const CodeOK = "OK"

// Envelope is the response wrapper used by every JSON route.
type Envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Details   string          `json:"details,omitempty"`
}

// ConnectRequest is the body of POST /api/database/connect.
type ConnectRequest struct {
	Kind     domain.Kind `json:"db_type"`
	Host     string      `json:"host"`
	Port     int         `json:"port"`
	Database string      `json:"database"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
}

// ConnectResult is returned by a successful connect.
type ConnectResult struct {
	Status         string            `json:"status"`
	Message        string            `json:"message"`
	ConnectionInfo map[string]string `json:"connection_info,omitempty"`
}

// StatusResult is returned by GET /api/database/status.
type StatusResult struct {
	Connected   bool        `json:"connected"`
	Status      string      `json:"status"`
	Kind        domain.Kind `json:"db_type,omitempty"`
	Database    string      `json:"database,omitempty"`
	ConnectedAt *time.Time  `json:"connected_at,omitempty"`
}

// Column describes one column of a table.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

// Table describes one table of the connected database.
type Table struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SchemaResult is returned by GET /api/database/schema.
type SchemaResult struct {
	Tables []Table `json:"tables"`
}

// CredentialBody is the body of PUT /api/credentials/{id} and the data of
// GET /api/credentials/{id}.
type CredentialBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialState answers HEAD-style existence checks.
type CredentialState struct {
	Stored bool `json:"stored"`
}

// AuditList is the data of GET /api/credentials/audit and
// GET /api/credentials/{id}/audit.
type AuditList struct {
	Entries []audit.Entry `json:"audit_logs"`
}

// ProfileList is the data of GET /api/connections.
type ProfileList struct {
	Connections []domain.Profile `json:"connections"`
}

// QueryResult is the result payload of an execute_query command.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}
