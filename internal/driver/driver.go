package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
)

// MaxRows caps the rows returned by a single query.
const MaxRows = 500

// DefaultConnectTimeout bounds Open when the caller's context has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// ErrQueryUnavailable is returned by sessions that cannot run statements.
var ErrQueryUnavailable = errors.New("query execution unavailable for this database type")

// Target is everything a driver needs to reach one database.
type Target struct {
	Kind     domain.Kind
	Endpoint domain.Endpoint
	Secret   domain.Secret
}

// Username returns the secret's username, falling back to the endpoint's.
func (t Target) Username() string {
	if t.Secret.Username != "" {
		return t.Secret.Username
	}
	return t.Endpoint.Username
}

// Driver opens sessions for one kind.
type Driver interface {
	Open(ctx context.Context, t Target) (Session, error)
}

// Session is an open database session.
type Session interface {
	// Info describes the server for the connect response.
	Info() map[string]string
	Schema(ctx context.Context) ([]gateway.Table, error)
	Query(ctx context.Context, q string) (*gateway.QueryResult, error)
	Close() error
}

// Set maps kinds to drivers.
type Set map[domain.Kind]Driver

// Defaults returns the standard driver for every supported kind.
func Defaults() Set {
	probe := &TCPProbe{Timeout: DefaultConnectTimeout}
	return Set{
		domain.KindPostgreSQL: &Postgres{},
		domain.KindSQLite:     &SQLite{},
		domain.KindMySQL:      probe,
		domain.KindMongoDB:    probe,
	}
}

// Open dispatches to the driver registered for t.Kind.
func (s Set) Open(ctx context.Context, t Target) (Session, error) {
	d, ok := s[t.Kind]
	if !ok {
		return nil, fmt.Errorf("no driver for %q", t.Kind)
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}
	return d.Open(ctx, t)
}

// rowScanner is the subset of pgx.Rows and *sql.Rows collectRows needs.
type rowScanner interface {
	Next() bool
	Err() error
}

// collectRows reads at most MaxRows rows using values to fetch each one.
func collectRows(rows rowScanner, values func() ([]any, error)) ([][]any, bool, error) {
	out := make([][]any, 0)
	for rows.Next() {
		if len(out) == MaxRows {
			return out, true, nil
		}
		v, err := values()
		if err != nil {
			return nil, false, err
		}
		out = append(out, normalize(v))
	}
	return out, false, rows.Err()
}

// normalize makes driver values JSON friendly.
func normalize(row []any) []any {
	for i, v := range row {
		switch x := v.(type) {
		case []byte:
			row[i] = string(x)
		case time.Time:
			row[i] = x.UTC().Format(time.RFC3339Nano)
		case fmt.Stringer:
			row[i] = x.String()
		}
	}
	return row
}
