package driver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yndnr/querydeck-go/internal/gateway"
)

// Postgres opens pgx pools.
type Postgres struct {
	// SSLMode is passed through as sslmode. Empty means "prefer".
	SSLMode string
}

// ConnString builds the pgx connection string for t.
func (d *Postgres) ConnString(t Target) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   t.Endpoint.Host + ":" + strconv.Itoa(t.Endpoint.Port),
		Path:   "/" + t.Endpoint.Database,
	}
	if t.Secret.Password != "" {
		u.User = url.UserPassword(t.Username(), t.Secret.Password)
	} else if name := t.Username(); name != "" {
		u.User = url.User(name)
	}
	mode := d.SSLMode
	if mode == "" {
		mode = "prefer"
	}
	q := url.Values{}
	q.Set("sslmode", mode)
	q.Set("application_name", "querydeck-gateway")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open creates a small pool and checks the server answers.
func (d *Postgres) Open(ctx context.Context, t Target) (Session, error) {
	cfg, err := pgxpool.ParseConfig(d.ConnString(t))
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		pool.Close()
		return nil, err
	}

	return &pgSession{
		pool: pool,
		info: map[string]string{
			"host":     t.Endpoint.Host,
			"port":     strconv.Itoa(t.Endpoint.Port),
			"database": t.Endpoint.Database,
			"version":  version,
		},
	}, nil
}

type pgSession struct {
	pool *pgxpool.Pool
	info map[string]string
}

func (s *pgSession) Info() map[string]string { return s.info }

const pgSchemaQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable = 'YES', column_default
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`

func (s *pgSession) Schema(ctx context.Context) ([]gateway.Table, error) {
	rows, err := s.pool.Query(ctx, pgSchemaQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var b tableBuilder
	for rows.Next() {
		var schema, table string
		var col gateway.Column
		if err := rows.Scan(&schema, &table, &col.Name, &col.Type, &col.Nullable, &col.Default); err != nil {
			return nil, err
		}
		b.add(schema, table, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.tables, nil
}

func (s *pgSession) Query(ctx context.Context, q string) (*gateway.QueryResult, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	data, truncated, err := collectRows(rows, rows.Values)
	if err != nil {
		return nil, err
	}
	return &gateway.QueryResult{
		Columns:   cols,
		Rows:      data,
		RowCount:  len(data),
		Truncated: truncated,
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

func (s *pgSession) Close() error {
	s.pool.Close()
	return nil
}

// tableBuilder groups column rows, already ordered by table, into tables.
type tableBuilder struct {
	tables []gateway.Table
}

func (b *tableBuilder) add(schema, table string, col gateway.Column) {
	n := len(b.tables)
	if n == 0 || b.tables[n-1].Schema != schema || b.tables[n-1].Name != table {
		b.tables = append(b.tables, gateway.Table{Schema: schema, Name: table})
		n++
	}
	b.tables[n-1].Columns = append(b.tables[n-1].Columns, col)
}
