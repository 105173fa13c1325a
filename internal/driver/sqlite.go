package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yndnr/querydeck-go/internal/gateway"
)

// SQLite opens database files local to the gateway. Endpoint.Database is
// the file path.
type SQLite struct{}

// Open opens an existing file. A missing file is an error rather than an
// implicitly created empty database.
func (d *SQLite) Open(ctx context.Context, t Target) (Session, error) {
	path := t.Endpoint.Database
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("database file %s does not exist", path)
		}
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(2)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &sqliteSession{
		db: db,
		info: map[string]string{
			"database": path,
			"version":  "SQLite " + version,
		},
	}, nil
}

type sqliteSession struct {
	db   *sql.DB
	info map[string]string
}

func (s *sqliteSession) Info() map[string]string { return s.info }

const sqliteSchemaQuery = `
SELECT m.name, p.name, p.type, p."notnull" = 0, p.dflt_value
FROM sqlite_master m JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

func (s *sqliteSession) Schema(ctx context.Context) ([]gateway.Table, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSchemaQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var b tableBuilder
	for rows.Next() {
		var table string
		var col gateway.Column
		var def sql.NullString
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable, &def); err != nil {
			return nil, err
		}
		if def.Valid {
			col.Default = &def.String
		}
		b.add("main", table, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.tables, nil
}

func (s *sqliteSession) Query(ctx context.Context, q string) (*gateway.QueryResult, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	data, truncated, err := collectRows(rows, func() ([]any, error) {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		return vals, nil
	})
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

func (s *sqliteSession) Close() error {
	return s.db.Close()
}
