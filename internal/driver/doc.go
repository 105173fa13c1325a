// Package driver opens database sessions on behalf of the gateway.
//
// One Driver exists per domain.Kind. PostgreSQL uses pgx, SQLite uses the
// pure-Go modernc driver. MySQL and MongoDB are reachability probes only:
// they verify the endpoint accepts TCP connections but cannot describe a
// schema or run queries.
package driver
