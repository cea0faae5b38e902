// Package dialect provides the database abstraction relorm builds on.
//
// It defines the interfaces and names used for database-specific behavior,
// allowing relorm to map aggregates onto PostgreSQL, MySQL and SQLite.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The Driver interface is the single surface relorm uses to talk to a
// database:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The dialect/sql sub-package provides the database/sql backed
// implementation together with identifier quoting, placeholder formatting
// and constraint-error classification.
//
// # Debug Driver
//
// Debug wraps a Driver and logs every statement through log/slog:
//
//	drv := dialect.Debug(sqldrv, slog.Default())
package dialect
