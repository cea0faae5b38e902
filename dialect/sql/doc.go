// Package sql adapts database/sql connections to the dialect.Driver
// interface and carries the dialect-aware pieces the rest of the module
// builds on.
//
// # Drivers
//
// Open or wrap a standard connection and hand the driver to a template:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//	tpl := relorm.NewTemplate(drv)
//
// NewStatsDriver wraps any *Driver with query statistics and slow query
// detection.
//
// # Quoting
//
// Quoter renders identifiers and bind placeholders in the connected
// dialect's style: backtick quoting and ? placeholders for MySQL, double
// quotes elsewhere, $N placeholders for PostgreSQL.
//
// # Constraint errors
//
// Driver errors from unique, foreign key, and check violations are
// normalized into *ConstraintError so callers can branch on the failure
// class without importing driver packages:
//
//	if err := tpl.Save(ctx, &order); sql.IsUniqueConstraintError(err) {
//	    return ErrDuplicateOrder
//	}
package sql
