// Package relorm maps Go structs to relational tables following the
// aggregate pattern: a root entity owns its nested collections, and every
// operation treats the whole aggregate as one unit. Saving a root writes
// the root row and replaces all owned child rows; loading a root brings
// back the complete object graph; deleting removes children first.
//
// The entry point is AggregateTemplate:
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//		...
//	}
//	tpl := relorm.NewTemplate(drv)
//
//	order := &Order{Name: "office supplies", Items: []LineItem{{SKU: "PEN-01"}}}
//	err = tpl.Save(ctx, order)
//
//	var loaded Order
//	err = tpl.FindByID(ctx, &loaded, order.ID)
//
// Mapping is derived from struct shape and tags. Exported fields become
// columns, slices of structs become owned children, and the `db` and
// `relorm` tags override names, mark identifiers, and set foreign key
// columns. See package schema for the full rules.
//
// By default children load through one query per table. With
// SingleQueryLoading(true) the template instead compiles the aggregate
// into a single analytic statement (package sqlgen) and reads the whole
// graph in one round trip:
//
//	tpl := relorm.NewTemplate(drv, relorm.SingleQueryLoading(true))
//
// Loaded aggregates can be cached between calls with WithCache; entries
// are invalidated on Save and DeleteByID. Callbacks registered through
// OnBeforeSave, OnAfterLoad and friends run around each operation.
package relorm
