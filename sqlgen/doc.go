// Package sqlgen generates the SQL for loading and persisting aggregates.
//
// Its centerpiece is the StructureBuilder, which incrementally builds the
// structure of an analytic query: a single query plan able to load a whole
// aggregate (root entity plus all transitively owned collections) in one
// round trip, using nested joins, row numbering and derived-column
// projection instead of one query per nesting level.
//
// The structure is a tree of query nodes over opaque caller keys - one key
// type for tables, one for columns. RenderAnalytic turns a finished tree
// into literal SQL; Generator renders the per-table CRUD statements.
package sqlgen
