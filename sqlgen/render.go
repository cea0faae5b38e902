package sqlgen

import (
	"fmt"
	"strings"

	"github.com/relorm/relorm/dialect/sql"
)

// RenderedColumn describes one projected column of a rendered analytic
// query. Alias is unique within the query and stable across re-renders.
type RenderedColumn struct {
	// Alias the column is projected under.
	Alias string
	// Table is the table the column originates from.
	Table string
	// Column is the column name inside Table. Empty for row numbers.
	Column string
	// ID marks the identifier column of its table.
	ID bool
	// ForeignKey marks the linkage column to the owning table.
	ForeignKey bool
	// RowNumber marks the synthetic per-owner ordinal column.
	RowNumber bool
}

// AnalyticQuery is the SQL rendering of a finished query structure. The
// statement loads a whole aggregate in one round trip; callers wrap it
// with WHERE/ORDER BY on the aliased columns.
type AnalyticQuery struct {
	// SQL is the statement text, without trailing clauses.
	SQL string
	// Columns are the projected columns, in projection order.
	Columns []RenderedColumn
	// RootIDAlias is the alias of the aggregate root's identifier.
	RootIDAlias string
}

// ColumnAlias returns the alias the given table column is projected
// under, or "" if the column is not part of the query.
func (q *AnalyticQuery) ColumnAlias(table, column string) string {
	for _, c := range q.Columns {
		if c.Table == table && c.Column == column && !c.RowNumber {
			return c.Alias
		}
	}
	return ""
}

// RenderAnalytic renders the query structure rooted at root into a single
// SELECT. Table scans become plain projections, views add a
// ROW_NUMBER() OVER (PARTITION BY fk ORDER BY id) ordinal, and joins
// become LEFT OUTER JOINs of their two sides on parent id = child fk.
func RenderAnalytic(quoter sql.Quoter, root Select[string, string]) (*AnalyticQuery, error) {
	if !root.Valid() {
		return nil, fmt.Errorf("sqlgen: render: empty structure")
	}
	r := renderer{quoter: quoter}
	text, columns, err := r.render(root)
	if err != nil {
		return nil, err
	}
	// The reader keys rows by alias; a duplicate would silently
	// cross-wire columns of different tables.
	seen := make(map[string]string, len(columns))
	for _, c := range columns {
		if prev, ok := seen[c.Alias]; ok {
			return nil, fmt.Errorf("sqlgen: render: alias %q is ambiguous between %s and %s.%s",
				c.Alias, prev, c.Table, c.Column)
		}
		seen[c.Alias] = c.Table + "." + c.Column
	}
	idTable, err := identityTable(root)
	if err != nil {
		return nil, err
	}
	q := &AnalyticQuery{SQL: text, Columns: columns}
	for _, c := range columns {
		if c.ID && c.Table == idTable {
			q.RootIDAlias = c.Alias
			break
		}
	}
	return q, nil
}

type renderer struct {
	quoter sql.Quoter
	serial int
}

func (r *renderer) nextAlias() string {
	r.serial++
	return fmt.Sprintf("a%d", r.serial)
}

func (r *renderer) render(s Select[string, string]) (string, []RenderedColumn, error) {
	switch s.Kind() {
	case KindTable:
		def, _ := s.Definition()
		return r.renderTable(def, false)
	case KindView:
		def, _ := s.Definition()
		return r.renderTable(def, true)
	case KindJoin:
		return r.renderJoin(s)
	default:
		return "", nil, fmt.Errorf("sqlgen: render: unknown node kind %v", s.Kind())
	}
}

// renderTable projects the configured columns of one table under their
// aliases. Views additionally project the row-number ordinal.
func (r *renderer) renderTable(def TableDefinition[string, string], view bool) (string, []RenderedColumn, error) {
	table := def.Table()
	var (
		exprs   []string
		columns []RenderedColumn
	)
	appendColumn := func(column string, rc RenderedColumn) {
		rc.Table = table
		rc.Column = column
		rc.Alias = table + "_" + column
		exprs = append(exprs, r.quoter.Ident(column)+" AS "+r.quoter.Ident(rc.Alias))
		columns = append(columns, rc)
	}
	for _, c := range def.Columns() {
		key, ok := c.Base()
		if !ok {
			continue
		}
		switch c.(type) {
		case ForeignKey[string]:
			appendColumn(key, RenderedColumn{ForeignKey: true})
		default:
			if def.ID() == c {
				appendColumn(key, RenderedColumn{ID: true})
			} else {
				appendColumn(key, RenderedColumn{})
			}
		}
	}
	if view {
		rn, err := r.rowNumber(def)
		if err != nil {
			return "", nil, err
		}
		alias := table + "_rn"
		exprs = append(exprs, rn+" AS "+r.quoter.Ident(alias))
		columns = append(columns, RenderedColumn{Alias: alias, Table: table, RowNumber: true})
	}
	if len(exprs) == 0 {
		return "", nil, fmt.Errorf("sqlgen: render: table %q has no columns", table)
	}
	text := "SELECT " + strings.Join(exprs, ", ") + " FROM " + r.quoter.Ident(table)
	return text, columns, nil
}

// rowNumber renders the ordinal expression bounding the fan-out of one
// owned collection: one sequence per owner, ordered by the child id.
func (r *renderer) rowNumber(def TableDefinition[string, string]) (string, error) {
	var fk, id string
	if c := def.ForeignKey(); c != nil {
		fk, _ = c.Base()
	}
	if c := def.ID(); c != nil {
		id, _ = c.Base()
	}
	switch {
	case fk != "" && id != "":
		return fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s)",
			r.quoter.Ident(fk), r.quoter.Ident(id)), nil
	case fk != "":
		return fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s)",
			r.quoter.Ident(fk), r.quoter.Ident(fk)), nil
	case id != "":
		return fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s)", r.quoter.Ident(id)), nil
	default:
		return "", fmt.Errorf("sqlgen: render: view over %q needs an id or foreign key for row numbering", def.Table())
	}
}

func (r *renderer) renderJoin(s Select[string, string]) (string, []RenderedColumn, error) {
	froms := s.Froms()
	parentSQL, parentCols, err := r.render(froms[0])
	if err != nil {
		return "", nil, err
	}
	childSQL, childCols, err := r.render(froms[1])
	if err != nil {
		return "", nil, err
	}

	parentAlias, childAlias := r.nextAlias(), r.nextAlias()

	onLeft, err := r.joinIDAlias(froms[0], parentCols)
	if err != nil {
		return "", nil, err
	}
	onRight, err := r.joinFKAlias(froms[1], childCols)
	if err != nil {
		return "", nil, err
	}

	var exprs []string
	for _, c := range parentCols {
		exprs = append(exprs, parentAlias+"."+r.quoter.Ident(c.Alias))
	}
	for _, c := range childCols {
		exprs = append(exprs, childAlias+"."+r.quoter.Ident(c.Alias))
	}

	text := fmt.Sprintf("SELECT %s FROM (%s) %s LEFT OUTER JOIN (%s) %s ON %s.%s = %s.%s",
		strings.Join(exprs, ", "),
		parentSQL, parentAlias,
		childSQL, childAlias,
		parentAlias, r.quoter.Ident(onLeft),
		childAlias, r.quoter.Ident(onRight),
	)
	return text, append(parentCols, childCols...), nil
}

// joinIDAlias locates the alias of the parent side's identifier, i.e. the
// id of the side's ultimate domain parent.
func (r *renderer) joinIDAlias(parent Select[string, string], columns []RenderedColumn) (string, error) {
	table, err := identityTable(parent)
	if err != nil {
		return "", err
	}
	for _, c := range columns {
		if c.ID && c.Table == table {
			return c.Alias, nil
		}
	}
	return "", fmt.Errorf("sqlgen: render: table %q has no id column to join on", table)
}

// joinFKAlias locates the alias of the child side's foreign key pointing
// at the owning table.
func (r *renderer) joinFKAlias(child Select[string, string], columns []RenderedColumn) (string, error) {
	table, err := identityTable(child)
	if err != nil {
		return "", err
	}
	for _, c := range columns {
		if c.ForeignKey && c.Table == table {
			return c.Alias, nil
		}
	}
	return "", fmt.Errorf("sqlgen: render: table %q has no foreign key to join on", table)
}

// identityTable returns the table whose identifier a node inherits: the
// wrapped table for scans and views, the parent side's identity for
// joins.
func identityTable(s Select[string, string]) (string, error) {
	for {
		if table, ok := s.Table(); ok {
			return table, nil
		}
		froms := s.Froms()
		if len(froms) != 2 {
			return "", fmt.Errorf("sqlgen: render: node %v has no identity table", s)
		}
		s = froms[0]
	}
}
