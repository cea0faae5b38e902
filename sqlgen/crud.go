package sqlgen

import (
	"strings"

	"github.com/relorm/relorm/dialect/sql"
)

// Table is the relational shape CRUD statements are generated for.
type Table struct {
	// Name of the table.
	Name string
	// ID is the identifier column.
	ID string
	// Columns are the writable non-id columns, in write order.
	Columns []string
	// ForeignKey is the column referencing the owning table's id.
	// Empty for aggregate roots.
	ForeignKey string
}

// Generator renders the CRUD statements for one table. All statements use
// bind placeholders in the dialect's style; the argument order matches
// the column order of the method docs.
type Generator struct {
	quoter sql.Quoter
	table  Table
}

// NewGenerator returns a Generator for the given table.
func NewGenerator(quoter sql.Quoter, table Table) *Generator {
	return &Generator{quoter: quoter, table: table}
}

// Insert renders an INSERT of the id (when withID is set) followed by the
// writable columns.
func (g *Generator) Insert(withID bool) string {
	columns := g.writeColumns(withID)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(g.quoter.Ident(g.table.Name))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(g.quoter.Ident(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(g.quoter.Placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

// UpdateByID renders an UPDATE of the writable columns, keyed by id. The
// id is the last argument.
func (g *Generator) UpdateByID() string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(g.quoter.Ident(g.table.Name))
	b.WriteString(" SET ")
	n := 0
	for _, c := range g.table.Columns {
		if n > 0 {
			b.WriteString(", ")
		}
		n++
		b.WriteString(g.quoter.Ident(c))
		b.WriteString(" = ")
		b.WriteString(g.quoter.Placeholder(n))
	}
	b.WriteString(" WHERE ")
	b.WriteString(g.quoter.Ident(g.table.ID))
	b.WriteString(" = ")
	b.WriteString(g.quoter.Placeholder(n + 1))
	return b.String()
}

// DeleteByID renders a DELETE keyed by id.
func (g *Generator) DeleteByID() string {
	return "DELETE FROM " + g.quoter.Ident(g.table.Name) +
		" WHERE " + g.quoter.Ident(g.table.ID) + " = " + g.quoter.Placeholder(1)
}

// DeleteByForeignKey renders a DELETE of all rows owned by one parent.
func (g *Generator) DeleteByForeignKey() string {
	return "DELETE FROM " + g.quoter.Ident(g.table.Name) +
		" WHERE " + g.quoter.Ident(g.table.ForeignKey) + " = " + g.quoter.Placeholder(1)
}

// SelectByID renders a SELECT of all read columns keyed by id.
func (g *Generator) SelectByID() string {
	return g.selectAll() + " WHERE " + g.quoter.Ident(g.table.ID) + " = " + g.quoter.Placeholder(1)
}

// SelectByForeignKey renders a SELECT of all rows owned by one parent,
// ordered by id for deterministic collection order.
func (g *Generator) SelectByForeignKey() string {
	return g.selectAll() +
		" WHERE " + g.quoter.Ident(g.table.ForeignKey) + " = " + g.quoter.Placeholder(1) +
		" ORDER BY " + g.quoter.Ident(g.table.ID)
}

// SelectIDByForeignKey renders a SELECT of only the id column of rows
// owned by one parent.
func (g *Generator) SelectIDByForeignKey() string {
	return "SELECT " + g.quoter.Ident(g.table.ID) + " FROM " + g.quoter.Ident(g.table.Name) +
		" WHERE " + g.quoter.Ident(g.table.ForeignKey) + " = " + g.quoter.Placeholder(1)
}

// SelectAll renders a SELECT of all rows, ordered by id.
func (g *Generator) SelectAll() string {
	return g.selectAll() + " ORDER BY " + g.quoter.Ident(g.table.ID)
}

// ExistsByID renders an existence probe keyed by id.
func (g *Generator) ExistsByID() string {
	return "SELECT COUNT(1) FROM " + g.quoter.Ident(g.table.Name) +
		" WHERE " + g.quoter.Ident(g.table.ID) + " = " + g.quoter.Placeholder(1)
}

// CountAll renders a row count.
func (g *Generator) CountAll() string {
	return "SELECT COUNT(1) FROM " + g.quoter.Ident(g.table.Name)
}

// ReadColumns returns the columns selected by the Select* statements, in
// scan order: id first, then the writable columns.
func (g *Generator) ReadColumns() []string {
	return append([]string{g.table.ID}, g.table.Columns...)
}

// WriteColumns returns the columns written by Insert, in argument order.
func (g *Generator) WriteColumns(withID bool) []string {
	return g.writeColumns(withID)
}

func (g *Generator) writeColumns(withID bool) []string {
	columns := make([]string, 0, len(g.table.Columns)+1)
	if withID {
		columns = append(columns, g.table.ID)
	}
	return append(columns, g.table.Columns...)
}

func (g *Generator) selectAll() string {
	cols := make([]string, 0, len(g.table.Columns)+1)
	for _, c := range g.ReadColumns() {
		cols = append(cols, g.quoter.Ident(c))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + g.quoter.Ident(g.table.Name)
}
