package schema

import (
	"sync"
	"unicode"

	"github.com/go-openapi/inflect"
)

// NamingStrategy derives table and column names from Go identifiers.
// Names derived here are overridden by struct tags.
type NamingStrategy interface {
	// TableName returns the table for an entity type name,
	// e.g. "OrderItem" -> "order_items".
	TableName(entity string) string
	// ColumnName returns the column for a field name,
	// e.g. "CreatedAt" -> "created_at".
	ColumnName(field string) string
	// ForeignKeyName returns the column on a child table referencing the
	// owning table's id, e.g. "orders" -> "order_id".
	ForeignKeyName(ownerTable string) string
}

// DefaultNaming is the snake_case, pluralizing NamingStrategy.
type DefaultNaming struct{}

// TableName implements NamingStrategy.
func (DefaultNaming) TableName(entity string) string {
	return inflect.Pluralize(inflect.Underscore(foldInitialisms(entity)))
}

// ColumnName implements NamingStrategy.
func (DefaultNaming) ColumnName(field string) string {
	return inflect.Underscore(foldInitialisms(field))
}

// ForeignKeyName implements NamingStrategy.
func (DefaultNaming) ForeignKeyName(ownerTable string) string {
	return inflect.Singularize(ownerTable) + "_id"
}

// foldInitialisms lowers runs of capitals so that inflect.Underscore sees
// "ID" as one word ("id") instead of two ("i_d"). The last capital of a run
// starts the next word when a lowercase letter follows, so "HTTPStatus"
// becomes "HttpStatus".
func foldInitialisms(s string) string {
	r := []rune(s)
	out := make([]rune, 0, len(r))
	for i := 0; i < len(r); i++ {
		if !unicode.IsUpper(r[i]) {
			out = append(out, r[i])
			continue
		}
		j := i + 1
		for j < len(r) && unicode.IsUpper(r[j]) {
			j++
		}
		end := j
		if j < len(r) && unicode.IsLower(r[j]) && j-i > 1 {
			end = j - 1
		}
		out = append(out, r[i])
		for k := i + 1; k < end; k++ {
			out = append(out, unicode.ToLower(r[k]))
		}
		if end < j {
			out = append(out, r[end])
		}
		i = j - 1
	}
	return string(out)
}

// CachingNaming wraps a NamingStrategy and memoizes its results. Naming
// is consulted for every property of every entity; strategies doing
// non-trivial string work only pay once per name.
type CachingNaming struct {
	NamingStrategy

	mu      sync.Mutex
	tables  map[string]string
	columns map[string]string
	fks     map[string]string
}

// NewCachingNaming returns a caching wrapper around the given strategy.
func NewCachingNaming(s NamingStrategy) *CachingNaming {
	return &CachingNaming{
		NamingStrategy: s,
		tables:         make(map[string]string),
		columns:        make(map[string]string),
		fks:            make(map[string]string),
	}
}

// TableName implements NamingStrategy.
func (c *CachingNaming) TableName(entity string) string {
	return c.memo(c.tables, entity, c.NamingStrategy.TableName)
}

// ColumnName implements NamingStrategy.
func (c *CachingNaming) ColumnName(field string) string {
	return c.memo(c.columns, field, c.NamingStrategy.ColumnName)
}

// ForeignKeyName implements NamingStrategy.
func (c *CachingNaming) ForeignKeyName(ownerTable string) string {
	return c.memo(c.fks, ownerTable, c.NamingStrategy.ForeignKeyName)
}

func (c *CachingNaming) memo(m map[string]string, key string, f func(string) string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := m[key]; ok {
		return v
	}
	v := f(key)
	m[key] = v
	return v
}
