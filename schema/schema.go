package schema

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entity is the relational mapping of one aggregate entity type: its
// table, identifier, scalar columns and owned child collections.
type Entity struct {
	// Name is the Go type name.
	Name string
	// Type is the underlying struct type.
	Type reflect.Type
	// Table is the mapped table name.
	Table string
	// ID is the identifier property.
	ID *Property
	// Properties are the scalar columns excluding the id, in field order.
	Properties []*Property
	// Children are the owned collections, in field order.
	Children []*Child
}

// Columns returns the column names of the scalar properties, id excluded.
func (e *Entity) Columns() []string {
	cols := make([]string, len(e.Properties))
	for i, p := range e.Properties {
		cols[i] = p.Column
	}
	return cols
}

// Property maps one struct field onto one column.
type Property struct {
	// Name is the Go field name.
	Name string
	// Column is the mapped column name.
	Column string
	// Index is the reflect field index within the entity struct.
	Index []int
	// IsID marks the identifier property.
	IsID bool
}

// Get returns the field value from an entity struct value.
func (p *Property) Get(entity reflect.Value) any {
	return entity.FieldByIndex(p.Index).Interface()
}

// Set assigns the field on an addressable entity struct value, converting
// assignable kinds (e.g. int64 scan results into int fields).
func (p *Property) Set(entity reflect.Value, value any) error {
	field := entity.FieldByIndex(p.Index)
	if value == nil {
		field.SetZero()
		return nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(field.Type()):
		field.Set(v)
	case field.CanAddr() && reflect.PointerTo(field.Type()).Implements(scannerType):
		return field.Addr().Interface().(sql.Scanner).Scan(value)
	case v.Type().ConvertibleTo(field.Type()):
		field.Set(v.Convert(field.Type()))
	default:
		return fmt.Errorf("schema: cannot assign %T to field %s (%s)", value, p.Name, field.Type())
	}
	return nil
}

// Child maps one slice-of-struct field onto an owned collection.
type Child struct {
	// Name is the Go field name.
	Name string
	// Index is the reflect field index within the owner struct.
	Index []int
	// Entity is the mapping of the element type.
	Entity *Entity
	// ForeignKey is the column on the child table referencing the
	// owner's id.
	ForeignKey string
	// Ptr reports whether the slice element is a pointer to struct.
	Ptr bool
}

// MappingContext discovers and caches entity mappings by reflection. It
// is safe for concurrent use; concurrent discoveries of the same type are
// deduplicated.
type MappingContext struct {
	naming   NamingStrategy
	entities sync.Map // reflect.Type -> *Entity
	group    singleflight.Group
}

// ContextOption configures a MappingContext.
type ContextOption func(*MappingContext)

// WithNaming overrides the naming strategy.
func WithNaming(s NamingStrategy) ContextOption {
	return func(c *MappingContext) {
		c.naming = NewCachingNaming(s)
	}
}

// NewMappingContext returns a MappingContext with the default
// snake_case/pluralizing naming.
func NewMappingContext(opts ...ContextOption) *MappingContext {
	c := &MappingContext{naming: NewCachingNaming(DefaultNaming{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Naming returns the context's naming strategy.
func (c *MappingContext) Naming() NamingStrategy { return c.naming }

// Entity returns the mapping for the given value, pointer-to-struct,
// struct, or reflect.Type.
func (c *MappingContext) Entity(v any) (*Entity, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	if t == nil {
		return nil, fmt.Errorf("schema: nil entity")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: entity must be a struct, got %s", t)
	}
	return c.entityOf(t)
}

func (c *MappingContext) entityOf(t reflect.Type) (*Entity, error) {
	if e, ok := c.entities.Load(t); ok {
		return e.(*Entity), nil
	}
	v, err, _ := c.group.Do(t.PkgPath()+"."+t.Name(), func() (any, error) {
		if e, ok := c.entities.Load(t); ok {
			return e, nil
		}
		e, err := c.build(t, map[reflect.Type]bool{})
		if err != nil {
			return nil, err
		}
		c.entities.Store(t, e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

// build maps one struct type. building tracks the ownership path to
// reject cyclic aggregates.
func (c *MappingContext) build(t reflect.Type, building map[reflect.Type]bool) (*Entity, error) {
	if building[t] {
		return nil, fmt.Errorf("schema: cyclic ownership through %s; aggregates must be trees", t)
	}
	building[t] = true
	defer delete(building, t)

	e := &Entity{
		Name:  t.Name(),
		Type:  t,
		Table: c.naming.TableName(t.Name()),
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		opts := parseTag(f.Tag.Get("relorm"))
		column := f.Tag.Get("db")
		if column == "-" || opts.skip {
			continue
		}
		switch {
		case isChildField(f.Type):
			elem := f.Type.Elem()
			ptr := elem.Kind() == reflect.Pointer
			if ptr {
				elem = elem.Elem()
			}
			child, err := c.childOf(elem, building)
			if err != nil {
				return nil, err
			}
			fk := opts.foreignKey
			if fk == "" {
				fk = c.naming.ForeignKeyName(e.Table)
			}
			e.Children = append(e.Children, &Child{
				Name:       f.Name,
				Index:      f.Index,
				Entity:     child,
				ForeignKey: fk,
				Ptr:        ptr,
			})
		case isColumnType(f.Type):
			if column == "" {
				column = c.naming.ColumnName(f.Name)
			}
			p := &Property{Name: f.Name, Column: column, Index: f.Index}
			if opts.id || (e.ID == nil && !opts.tagged && f.Name == "ID") {
				p.IsID = true
				e.ID = p
			} else {
				e.Properties = append(e.Properties, p)
			}
		default:
			return nil, fmt.Errorf("schema: unsupported field %s.%s of type %s", t.Name(), f.Name, f.Type)
		}
	}
	if e.ID == nil {
		return nil, fmt.Errorf("schema: entity %s has no id property; name a field ID or tag one with relorm:\"id\"", t.Name())
	}
	// Store child mappings too so direct lookups hit the cache.
	c.entities.LoadOrStore(t, e)
	return e, nil
}

// childOf returns the cached mapping for a child type, building it when
// missing.
func (c *MappingContext) childOf(t reflect.Type, building map[reflect.Type]bool) (*Entity, error) {
	if e, ok := c.entities.Load(t); ok {
		return e.(*Entity), nil
	}
	return c.build(t, building)
}

type tagOptions struct {
	id         bool
	skip       bool
	tagged     bool
	foreignKey string
}

// parseTag parses the relorm struct tag: comma-separated options of the
// form "id", "-", or "fk=<column>".
func parseTag(tag string) tagOptions {
	var opts tagOptions
	if tag == "" {
		return opts
	}
	opts.tagged = true
	for _, part := range strings.Split(tag, ",") {
		switch {
		case part == "id":
			opts.id = true
		case part == "-":
			opts.skip = true
		case strings.HasPrefix(part, "fk="):
			opts.foreignKey = strings.TrimPrefix(part, "fk=")
		}
	}
	return opts
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// isColumnType reports whether the type maps to a single column.
func isColumnType(t reflect.Type) bool {
	switch {
	case t == timeType, t.Implements(valuerType), reflect.PointerTo(t).Implements(valuerType):
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8 // []byte
	case reflect.Pointer:
		return isColumnType(t.Elem())
	default:
		return false
	}
}

// isChildField reports whether the field holds an owned collection: a
// slice of structs (or pointers to structs) that do not map to a single
// column.
func isChildField(t reflect.Type) bool {
	if t.Kind() != reflect.Slice {
		return false
	}
	elem := t.Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	return elem.Kind() == reflect.Struct && !isColumnType(elem)
}
