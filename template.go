package relorm

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/relorm/relorm/dialect"
	"github.com/relorm/relorm/dialect/sql"
	"github.com/relorm/relorm/schema"
	"github.com/relorm/relorm/sqlgen"
)

// Callback runs user code around template operations. Save and load
// callbacks receive a pointer to the aggregate root; delete callbacks
// receive the prototype value the operation was keyed with.
type Callback func(ctx context.Context, entity any) error

// AggregateTemplate loads and persists whole aggregates: the root row
// plus all owned child rows, discovered by reflection over the root
// struct. It is safe for concurrent use.
type AggregateTemplate struct {
	drv         dialect.Driver
	quoter      sql.Quoter
	mapping     *schema.MappingContext
	singleQuery bool
	cache       Cache
	cacheTTL    time.Duration

	beforeSave   []Callback
	afterSave    []Callback
	beforeDelete []Callback
	afterDelete  []Callback
	afterLoad    []Callback
}

// Option configures an AggregateTemplate.
type Option func(*AggregateTemplate)

// WithMappingContext overrides the template's mapping context. Sharing
// one context across templates shares the discovered entity mappings.
func WithMappingContext(c *schema.MappingContext) Option {
	return func(t *AggregateTemplate) {
		t.mapping = c
	}
}

// SingleQueryLoading makes FindByID load the whole aggregate in a single
// round trip, joining all child tables into one analytic query, instead
// of issuing one query per collection.
func SingleQueryLoading(enabled bool) Option {
	return func(t *AggregateTemplate) {
		t.singleQuery = enabled
	}
}

// WithCache caches FindByID results in c for ttl. Entries are stored
// msgpack-encoded under "<table>:<id>" keys and invalidated on Save and
// DeleteByID. A ttl of 0 caches without expiry.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(t *AggregateTemplate) {
		t.cache = c
		t.cacheTTL = ttl
	}
}

// NewTemplate returns an AggregateTemplate executing on drv.
func NewTemplate(drv dialect.Driver, opts ...Option) *AggregateTemplate {
	t := &AggregateTemplate{
		drv:     drv,
		quoter:  sql.NewQuoter(drv.Dialect()),
		mapping: schema.NewMappingContext(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mapping returns the template's mapping context.
func (t *AggregateTemplate) Mapping() *schema.MappingContext { return t.mapping }

// OnBeforeSave registers callbacks running before each Save.
func (t *AggregateTemplate) OnBeforeSave(fns ...Callback) {
	t.beforeSave = append(t.beforeSave, fns...)
}

// OnAfterSave registers callbacks running after each successful Save.
func (t *AggregateTemplate) OnAfterSave(fns ...Callback) {
	t.afterSave = append(t.afterSave, fns...)
}

// OnBeforeDelete registers callbacks running before each DeleteByID.
func (t *AggregateTemplate) OnBeforeDelete(fns ...Callback) {
	t.beforeDelete = append(t.beforeDelete, fns...)
}

// OnAfterDelete registers callbacks running after each successful DeleteByID.
func (t *AggregateTemplate) OnAfterDelete(fns ...Callback) {
	t.afterDelete = append(t.afterDelete, fns...)
}

// OnAfterLoad registers callbacks running on each loaded aggregate.
func (t *AggregateTemplate) OnAfterLoad(fns ...Callback) {
	t.afterLoad = append(t.afterLoad, fns...)
}

// Save persists the whole aggregate: the root row is inserted or
// updated, and every owned collection is replaced with the collections
// held by entity. A zero identifier triggers id generation: uuids for
// string and uuid.UUID ids, the database's auto-increment otherwise.
// The generated id is written back into entity.
func (t *AggregateTemplate) Save(ctx context.Context, entity any) error {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("relorm: Save requires a pointer to struct, got %T", entity)
	}
	e, err := t.mapping.Entity(entity)
	if err != nil {
		return err
	}
	if err := t.runCallbacks(ctx, t.beforeSave, entity); err != nil {
		return err
	}
	if err := t.saveEntity(ctx, e, rv.Elem(), "", nil, false); err != nil {
		return err
	}
	if t.cache != nil {
		if err := t.cache.Delete(ctx, cacheKey(e.Table, e.ID.Get(rv.Elem()))); err != nil {
			return NewMutationError(e.Name, "invalidate", err)
		}
	}
	return t.runCallbacks(ctx, t.afterSave, entity)
}

// FindByID loads the aggregate identified by id into dest, a pointer to
// the root struct. Missing aggregates yield a *NotFoundError.
func (t *AggregateTemplate) FindByID(ctx context.Context, dest any, id any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("relorm: FindByID requires a pointer to struct, got %T", dest)
	}
	e, err := t.mapping.Entity(dest)
	if err != nil {
		return err
	}
	if t.cache != nil {
		data, err := t.cache.Get(ctx, cacheKey(e.Table, id))
		if err != nil {
			return NewQueryError(e.Name, "find", err)
		}
		if data != nil {
			if err := decodeCached(data, dest); err != nil {
				return NewQueryError(e.Name, "find", err)
			}
			return t.runCallbacks(ctx, t.afterLoad, dest)
		}
	}
	if t.singleQuery && len(e.Children) > 0 {
		err = t.findOneJoined(ctx, e, rv.Elem(), id)
	} else {
		err = t.findOne(ctx, e, rv.Elem(), id)
	}
	if err != nil {
		return err
	}
	if t.cache != nil {
		data, err := encodeCached(dest)
		if err != nil {
			return NewQueryError(e.Name, "find", err)
		}
		if err := t.cache.Set(ctx, cacheKey(e.Table, id), data, t.cacheTTL); err != nil {
			return NewQueryError(e.Name, "find", err)
		}
	}
	return t.runCallbacks(ctx, t.afterLoad, dest)
}

// FindAll loads every aggregate of the root type into dest, a pointer to
// a slice of root structs or pointers to them, ordered by id.
func (t *AggregateTemplate) FindAll(ctx context.Context, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("relorm: FindAll requires a pointer to slice, got %T", dest)
	}
	sliceVal := rv.Elem()
	elemType := sliceVal.Type().Elem()
	ptr := elemType.Kind() == reflect.Pointer
	if ptr {
		elemType = elemType.Elem()
	}
	e, err := t.mapping.Entity(elemType)
	if err != nil {
		return err
	}
	cols, props := tableColumns(e, "")
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column, Columns: cols})
	var rows sql.Rows
	if err := t.drv.Query(ctx, gen.SelectAll(), []any{}, &rows); err != nil {
		return NewQueryError(e.Name, "find-all", err)
	}
	out := reflect.MakeSlice(sliceVal.Type(), 0, 0)
	for rows.Next() {
		elem := reflect.New(e.Type).Elem()
		if err := scanInto(e, props, rows, elem); err != nil {
			rows.Close()
			return NewQueryError(e.Name, "find-all", err)
		}
		if ptr {
			out = reflect.Append(out, elem.Addr())
		} else {
			out = reflect.Append(out, elem)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return NewQueryError(e.Name, "find-all", err)
	}
	rows.Close()
	for i := 0; i < out.Len(); i++ {
		elem := out.Index(i)
		if ptr {
			elem = elem.Elem()
		}
		if err := t.loadChildren(ctx, e, elem); err != nil {
			return err
		}
		if err := t.runCallbacks(ctx, t.afterLoad, elem.Addr().Interface()); err != nil {
			return err
		}
	}
	sliceVal.Set(out)
	return nil
}

// DeleteByID deletes the aggregate identified by id: owned rows first,
// depth first, then the root row. prototype names the root type; its
// field values are ignored. Deleting a missing aggregate is a no-op.
func (t *AggregateTemplate) DeleteByID(ctx context.Context, prototype any, id any) error {
	e, err := t.mapping.Entity(prototype)
	if err != nil {
		return err
	}
	if err := t.runCallbacks(ctx, t.beforeDelete, prototype); err != nil {
		return err
	}
	for _, child := range e.Children {
		if err := t.deleteOwned(ctx, child, id); err != nil {
			return err
		}
	}
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column})
	if err := t.drv.Exec(ctx, gen.DeleteByID(), []any{id}, nil); err != nil {
		return t.mutationError(e.Name, "delete", err)
	}
	if t.cache != nil {
		if err := t.cache.Delete(ctx, cacheKey(e.Table, id)); err != nil {
			return NewMutationError(e.Name, "invalidate", err)
		}
	}
	return t.runCallbacks(ctx, t.afterDelete, prototype)
}

// Exists reports whether an aggregate with the given id exists.
func (t *AggregateTemplate) Exists(ctx context.Context, prototype any, id any) (bool, error) {
	e, err := t.mapping.Entity(prototype)
	if err != nil {
		return false, err
	}
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column})
	n, err := t.queryCount(ctx, gen.ExistsByID(), []any{id})
	if err != nil {
		return false, NewQueryError(e.Name, "exists", err)
	}
	return n > 0, nil
}

// Count returns the number of aggregates of the root type.
func (t *AggregateTemplate) Count(ctx context.Context, prototype any) (int64, error) {
	e, err := t.mapping.Entity(prototype)
	if err != nil {
		return 0, err
	}
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column})
	n, err := t.queryCount(ctx, gen.CountAll(), []any{})
	if err != nil {
		return 0, NewQueryError(e.Name, "count", err)
	}
	return n, nil
}

// saveEntity writes one entity row and replaces its owned collections.
// For child rows, fk names the linkage column, owner carries the owning
// id bound to it, and insertOnly skips the update attempt: the replace
// pass has already deleted the previous rows.
func (t *AggregateTemplate) saveEntity(ctx context.Context, e *schema.Entity, v reflect.Value, fk string, owner any, insertOnly bool) error {
	cols, props := tableColumns(e, fk)
	writeCols := cols
	if fk != "" {
		writeCols = append(append(make([]string, 0, len(cols)+1), cols...), fk)
	}
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column, Columns: writeCols, ForeignKey: fk})

	args := make([]any, 0, len(props)+2)
	for _, p := range props {
		args = append(args, p.Get(v))
	}
	if fk != "" {
		args = append(args, owner)
	}

	idField := v.FieldByIndex(e.ID.Index)
	switch {
	case idField.IsZero():
		if id, ok := generatedID(idField); ok {
			if err := t.drv.Exec(ctx, gen.Insert(true), append([]any{id}, args...), nil); err != nil {
				return t.mutationError(e.Name, "insert", err)
			}
		} else {
			if !autoIncrementKind(idField.Kind()) {
				// Not generatable and not an integer the database can
				// assign; refuse before issuing any statement.
				return NewMutationError(e.Name, "insert", ErrMissingID)
			}
			var res sql.Result
			if err := t.drv.Exec(ctx, gen.Insert(false), args, &res); err != nil {
				return t.mutationError(e.Name, "insert", err)
			}
			lastID, err := res.LastInsertId()
			if err != nil {
				return NewMutationError(e.Name, "insert", err)
			}
			if err := e.ID.Set(v, lastID); err != nil {
				return NewMutationError(e.Name, "insert", err)
			}
		}
	case insertOnly:
		if err := t.drv.Exec(ctx, gen.Insert(true), append([]any{idField.Interface()}, args...), nil); err != nil {
			return t.mutationError(e.Name, "insert", err)
		}
	case len(writeCols) == 0:
		// Nothing to update on an id-only row; insert it if missing.
		exists, err := t.queryCount(ctx, gen.ExistsByID(), []any{idField.Interface()})
		if err != nil {
			return NewMutationError(e.Name, "update", err)
		}
		if exists == 0 {
			if err := t.drv.Exec(ctx, gen.Insert(true), []any{idField.Interface()}, nil); err != nil {
				return t.mutationError(e.Name, "insert", err)
			}
		}
	default:
		var res sql.Result
		if err := t.drv.Exec(ctx, gen.UpdateByID(), append(args, idField.Interface()), &res); err != nil {
			return t.mutationError(e.Name, "update", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return NewMutationError(e.Name, "update", err)
		}
		if n == 0 {
			if err := t.drv.Exec(ctx, gen.Insert(true), append([]any{idField.Interface()}, args...), nil); err != nil {
				return t.mutationError(e.Name, "insert", err)
			}
		}
	}
	return t.saveChildren(ctx, e, v)
}

// saveChildren replaces every owned collection of v: existing owned rows
// are deleted depth first, then the held elements are inserted.
func (t *AggregateTemplate) saveChildren(ctx context.Context, e *schema.Entity, v reflect.Value) error {
	if len(e.Children) == 0 {
		return nil
	}
	ownerID := e.ID.Get(v)
	for _, child := range e.Children {
		if err := t.deleteOwned(ctx, child, ownerID); err != nil {
			return err
		}
		slice := v.FieldByIndex(child.Index)
		for i := 0; i < slice.Len(); i++ {
			elem := slice.Index(i)
			if child.Ptr {
				if elem.IsNil() {
					continue
				}
				elem = elem.Elem()
			}
			if err := t.saveEntity(ctx, child.Entity, elem, child.ForeignKey, ownerID, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteOwned deletes the rows of one owned collection, recursing into
// grandchildren first so no orphaned rows survive.
func (t *AggregateTemplate) deleteOwned(ctx context.Context, child *schema.Child, ownerID any) error {
	e := child.Entity
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column, ForeignKey: child.ForeignKey})
	if len(e.Children) > 0 {
		ids, err := t.ownedIDs(ctx, gen, []any{ownerID})
		if err != nil {
			return NewMutationError(e.Name, "delete", err)
		}
		for _, id := range ids {
			for _, gc := range e.Children {
				if err := t.deleteOwned(ctx, gc, id); err != nil {
					return err
				}
			}
		}
	}
	if err := t.drv.Exec(ctx, gen.DeleteByForeignKey(), []any{ownerID}, nil); err != nil {
		return t.mutationError(e.Name, "delete", err)
	}
	return nil
}

// ownedIDs lists the ids of the rows owned by one parent.
func (t *AggregateTemplate) ownedIDs(ctx context.Context, gen *sqlgen.Generator, args []any) ([]any, error) {
	var rows sql.Rows
	if err := t.drv.Query(ctx, gen.SelectIDByForeignKey(), args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []any
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// findOne loads the root row by id, then each owned collection with one
// query per collection.
func (t *AggregateTemplate) findOne(ctx context.Context, e *schema.Entity, v reflect.Value, id any) error {
	cols, props := tableColumns(e, "")
	gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: e.Table, ID: e.ID.Column, Columns: cols})
	var rows sql.Rows
	if err := t.drv.Query(ctx, gen.SelectByID(), []any{id}, &rows); err != nil {
		return NewQueryError(e.Name, "find", err)
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return NewQueryError(e.Name, "find", err)
		}
		return NewNotFoundErrorWithID(e.Table, id)
	}
	if err := scanInto(e, props, rows, v); err != nil {
		rows.Close()
		return NewQueryError(e.Name, "find", err)
	}
	rows.Close()
	return t.loadChildren(ctx, e, v)
}

// loadChildren fills every owned collection of v, recursing into
// grandchildren. Collections come back ordered by id.
func (t *AggregateTemplate) loadChildren(ctx context.Context, e *schema.Entity, v reflect.Value) error {
	ownerID := e.ID.Get(v)
	for _, child := range e.Children {
		ce := child.Entity
		cols, props := tableColumns(ce, child.ForeignKey)
		gen := sqlgen.NewGenerator(t.quoter, sqlgen.Table{Name: ce.Table, ID: ce.ID.Column, Columns: cols, ForeignKey: child.ForeignKey})
		var rows sql.Rows
		if err := t.drv.Query(ctx, gen.SelectByForeignKey(), []any{ownerID}, &rows); err != nil {
			return NewQueryError(ce.Name, "find", err)
		}
		field := v.FieldByIndex(child.Index)
		slice := reflect.MakeSlice(field.Type(), 0, 0)
		for rows.Next() {
			elem := reflect.New(ce.Type).Elem()
			if err := scanInto(ce, props, rows, elem); err != nil {
				rows.Close()
				return NewQueryError(ce.Name, "find", err)
			}
			if child.Ptr {
				slice = reflect.Append(slice, elem.Addr())
			} else {
				slice = reflect.Append(slice, elem)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return NewQueryError(ce.Name, "find", err)
		}
		rows.Close()
		field.Set(slice)
		for i := 0; i < field.Len(); i++ {
			elem := field.Index(i)
			if child.Ptr {
				elem = elem.Elem()
			}
			if err := t.loadChildren(ctx, ce, elem); err != nil {
				return err
			}
		}
	}
	return nil
}

// findOneJoined loads the whole aggregate in a single analytic query.
func (t *AggregateTemplate) findOneJoined(ctx context.Context, e *schema.Entity, v reflect.Value, id any) error {
	q, err := t.analyticQuery(e)
	if err != nil {
		return NewQueryError(e.Name, "find", err)
	}
	stmt := "SELECT * FROM (" + q.SQL + ") " + t.quoter.Ident("agg") +
		" WHERE " + t.quoter.Ident(q.RootIDAlias) + " = " + t.quoter.Placeholder(1)
	var rows sql.Rows
	if err := t.drv.Query(ctx, stmt, []any{id}, &rows); err != nil {
		return NewQueryError(e.Name, "find", err)
	}
	rowset, err := readRows(rows)
	if err != nil {
		return NewQueryError(e.Name, "find", err)
	}
	if len(rowset) == 0 {
		return NewNotFoundErrorWithID(e.Table, id)
	}
	if err := assembleAggregate(q, e, v, rowset); err != nil {
		return NewQueryError(e.Name, "find", err)
	}
	return nil
}

// analyticQuery builds and renders the single-query structure for one
// aggregate: the root table joined with every owned table, each
// collection wrapped in a row-numbered view.
func (t *AggregateTemplate) analyticQuery(e *schema.Entity) (*sqlgen.AnalyticQuery, error) {
	b := sqlgen.NewStructureBuilder[string, string]()
	cols, _ := tableColumns(e, "")
	b.AddTable(e.Table, func(td sqlgen.TableDefinition[string, string]) sqlgen.TableDefinition[string, string] {
		return td.WithID(e.ID.Column).WithColumns(cols...)
	})
	if err := t.addChildTables(b, e); err != nil {
		return nil, err
	}
	return sqlgen.RenderAnalytic(t.quoter, b.Root())
}

func (t *AggregateTemplate) addChildTables(b *sqlgen.StructureBuilder[string, string], e *schema.Entity) error {
	for _, child := range e.Children {
		ce := child.Entity
		cols, _ := tableColumns(ce, child.ForeignKey)
		fk := child.ForeignKey
		if _, err := b.AddChildTo(e.Table, ce.Table, func(td sqlgen.TableDefinition[string, string]) sqlgen.TableDefinition[string, string] {
			return td.WithID(ce.ID.Column).WithColumns(cols...).WithForeignKey(sqlgen.ForeignKeyTo(fk))
		}); err != nil {
			return err
		}
		if err := t.addChildTables(b, ce); err != nil {
			return err
		}
	}
	return nil
}

// queryCount runs a single-value COUNT statement.
func (t *AggregateTemplate) queryCount(ctx context.Context, stmt string, args []any) (int64, error) {
	var rows sql.Rows
	if err := t.drv.Query(ctx, stmt, args, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("relorm: count query returned no rows")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

func (t *AggregateTemplate) runCallbacks(ctx context.Context, fns []Callback, entity any) error {
	for _, fn := range fns {
		if err := fn(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (t *AggregateTemplate) mutationError(entity, op string, err error) error {
	return NewMutationError(entity, op, sql.WrapConstraintError(err))
}

// tableColumns returns the column names and properties of e's scalar
// fields in field order. A property mapped onto the linkage column fk is
// excluded; the template binds the owning id there itself.
func tableColumns(e *schema.Entity, fk string) ([]string, []*schema.Property) {
	cols := make([]string, 0, len(e.Properties))
	props := make([]*schema.Property, 0, len(e.Properties))
	for _, p := range e.Properties {
		if fk != "" && p.Column == fk {
			continue
		}
		cols = append(cols, p.Column)
		props = append(props, p)
	}
	return cols, props
}

// scanInto scans the current row into v. The row shape is the read
// order of the generator: id first, then props in order.
func scanInto(e *schema.Entity, props []*schema.Property, rows sql.Rows, v reflect.Value) error {
	values := make([]any, len(props)+1)
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return err
	}
	if err := e.ID.Set(v, values[0]); err != nil {
		return err
	}
	for i, p := range props {
		if err := p.Set(v, values[i+1]); err != nil {
			return err
		}
	}
	return nil
}

var uuidType = reflect.TypeOf(uuid.UUID{})

// generatedID assigns a fresh identifier for id kinds the database
// cannot generate and returns it for binding. Integer ids fall through
// to the database's auto-increment.
func generatedID(field reflect.Value) (any, bool) {
	switch {
	case field.Type() == uuidType:
		id := uuid.New()
		field.Set(reflect.ValueOf(id))
		return id, true
	case field.Kind() == reflect.String:
		id := uuid.NewString()
		field.SetString(id)
		return id, true
	default:
		return nil, false
	}
}

// autoIncrementKind reports whether a zero id of the given kind can be
// left to the database and read back through LastInsertId.
func autoIncrementKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
