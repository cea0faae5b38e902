package relorm

import (
	"fmt"
	"reflect"

	"github.com/relorm/relorm/dialect/sql"
	"github.com/relorm/relorm/schema"
	"github.com/relorm/relorm/sqlgen"
)

// readRows drains rows into alias-keyed maps, one per row.
func readRows(rows sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	aliases, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(aliases))
		ptrs := make([]any, len(aliases))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(aliases))
		for i, a := range aliases {
			row[a] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// assembleAggregate reconstructs one entity and its owned collections
// from the joined row set of a single analytic query. The left joins
// multiply rows across sibling collections, so child rows are grouped
// and deduplicated by their id column; rows where the id is NULL carry
// no child and are skipped.
func assembleAggregate(q *sqlgen.AnalyticQuery, e *schema.Entity, v reflect.Value, rows []map[string]any) error {
	if err := setFromRow(q, e, v, rows[0]); err != nil {
		return err
	}
	for _, child := range e.Children {
		ce := child.Entity
		idAlias := q.ColumnAlias(ce.Table, ce.ID.Column)
		if idAlias == "" {
			return fmt.Errorf("relorm: query projects no id for table %q", ce.Table)
		}
		var order []any
		groups := make(map[any][]map[string]any)
		for _, row := range rows {
			id := row[idAlias]
			if id == nil {
				continue
			}
			key := groupKey(id)
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], row)
		}
		field := v.FieldByIndex(child.Index)
		slice := reflect.MakeSlice(field.Type(), 0, len(order))
		for _, key := range order {
			elem := reflect.New(ce.Type).Elem()
			if err := assembleAggregate(q, ce, elem, groups[key]); err != nil {
				return err
			}
			if child.Ptr {
				slice = reflect.Append(slice, elem.Addr())
			} else {
				slice = reflect.Append(slice, elem)
			}
		}
		field.Set(slice)
	}
	return nil
}

// setFromRow fills the scalar properties of v from one aliased row.
func setFromRow(q *sqlgen.AnalyticQuery, e *schema.Entity, v reflect.Value, row map[string]any) error {
	alias := q.ColumnAlias(e.Table, e.ID.Column)
	if alias == "" {
		return fmt.Errorf("relorm: query projects no id for table %q", e.Table)
	}
	if err := e.ID.Set(v, row[alias]); err != nil {
		return err
	}
	for _, p := range e.Properties {
		alias := q.ColumnAlias(e.Table, p.Column)
		if alias == "" {
			// Linkage columns carry no property of their own.
			continue
		}
		if err := p.Set(v, row[alias]); err != nil {
			return err
		}
	}
	return nil
}

// groupKey normalizes a scanned id into a comparable map key.
func groupKey(id any) any {
	if b, ok := id.([]byte); ok {
		return string(b)
	}
	return id
}
