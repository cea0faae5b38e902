package gen

import (
	"fmt"
	"go/types"
	"reflect"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/relorm/relorm/schema"
)

// Entity is the loaded shape of one entity struct, resolved to its
// relational names.
type Entity struct {
	// Name is the Go type name.
	Name string
	// Table is the mapped table name.
	Table string
	// ID is the identifier column.
	ID Column
	// Columns are the scalar columns excluding the id, in field order.
	Columns []Column
	// Children are the owned collections, in field order.
	Children []ChildRef
	// Dir is the directory the entity's package lives in.
	Dir string
	// PkgName is the entity's package name.
	PkgName string
}

// Column pairs a Go field with its column name.
type Column struct {
	Field string
	Name  string
}

// ChildRef records an owned collection and its linkage column.
type ChildRef struct {
	Field      string
	ForeignKey string
}

// Load loads cfg.Package and resolves every configured entity. The
// package must typecheck; naming follows the same strategy the
// mapping context applies at runtime.
func Load(cfg *Config) ([]Entity, error) {
	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedFiles,
	}, cfg.Package)
	if err != nil {
		return nil, fmt.Errorf("gen: load %s: %w", cfg.Package, err)
	}
	if len(pkgs) != 1 {
		return nil, fmt.Errorf("gen: expected one package for %s, got %d", cfg.Package, len(pkgs))
	}
	pkg := pkgs[0]
	if len(pkg.Errors) > 0 {
		return nil, fmt.Errorf("gen: load %s: %v", cfg.Package, pkg.Errors[0])
	}
	dir := ""
	if len(pkg.GoFiles) > 0 {
		dir = pkg.GoFiles[0][:strings.LastIndexByte(pkg.GoFiles[0], '/')]
	}

	naming := schema.DefaultNaming{}
	entities := make([]Entity, 0, len(cfg.Entities))
	for _, name := range cfg.Entities {
		obj := pkg.Types.Scope().Lookup(name)
		if obj == nil {
			return nil, fmt.Errorf("gen: type %s not found in %s", name, cfg.Package)
		}
		st, ok := obj.Type().Underlying().(*types.Struct)
		if !ok {
			return nil, fmt.Errorf("gen: type %s is not a struct", name)
		}
		e, err := inspect(name, st, naming)
		if err != nil {
			return nil, err
		}
		e.Dir = dir
		e.PkgName = pkg.Name
		entities = append(entities, e)
	}
	return entities, nil
}

// inspect resolves one struct type the way the runtime mapping does:
// db tags override derived column names, the relorm tag marks ids,
// skips and foreign keys, and slices of structs are owned collections.
func inspect(name string, st *types.Struct, naming schema.NamingStrategy) (Entity, error) {
	e := Entity{Name: name, Table: naming.TableName(name)}
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if !f.Exported() {
			continue
		}
		tag := reflect.StructTag(st.Tag(i))
		column := tag.Get("db")
		opts := strings.Split(tag.Get("relorm"), ",")
		if column == "-" || contains(opts, "-") {
			continue
		}
		if isChildType(f.Type()) {
			fk := naming.ForeignKeyName(e.Table)
			for _, o := range opts {
				if rest, found := strings.CutPrefix(o, "fk="); found {
					fk = rest
				}
			}
			e.Children = append(e.Children, ChildRef{Field: f.Name(), ForeignKey: fk})
			continue
		}
		if column == "" {
			column = naming.ColumnName(f.Name())
		}
		c := Column{Field: f.Name(), Name: column}
		if contains(opts, "id") || (e.ID.Name == "" && tag.Get("relorm") == "" && f.Name() == "ID") {
			e.ID = c
		} else {
			e.Columns = append(e.Columns, c)
		}
	}
	if e.ID.Name == "" {
		return Entity{}, fmt.Errorf("gen: entity %s has no id field", name)
	}
	return e, nil
}

// isChildType reports whether t is a slice of structs (or pointers to
// structs), i.e. an owned collection rather than a scalar column.
// []byte and time.Time values map to columns.
func isChildType(t types.Type) bool {
	s, ok := t.Underlying().(*types.Slice)
	if !ok {
		return false
	}
	elem := s.Elem()
	if p, ok := elem.(*types.Pointer); ok {
		elem = p.Elem()
	}
	named, ok := elem.(*types.Named)
	if !ok {
		return false
	}
	if named.Obj().Pkg() != nil && named.Obj().Pkg().Path() == "time" {
		return false
	}
	_, isStruct := named.Underlying().(*types.Struct)
	return isStruct
}

func contains(opts []string, opt string) bool {
	for _, o := range opts {
		if o == opt {
			return true
		}
	}
	return false
}
