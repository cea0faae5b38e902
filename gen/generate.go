package gen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dave/jennifer/jen"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Generate loads the configured package and writes one
// <entity>_columns.go per entity into the output directory.
func Generate(cfg *Config) error {
	entities, err := Load(cfg)
	if err != nil {
		return err
	}
	for _, e := range entities {
		out := cfg.Output
		if out == "" {
			out = e.Dir
		}
		buf, err := render(e)
		if err != nil {
			return err
		}
		path := filepath.Join(out, strings.ToLower(e.Name)+"_columns.go")
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return fmt.Errorf("gen: write %s: %w", path, err)
		}
	}
	return nil
}

var titleCaser = cases.Title(language.English)

// render emits the constants file for one entity.
func render(e Entity) ([]byte, error) {
	f := jen.NewFile(e.PkgName)
	f.HeaderComment("Code generated by relormgen. DO NOT EDIT.")

	defs := []jen.Code{
		jen.Comment(fmt.Sprintf("%sTable is the table %s rows are stored in.", e.Name, e.Name)),
		jen.Id(e.Name + "Table").Op("=").Lit(e.Table),
		jen.Id(e.Name + "ColumnID").Op("=").Lit(e.ID.Name),
	}
	for _, c := range e.Columns {
		defs = append(defs, jen.Id(e.Name+"Column"+exportName(c.Name)).Op("=").Lit(c.Name))
	}
	for _, child := range e.Children {
		defs = append(defs, jen.Id(e.Name+child.Field+"ForeignKey").Op("=").Lit(child.ForeignKey))
	}
	f.Const().Defs(defs...)

	cols := []jen.Code{jen.Lit(e.ID.Name)}
	for _, c := range e.Columns {
		cols = append(cols, jen.Lit(c.Name))
	}
	f.Comment(fmt.Sprintf("%sColumns lists all columns of the %s table, id first.", e.Name, e.Table))
	f.Var().Id(e.Name + "Columns").Op("=").Index().String().Values(cols...)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("gen: render %s: %w", e.Name, err)
	}
	return buf.Bytes(), nil
}

// exportName turns a column name into an exported identifier segment,
// e.g. "order_id" -> "OrderId".
func exportName(column string) string {
	parts := strings.Split(column, "_")
	for i, p := range parts {
		parts[i] = titleCaser.String(p)
	}
	return strings.Join(parts, "")
}
