package gen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relormgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"package: github.com/relorm/relorm/gen/internal/fixture\n"+
				"output: ./model\n"+
				"entities:\n  - Order\n  - LineItem\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "github.com/relorm/relorm/gen/internal/fixture", cfg.Package)
		assert.Equal(t, "./model", cfg.Output)
		assert.Equal(t, []string{"Order", "LineItem"}, cfg.Entities)
	})

	t.Run("missing_package", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relormgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte("entities: [Order]\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "package")
	})

	t.Run("missing_entities", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relormgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte("package: example.com/x\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "entities")
	})

	t.Run("absent_file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	cfg := &Config{
		Package:  "github.com/relorm/relorm/gen/internal/fixture",
		Entities: []string{"Order", "LineItem"},
	}
	entities, err := Load(cfg)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	order := entities[0]
	assert.Equal(t, "Order", order.Name)
	assert.Equal(t, "orders", order.Table)
	assert.Equal(t, Column{Field: "ID", Name: "id"}, order.ID)
	assert.Equal(t, []Column{
		{Field: "Name", Name: "name"},
		{Field: "CreatedAt", Name: "created_at"},
	}, order.Columns, "skipped fields and collections are excluded")
	require.Len(t, order.Children, 1)
	assert.Equal(t, ChildRef{Field: "Items", ForeignKey: "order_id"}, order.Children[0])

	item := entities[1]
	assert.Equal(t, "line_items", item.Table)
	assert.Equal(t, Column{Field: "Key", Name: "id"}, item.ID, "relorm:\"id\" marks a custom id field")
}

func TestLoadUnknownEntity(t *testing.T) {
	cfg := &Config{
		Package:  "github.com/relorm/relorm/gen/internal/fixture",
		Entities: []string{"Missing"},
	}
	_, err := Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing")
}

func TestRender(t *testing.T) {
	e := Entity{
		Name:    "Order",
		Table:   "orders",
		ID:      Column{Field: "ID", Name: "id"},
		Columns: []Column{{Field: "Name", Name: "name"}, {Field: "CreatedAt", Name: "created_at"}},
		Children: []ChildRef{
			{Field: "Items", ForeignKey: "order_id"},
		},
		PkgName: "model",
	}
	buf, err := render(e)
	require.NoError(t, err)
	// Const blocks come out gofmt-aligned; collapse runs of whitespace so
	// the assertions do not depend on alignment.
	src := strings.Join(strings.Fields(string(buf)), " ")
	assert.Contains(t, src, "Code generated by relormgen. DO NOT EDIT.")
	assert.Contains(t, src, "package model")
	assert.Contains(t, src, `OrderTable = "orders"`)
	assert.Contains(t, src, `OrderColumnID = "id"`)
	assert.Contains(t, src, `OrderColumnCreatedAt = "created_at"`)
	assert.Contains(t, src, `OrderItemsForeignKey = "order_id"`)
	assert.Contains(t, src, `OrderColumns = []string{"id", "name", "created_at"}`)
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "CreatedAt", exportName("created_at"))
	assert.Equal(t, "Name", exportName("name"))
	assert.Equal(t, "OrderId", exportName("order_id"))
}
