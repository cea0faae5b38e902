package relorm_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relorm/relorm"
	"github.com/relorm/relorm/dialect"
	esql "github.com/relorm/relorm/dialect/sql"
	"github.com/relorm/relorm/sqlgen"
)

type Order struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Items []LineItem
}

type LineItem struct {
	ID  int64 `db:"id"`
	Qty int   `db:"qty"`
}

type Tag struct {
	ID    string `db:"id"`
	Label string `db:"label"`
}

type Invoice struct {
	ID    int64  `db:"id"`
	Ref   string `db:"ref"`
	Lines []Line
}

type Line struct {
	ID      int64 `db:"id"`
	Qty     int   `db:"qty"`
	Remarks []Remark
}

type Remark struct {
	ID   int64  `db:"id"`
	Text string `db:"text"`
}

type Event struct {
	ID   time.Time `db:"id"`
	Name string    `db:"name"`
}

func newTemplate(t *testing.T, opts ...relorm.Option) (*relorm.AggregateTemplate, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return relorm.NewTemplate(esql.OpenDB(dialect.SQLite, db), opts...), mock
}

func TestTemplateSave(t *testing.T) {
	ctx := context.Background()

	t.Run("insert_new_aggregate", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectExec(`INSERT INTO "orders" ("name") VALUES (?)`).
			WithArgs("books").
			WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectExec(`DELETE FROM "line_items" WHERE "order_id" = ?`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO "line_items" ("qty", "order_id") VALUES (?, ?)`).
			WithArgs(2, int64(7)).
			WillReturnResult(sqlmock.NewResult(21, 1))
		mock.ExpectExec(`INSERT INTO "line_items" ("qty", "order_id") VALUES (?, ?)`).
			WithArgs(5, int64(7)).
			WillReturnResult(sqlmock.NewResult(22, 1))

		order := &Order{Name: "books", Items: []LineItem{{Qty: 2}, {Qty: 5}}}
		require.NoError(t, tpl.Save(ctx, order))
		assert.Equal(t, int64(7), order.ID, "generated id should be written back")
		assert.Equal(t, int64(21), order.Items[0].ID)
		assert.Equal(t, int64(22), order.Items[1].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update_existing_aggregate", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectExec(`UPDATE "orders" SET "name" = ? WHERE "id" = ?`).
			WithArgs("games", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM "line_items" WHERE "order_id" = ?`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`INSERT INTO "line_items" ("id", "qty", "order_id") VALUES (?, ?, ?)`).
			WithArgs(int64(21), 3, int64(7)).
			WillReturnResult(sqlmock.NewResult(21, 1))

		order := &Order{ID: 7, Name: "games", Items: []LineItem{{ID: 21, Qty: 3}}}
		require.NoError(t, tpl.Save(ctx, order))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert_with_known_id_on_missed_update", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectExec(`UPDATE "orders" SET "name" = ? WHERE "id" = ?`).
			WithArgs("books", int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO "orders" ("id", "name") VALUES (?, ?)`).
			WithArgs(int64(9), "books").
			WillReturnResult(sqlmock.NewResult(9, 1))
		mock.ExpectExec(`DELETE FROM "line_items" WHERE "order_id" = ?`).
			WithArgs(int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, tpl.Save(ctx, &Order{ID: 9, Name: "books"}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("generated_string_id", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectExec(`INSERT INTO "tags" ("id", "label") VALUES (?, ?)`).
			WithArgs(sqlmock.AnyArg(), "new").
			WillReturnResult(sqlmock.NewResult(0, 1))

		tag := &Tag{Label: "new"}
		require.NoError(t, tpl.Save(ctx, tag))
		_, err := uuid.Parse(tag.ID)
		assert.NoError(t, err, "string ids are filled with a uuid")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero_id_without_generator", func(t *testing.T) {
		tpl, mock := newTemplate(t)

		// A time.Time id can be neither generated nor assigned by the
		// database; Save must refuse before touching the driver.
		event := &Event{Name: "launch"}
		err := tpl.Save(ctx, event)
		require.Error(t, err)
		assert.ErrorIs(t, err, relorm.ErrMissingID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires_pointer", func(t *testing.T) {
		tpl, _ := newTemplate(t)
		err := tpl.Save(ctx, Order{Name: "books"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pointer to struct")
	})
}

func TestTemplateFindByID(t *testing.T) {
	ctx := context.Background()

	t.Run("loads_aggregate", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectQuery(`SELECT "id", "name" FROM "orders" WHERE "id" = ?`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "books"))
		mock.ExpectQuery(`SELECT "id", "qty" FROM "line_items" WHERE "order_id" = ? ORDER BY "id"`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "qty"}).
				AddRow(21, 2).
				AddRow(22, 5))

		var order Order
		require.NoError(t, tpl.FindByID(ctx, &order, int64(7)))
		assert.Equal(t, int64(7), order.ID)
		assert.Equal(t, "books", order.Name)
		require.Len(t, order.Items, 2)
		assert.Equal(t, LineItem{ID: 21, Qty: 2}, order.Items[0])
		assert.Equal(t, LineItem{ID: 22, Qty: 5}, order.Items[1])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectQuery(`SELECT "id", "name" FROM "orders" WHERE "id" = ?`).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

		var order Order
		err := tpl.FindByID(ctx, &order, int64(404))
		require.Error(t, err)
		assert.True(t, relorm.IsNotFound(err))
		assert.ErrorIs(t, err, relorm.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error_is_wrapped", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		boom := errors.New("boom")
		mock.ExpectQuery(`SELECT "id", "name" FROM "orders" WHERE "id" = ?`).
			WithArgs(int64(7)).
			WillReturnError(boom)

		var order Order
		err := tpl.FindByID(ctx, &order, int64(7))
		require.Error(t, err)
		assert.True(t, relorm.IsQueryError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTemplateFindAll(t *testing.T) {
	tpl, mock := newTemplate(t)
	mock.ExpectQuery(`SELECT "id", "name" FROM "orders" ORDER BY "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "books").
			AddRow(2, "games"))
	mock.ExpectQuery(`SELECT "id", "qty" FROM "line_items" WHERE "order_id" = ? ORDER BY "id"`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "qty"}).AddRow(21, 2))
	mock.ExpectQuery(`SELECT "id", "qty" FROM "line_items" WHERE "order_id" = ? ORDER BY "id"`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "qty"}))

	var orders []Order
	require.NoError(t, tpl.FindAll(context.Background(), &orders))
	require.Len(t, orders, 2)
	assert.Equal(t, "books", orders[0].Name)
	require.Len(t, orders[0].Items, 1)
	assert.Empty(t, orders[1].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateDeleteByID(t *testing.T) {
	tpl, mock := newTemplate(t)
	mock.ExpectQuery(`SELECT "id" FROM "lines" WHERE "invoice_id" = ?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21).AddRow(22))
	mock.ExpectExec(`DELETE FROM "remarks" WHERE "line_id" = ?`).
		WithArgs(int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM "remarks" WHERE "line_id" = ?`).
		WithArgs(int64(22)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "lines" WHERE "invoice_id" = ?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM "invoices" WHERE "id" = ?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tpl.DeleteByID(context.Background(), Invoice{}, int64(7)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateExistsAndCount(t *testing.T) {
	ctx := context.Background()

	t.Run("exists", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectQuery(`SELECT COUNT(1) FROM "orders" WHERE "id" = ?`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		ok, err := tpl.Exists(ctx, Order{}, int64(7))
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectQuery(`SELECT COUNT(1) FROM "orders" WHERE "id" = ?`).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		ok, err := tpl.Exists(ctx, Order{}, int64(404))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("count", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		mock.ExpectQuery(`SELECT COUNT(1) FROM "orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		n, err := tpl.Count(ctx, Order{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestTemplateCallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("save_order", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		var calls []string
		tpl.OnBeforeSave(func(_ context.Context, entity any) error {
			tag := entity.(*Tag)
			tag.Label = "normalized"
			calls = append(calls, "before")
			return nil
		})
		tpl.OnAfterSave(func(_ context.Context, _ any) error {
			calls = append(calls, "after")
			return nil
		})
		mock.ExpectExec(`INSERT INTO "tags" ("id", "label") VALUES (?, ?)`).
			WithArgs(sqlmock.AnyArg(), "normalized").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, tpl.Save(ctx, &Tag{Label: "RAW"}))
		assert.Equal(t, []string{"before", "after"}, calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("before_save_aborts", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		boom := errors.New("rejected")
		tpl.OnBeforeSave(func(_ context.Context, _ any) error { return boom })

		err := tpl.Save(ctx, &Tag{Label: "x"})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet(), "no statement runs when the callback aborts")
	})

	t.Run("after_load", func(t *testing.T) {
		tpl, mock := newTemplate(t)
		loaded := 0
		tpl.OnAfterLoad(func(_ context.Context, _ any) error {
			loaded++
			return nil
		})
		mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "id" = ?`).
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow("a", "x"))

		var tag Tag
		require.NoError(t, tpl.FindByID(ctx, &tag, "a"))
		assert.Equal(t, 1, loaded)
	})
}

func TestTemplateCache(t *testing.T) {
	ctx := context.Background()
	tpl, mock := newTemplate(t, relorm.WithCache(relorm.NewMemoryCache(), time.Minute))

	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "id" = ?`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow("a", "x"))

	var tag Tag
	require.NoError(t, tpl.FindByID(ctx, &tag, "a"))
	require.NoError(t, mock.ExpectationsWereMet())

	// Second load is served from the cache without touching the driver.
	var again Tag
	require.NoError(t, tpl.FindByID(ctx, &again, "a"))
	assert.Equal(t, tag, again)
	require.NoError(t, mock.ExpectationsWereMet())

	// Saving invalidates the entry; the next load queries again.
	mock.ExpectExec(`UPDATE "tags" SET "label" = ? WHERE "id" = ?`).
		WithArgs("y", "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, tpl.Save(ctx, &Tag{ID: "a", Label: "y"}))

	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "id" = ?`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow("a", "y"))
	var fresh Tag
	require.NoError(t, tpl.FindByID(ctx, &fresh, "a"))
	assert.Equal(t, "y", fresh.Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

// invoiceQuery builds the same analytic query the template renders for
// the Invoice aggregate, so the expected statement and its column
// aliases can be derived instead of hand written.
func invoiceQuery(t *testing.T) (*sqlgen.AnalyticQuery, string) {
	t.Helper()
	type def = sqlgen.TableDefinition[string, string]
	b := sqlgen.NewStructureBuilder[string, string]()
	b.AddTable("invoices", func(d def) def {
		return d.WithID("id").WithColumns("ref")
	})
	_, err := b.AddChildTo("invoices", "lines", func(d def) def {
		return d.WithID("id").WithColumns("qty").WithForeignKey(sqlgen.ForeignKeyTo("invoice_id"))
	})
	require.NoError(t, err)
	_, err = b.AddChildTo("lines", "remarks", func(d def) def {
		return d.WithID("id").WithColumns("text").WithForeignKey(sqlgen.ForeignKeyTo("line_id"))
	})
	require.NoError(t, err)
	q, err := sqlgen.RenderAnalytic(esql.NewQuoter(dialect.SQLite), b.Root())
	require.NoError(t, err)
	stmt := `SELECT * FROM (` + q.SQL + `) "agg" WHERE "` + q.RootIDAlias + `" = ?`
	return q, stmt
}

func TestTemplateSingleQueryLoading(t *testing.T) {
	ctx := context.Background()
	q, stmt := invoiceQuery(t)
	aliases := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		aliases[i] = c.Alias
	}
	rowOf := func(m map[string]any) []driver.Value {
		out := make([]driver.Value, len(aliases))
		for i, a := range aliases {
			out[i] = m[a]
		}
		return out
	}

	t.Run("reconstructs_nested_aggregate", func(t *testing.T) {
		tpl, mock := newTemplate(t, relorm.SingleQueryLoading(true))
		rows := sqlmock.NewRows(aliases).
			AddRow(rowOf(map[string]any{
				"invoices_ref": "INV-1", "invoices_id": 7,
				"lines_qty": 2, "lines_id": 21, "lines_invoice_id": 7,
				"remarks_text": "first", "remarks_id": 100, "remarks_line_id": 21, "remarks_rn": 1,
			})...).
			AddRow(rowOf(map[string]any{
				"invoices_ref": "INV-1", "invoices_id": 7,
				"lines_qty": 2, "lines_id": 21, "lines_invoice_id": 7,
				"remarks_text": "second", "remarks_id": 101, "remarks_line_id": 21, "remarks_rn": 2,
			})...).
			AddRow(rowOf(map[string]any{
				"invoices_ref": "INV-1", "invoices_id": 7,
				"lines_qty": 5, "lines_id": 22, "lines_invoice_id": 7,
				"remarks_text": "third", "remarks_id": 102, "remarks_line_id": 22, "remarks_rn": 1,
			})...)
		mock.ExpectQuery(stmt).WithArgs(int64(7)).WillReturnRows(rows)

		var inv Invoice
		require.NoError(t, tpl.FindByID(ctx, &inv, int64(7)))
		assert.Equal(t, "INV-1", inv.Ref)
		require.Len(t, inv.Lines, 2, "line rows are deduplicated by id")
		assert.Equal(t, int64(21), inv.Lines[0].ID)
		require.Len(t, inv.Lines[0].Remarks, 2)
		assert.Equal(t, "first", inv.Lines[0].Remarks[0].Text)
		assert.Equal(t, "second", inv.Lines[0].Remarks[1].Text)
		require.Len(t, inv.Lines[1].Remarks, 1)
		assert.Equal(t, "third", inv.Lines[1].Remarks[0].Text)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty_collections", func(t *testing.T) {
		tpl, mock := newTemplate(t, relorm.SingleQueryLoading(true))
		rows := sqlmock.NewRows(aliases).
			AddRow(rowOf(map[string]any{"invoices_ref": "INV-2", "invoices_id": 8})...)
		mock.ExpectQuery(stmt).WithArgs(int64(8)).WillReturnRows(rows)

		var inv Invoice
		require.NoError(t, tpl.FindByID(ctx, &inv, int64(8)))
		assert.Equal(t, "INV-2", inv.Ref)
		assert.Empty(t, inv.Lines, "null child ids carry no rows")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		tpl, mock := newTemplate(t, relorm.SingleQueryLoading(true))
		mock.ExpectQuery(stmt).WithArgs(int64(404)).WillReturnRows(sqlmock.NewRows(aliases))

		var inv Invoice
		err := tpl.FindByID(ctx, &inv, int64(404))
		assert.True(t, relorm.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
