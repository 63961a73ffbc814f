package broker

import (
	"context"
	"testing"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
)

func openTestSQLiteHandle(t *testing.T) Handle {
	t.Helper()
	cfg := &config.BrokerConfig{MaxOpenConns: 2, MaxIdleConns: 1}
	record := &models.ProjectDatabase{Type: models.DBTypeSQLite, DatabaseName: ":memory:"}
	h, err := openSQLHandle(sqliteDialector(record), models.DBTypeSQLite, cfg)
	if err != nil {
		t.Fatalf("failed to open sqlite handle: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSQLHandle_QueryAndExec(t *testing.T) {
	h := openTestSQLiteHandle(t)
	ctx := context.Background()

	if err := h.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if _, err := h.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)", nil); err != nil {
		t.Fatalf("create table error = %v", err)
	}

	affected, err := h.Exec(ctx, "INSERT INTO widgets (name) VALUES (?), (?)", []interface{}{"a", "b"})
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, expected 2", affected)
	}

	rows, err := h.Query(ctx, "SELECT id, name FROM widgets WHERE name = ?", []interface{}{"a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows.Data) != 1 {
		t.Fatalf("row count = %d, expected 1", len(rows.Data))
	}
	if rows.Data[0]["name"] != "a" {
		t.Errorf("name = %v, expected a", rows.Data[0]["name"])
	}
	if len(rows.Columns) != 2 {
		t.Errorf("columns = %v, expected [id name]", rows.Columns)
	}
}

func TestSQLHandle_QueryEmptyResult(t *testing.T) {
	h := openTestSQLiteHandle(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE empty_t (id INTEGER)", nil); err != nil {
		t.Fatalf("create table error = %v", err)
	}

	rows, err := h.Query(ctx, "SELECT id FROM empty_t", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if rows.Data == nil {
		t.Error("Data should be an empty slice, not nil, for JSON serialization")
	}
	if len(rows.Data) != 0 {
		t.Errorf("row count = %d, expected 0", len(rows.Data))
	}
}

func TestSQLHandle_Schema(t *testing.T) {
	h := openTestSQLiteHandle(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL, placed_at TEXT)", nil); err != nil {
		t.Fatalf("create table error = %v", err)
	}

	tables, err := h.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("table count = %d, expected 1", len(tables))
	}
	if tables[0].Name != "orders" {
		t.Errorf("table name = %q, expected orders", tables[0].Name)
	}
	if len(tables[0].Columns) != 3 {
		t.Errorf("column count = %d, expected 3", len(tables[0].Columns))
	}
}

func TestSQLHandle_QueryError(t *testing.T) {
	h := openTestSQLiteHandle(t)

	if _, err := h.Query(context.Background(), "SELECT * FROM no_such_table", nil); err == nil {
		t.Error("querying a missing table should fail")
	}
}

func TestSchemaQueries_CoverSQLEngines(t *testing.T) {
	for _, dbType := range []models.DatabaseType{
		models.DBTypePostgreSQL, models.DBTypeMySQL, models.DBTypeMSSQL, models.DBTypeSQLite,
	} {
		if _, ok := schemaQueries[dbType]; !ok {
			t.Errorf("missing schema introspection query for %s", dbType)
		}
	}
}
