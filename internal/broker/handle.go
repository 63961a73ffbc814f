package broker

import (
	"context"
	"database/sql"
	"fmt"
)

// Rows is the uniform row set returned by read-style queries against any
// engine.
type Rows struct {
	Columns []string                 `json:"columns"`
	Data    []map[string]interface{} `json:"data"`
}

// TableSchema describes one table (or collection) of a tenant database,
// used as context for natural-language query translation.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Handle is a live, pooled client bound to one registered tenant database.
// Implementations must be safe for concurrent use; Close must be safe to
// call more than once.
type Handle interface {
	// Ping performs a lightweight no-op round trip.
	Ping(ctx context.Context) error
	// Query executes a read-style statement with bound parameters and
	// returns the result rows.
	Query(ctx context.Context, query string, params []interface{}) (*Rows, error)
	// Exec executes a write-style statement with bound parameters and
	// returns the affected row count.
	Exec(ctx context.Context, query string, params []interface{}) (int64, error)
	// Schema returns a snapshot of the database's table/column layout.
	Schema(ctx context.Context) ([]TableSchema, error)
	// Close releases the underlying client.
	Close() error
}

// scanRows converts sql.Rows into the uniform Rows shape. Byte slices are
// stringified so JSON serialization stays readable.
func scanRows(rows *sql.Rows) (*Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Rows{Columns: columns, Data: []map[string]interface{}{}}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out.Data = append(out.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Rows) String() string {
	return fmt.Sprintf("Rows(%d cols, %d rows)", len(r.Columns), len(r.Data))
}
