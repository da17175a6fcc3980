package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_, err := conn.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload", []driver.NamedValue{
		{Value: "projects"},
		{Value: []byte("{}")},
	})
	if err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	_, err = conn.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload", []driver.NamedValue{
		{Value: "projects"},
		{Value: []byte(`{"p":{}}`)},
	})
	if err != nil {
		t.Fatalf("ExecContext upsert: %v", err)
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected upsert to replace the row, got %v", conn.Tables["state"])
	}

	rows, err := conn.QueryContext(ctx, "SELECT bucket, payload FROM state", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "projects" || string(dest[1].([]byte)) != `{"p":{}}` {
		t.Fatalf("unexpected row values: %v", dest)
	}
}

func TestStubDecrementClampsAtZero(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["inventory_items"] = []map[string]any{{"id": "i1", "current_quantity": 2.0, "min_quantity": 1.0, "last_shortfall": 0.0}}

	rows, err := conn.QueryContext(ctx, "UPDATE inventory_items SET ... RETURNING current_quantity, min_quantity, last_shortfall", []driver.NamedValue{{Value: 5.0}, {Value: "i1"}})
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	dest := make([]driver.Value, 3)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != 0.0 || dest[2] != 3.0 {
		t.Fatalf("unexpected decrement row %v", dest)
	}

	rows, _ = conn.QueryContext(ctx, "UPDATE inventory_items SET ...", []driver.NamedValue{{Value: 1.0}, {Value: "ghost"}})
	if err := rows.Next(dest); err != io.EOF {
		t.Fatalf("missing id should produce no rows, got %v", err)
	}
}
