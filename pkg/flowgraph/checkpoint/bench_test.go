package checkpoint_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
)

// benchState approximates a workflow state with a few tables and a
// message history.
func benchState(b *testing.B) []byte {
	b.Helper()
	tables := map[string]any{}
	for i := range 20 {
		tables[fmt.Sprintf("table_%d", i)] = map[string]any{
			"columns": map[string]any{
				"id":         map[string]any{"type": "bigint", "notNull": true},
				"name":       map[string]any{"type": "text", "notNull": true},
				"created_at": map[string]any{"type": "timestamptz", "default": "now()"},
			},
		}
	}
	messages := make([]map[string]string, 30)
	for i := range messages {
		messages[i] = map[string]string{"kind": "ai", "content": "Added another table to the schema."}
	}
	data, err := json.Marshal(map[string]any{"schemaData": map[string]any{"tables": tables}, "messages": messages})
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func benchmarkSave(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	state := benchState(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save(ctx, checkpoint.New("run-1", "designSchema", i+1, state, "executeDDL")); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLatest(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	state := benchState(b)
	for i := range 10 {
		if err := store.Save(ctx, checkpoint.New("run-1", "designSchema", i+1, state, "executeDDL")); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Latest(ctx, "run-1"); err != nil {
			b.Fatal(err)
		}
	}
}

func sqliteBenchStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

func BenchmarkMemoryStore_Save(b *testing.B) {
	benchmarkSave(b, checkpoint.NewMemoryStore())
}

func BenchmarkMemoryStore_Latest(b *testing.B) {
	benchmarkLatest(b, checkpoint.NewMemoryStore())
}

func BenchmarkSQLiteStore_Save(b *testing.B) {
	benchmarkSave(b, sqliteBenchStore(b))
}

func BenchmarkSQLiteStore_Latest(b *testing.B) {
	benchmarkLatest(b, sqliteBenchStore(b))
}
