package coordinator

import (
	"context"
	"testing"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/membership"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"go.uber.org/zap"
)

func TestExecuteLocalWhenNoFromClause(t *testing.T) {
	mem := engine.NewMem()
	mem.CreateTable("dual", batch.Schema{Fields: []batch.Field{{Name: "one", Type: batch.Int64}}}, [][]any{{int64(1)}})
	dir := membership.NewDirectory("n1", "node-1", "n1:9000")
	cat := catalog.New("n1", "node-1", "n1:9000", mem, dir, zap.NewNop())
	co := New(cat, rpc.NewClient(), mem, zap.NewNop(), false)

	schema, batches, err := co.Execute(context.Background(), "SELECT 1 AS one")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if schema.Empty() {
		t.Fatalf("expected non-empty schema from local execution")
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
}

func TestExecuteFailsWhenTableUnresolvable(t *testing.T) {
	mem := engine.NewMem()
	dir := membership.NewDirectory("n1", "node-1", "n1:9000")
	cat := catalog.New("n1", "node-1", "n1:9000", mem, dir, zap.NewNop())
	co := New(cat, rpc.NewClient(), mem, zap.NewNop(), false)

	_, _, err := co.Execute(context.Background(), "SELECT * FROM orders")
	if err == nil {
		t.Fatalf("expected error when no endpoint advertises the table")
	}
}
