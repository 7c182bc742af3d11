package scheduler

import (
	"context"
	"testing"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/membership"
	"github.com/lumadb/swarmdb/pkg/plan"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"github.com/lumadb/swarmdb/pkg/shuffle"
	"go.uber.org/zap"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	mem := engine.NewMem()
	mem.CreateTable("widgets", batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}, [][]any{{int64(1)}, {int64(2)}})
	dir := membership.NewDirectory("n1", "node-1", "n1:9000")
	cat := catalog.New("n1", "node-1", "n1:9000", mem, dir, zap.NewNop())
	if err := cat.AdvertiseLocalTables(context.Background()); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	return New(cat, rpc.NewClient(), mem, zap.NewNop(), plan.DefaultBroadcastRowThreshold, shuffle.NewRegistry())
}

func TestStartStopLifecycle(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	if err := h.StartScheduler(ctx, "127.0.0.1:9000"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.StartScheduler(ctx, "127.0.0.1:9000"); err == nil {
		t.Fatalf("expected error starting an already-running scheduler")
	}
	if err := h.StopScheduler(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.StopScheduler(); err == nil {
		t.Fatalf("expected error stopping an already-empty scheduler")
	}
}

func TestSubmitQueryFailsWhenEmpty(t *testing.T) {
	h := newTestHandle(t)
	_, _, err := h.SubmitQuery(context.Background(), "SELECT * FROM widgets")
	if err == nil {
		t.Fatalf("expected error submitting to an empty scheduler")
	}
}

func TestSubmitQueryAgainstLocalTable(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	if err := h.StartScheduler(ctx, "127.0.0.1:9000"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.StopScheduler()

	schema, batches, err := h.SubmitQuery(ctx, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if schema.Empty() {
		t.Fatalf("expected non-empty schema")
	}
	if len(batches) != 1 || batches[0].Rows() != 2 {
		t.Fatalf("expected 1 batch with 2 rows, got %+v", batches)
	}
}

func TestSubmitQueryJoinsLocalTables(t *testing.T) {
	mem := engine.NewMem()
	mem.CreateTable("widgets", batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}, [][]any{{int64(1)}, {int64(2)}})
	mem.CreateTable("labels", batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}, [][]any{{int64(1)}})
	dir := membership.NewDirectory("n1", "node-1", "n1:9000")
	cat := catalog.New("n1", "node-1", "n1:9000", mem, dir, zap.NewNop())
	if err := cat.AdvertiseLocalTables(context.Background()); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	h := New(cat, rpc.NewClient(), mem, zap.NewNop(), plan.DefaultBroadcastRowThreshold, shuffle.NewRegistry())
	ctx := context.Background()
	if err := h.StartScheduler(ctx, "127.0.0.1:9000"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.StopScheduler()

	// Both tables live on this single node, so this exercises executeJoin's
	// colocation branch rather than the distributed strategies.
	_, batches, err := h.SubmitQuery(ctx, "SELECT widgets.id FROM widgets JOIN labels ON widgets.id = labels.id")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(batches) != 1 || batches[0].Rows() != 1 {
		t.Fatalf("expected 1 batch with 1 row, got %+v", batches)
	}
}

func TestCheckColocationEmptyInput(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	if err := h.StartScheduler(ctx, "127.0.0.1:9000"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.StopScheduler()

	if _, ok := h.CheckColocation(nil); ok {
		t.Fatalf("expected no colocation result for empty input")
	}
	if _, ok := h.CheckColocation([]string{"unknown_table"}); ok {
		t.Fatalf("expected no colocation result for unknown table")
	}
}
