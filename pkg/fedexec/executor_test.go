package fedexec

import (
	"context"
	"testing"

	"github.com/lumadb/swarmdb/pkg/batch"
)

type fakeExecutor struct {
	ctx string
}

func (f fakeExecutor) Name() string           { return f.ctx }
func (f fakeExecutor) Dialect() string        { return "swarmdb" }
func (f fakeExecutor) ComputeContext() string { return f.ctx }
func (f fakeExecutor) TableNames() []string   { return nil }
func (f fakeExecutor) Execute(ctx context.Context, sql string) (*batch.Batch, error) {
	return batch.WithRowCount(0), nil
}
func (f fakeExecutor) GetTableSchema(ctx context.Context, table string) (batch.Schema, error) {
	return batch.Schema{}, nil
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeExecutor{ctx: "local"})
	r.Register(fakeExecutor{ctx: "node2:9000"})

	got, err := r.Get("local")
	if err != nil {
		t.Fatalf("get local: %v", err)
	}
	if got.ComputeContext() != "local" {
		t.Fatalf("wrong executor returned")
	}

	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown compute context")
	}

	if len(r.All()) != 2 {
		t.Fatalf("expected 2 registered executors, got %d", len(r.All()))
	}
}
