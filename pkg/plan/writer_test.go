package plan

import (
	"context"
	"testing"
	"time"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

type sliceSource struct {
	batches []*batch.Batch
	i       int
}

func (s *sliceSource) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if s.i >= len(s.batches) {
		return nil, false, nil
	}
	b := s.batches[s.i]
	s.i++
	return b, true, nil
}

func TestShuffleWriterSinglePartitionIsAllLocal(t *testing.T) {
	schema := batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}
	b, err := batch.NewBatch(schema, []batch.Column{{int64(1), int64(2), int64(3)}})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}

	child := &sliceSource{batches: []*batch.Batch{b}}
	desc := shuffle.ShuffleDescriptor{
		ShuffleID:        "w1",
		NumPartitions:    1,
		PartitionTargets: []shuffle.ShuffleTarget{{PartitionID: 0, RPCEndpoint: "self"}},
	}
	registry := shuffle.NewRegistry()
	writer := NewShuffleWriter(child, desc, []int{0}, 0, rpc.NewClient(), registry)

	if err := writer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	got, err := registry.WaitForPartition(ctx, "w1", 0, 1)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	total := 0
	for _, gb := range got {
		total += gb.Rows()
	}
	if total != 3 {
		t.Fatalf("expected 3 rows delivered to local partition, got %d", total)
	}
}
