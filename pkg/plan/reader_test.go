package plan

import (
	"context"
	"testing"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

func TestShuffleReaderWaitsForAllSenders(t *testing.T) {
	registry := shuffle.NewRegistry()
	desc := shuffle.ShuffleDescriptor{ShuffleID: "r1", NumPartitions: 1}
	reader := NewShuffleReader(desc, 0, 2, registry)

	registry.RegisterShuffle("r1", 1, 2)
	registry.SubmitPartition("r1", 0, []*batch.Batch{batch.WithRowCount(4)})
	registry.SubmitPartition("r1", 0, []*batch.Batch{batch.WithRowCount(6)})

	total := 0
	for {
		b, ok, err := reader.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		total += b.Rows()
	}
	if total != 10 {
		t.Fatalf("expected 10 total rows, got %d", total)
	}
}
