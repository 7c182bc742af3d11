package plan

import (
	"context"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

// ShuffleReader is the C6 plan node: waits on the registry for its
// partition to be complete, then yields the accumulated batches in order
// and terminates (spec §4.6, "final" emission — no streaming to downstream
// until input is complete).
type ShuffleReader struct {
	descriptor      shuffle.ShuffleDescriptor
	partitionID     int
	expectedSources int
	registry        *shuffle.Registry

	awaited bool
	batches []*batch.Batch
}

func NewShuffleReader(desc shuffle.ShuffleDescriptor, partitionID, expectedSources int, registry *shuffle.Registry) *ShuffleReader {
	return &ShuffleReader{
		descriptor:      desc,
		partitionID:     partitionID,
		expectedSources: expectedSources,
		registry:        registry,
	}
}

// Next blocks on the first call until every expected sender has delivered
// its partition, then drains the buffered batches one at a time.
func (r *ShuffleReader) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if !r.awaited {
		batches, err := r.registry.WaitForPartition(ctx, r.descriptor.ShuffleID, r.partitionID, r.expectedSources)
		if err != nil {
			return nil, false, err
		}
		r.batches = batches
		r.awaited = true
	}
	if len(r.batches) == 0 {
		return nil, false, nil
	}
	b := r.batches[0]
	r.batches = r.batches[1:]
	return b, true, nil
}
