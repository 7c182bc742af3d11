package shuffle

import (
	"testing"

	"github.com/lumadb/swarmdb/pkg/batch"
)

func buildBatch(t *testing.T, ids []int64) *batch.Batch {
	t.Helper()
	schema := batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}
	col := make(batch.Column, len(ids))
	for i, v := range ids {
		col[i] = v
	}
	b, err := batch.NewBatch(schema, []batch.Column{col})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	return b
}

func TestPartitionBatchSoundness(t *testing.T) {
	b := buildBatch(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	parts, err := PartitionBatch(b, []int{0}, 3)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}

	seen := map[int64]bool{}
	total := 0
	for _, p := range parts {
		total += p.Rows()
		for _, v := range p.Columns[0] {
			seen[v.(int64)] = true
		}
	}
	if total != 10 {
		t.Fatalf("expected 10 rows total, got %d", total)
	}
	for i := int64(1); i <= 10; i++ {
		if !seen[i] {
			t.Fatalf("row %d missing from output", i)
		}
	}
}

func TestPartitionBatchDeterministic(t *testing.T) {
	b := buildBatch(t, []int64{42, 42, 42})
	parts, err := PartitionBatch(b, []int{0}, 4)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	count := 0
	for _, p := range parts {
		if p.Rows() > 0 {
			count++
			if p.Rows() != 3 {
				t.Fatalf("identical keys split across partitions")
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one non-empty partition, got %d", count)
	}
}

func TestPartitionBatchSinglePartition(t *testing.T) {
	b := buildBatch(t, []int64{1, 2, 3})
	parts, err := PartitionBatch(b, []int{0}, 1)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(parts) != 1 || parts[0].Rows() != 3 {
		t.Fatalf("expected single partition with all rows")
	}
}

func TestPartitionBatchInvalidKey(t *testing.T) {
	b := buildBatch(t, []int64{1})
	if _, err := PartitionBatch(b, []int{5}, 2); err == nil {
		t.Fatalf("expected error for out-of-range key index")
	}
}

func TestResolveKeyIndicesUnknown(t *testing.T) {
	schema := batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.Int64}}}
	if _, err := ResolveKeyIndices(schema, []string{"missing"}); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
