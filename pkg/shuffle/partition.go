// Package shuffle implements the hash partitioner (spec.md §4.3, C3) and
// the process-wide shuffle registry (spec §4.4, C4) that together move
// partitioned columnar batches between peers during join execution.
package shuffle

import (
	"fmt"
	"hash/fnv"

	"github.com/lumadb/swarmdb/pkg/batch"
)

// ErrUnknownKey is returned by ResolveKeyIndices for a name with no match.
var ErrUnknownKey = fmt.Errorf("invalid input: unknown key column")

// ErrInvalidKey is returned by PartitionBatch for an out-of-range index.
var ErrInvalidKey = fmt.Errorf("invalid input: key index out of range")

// ResolveKeyIndices looks up each key name in schema, in order, failing on
// the first name with no match (spec §4.3).
func ResolveKeyIndices(schema batch.Schema, keyNames []string) ([]int, error) {
	out := make([]int, len(keyNames))
	for i, name := range keyNames {
		idx := schema.IndexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, name)
		}
		out[i] = idx
	}
	return out, nil
}

// nullSentinel is the fixed hash contribution for a null key value (spec
// §4.3 step 2: "Null values hash to a fixed sentinel").
const nullSentinel uint64 = 0x9e3779b97f4a7c15

// hashValue produces a 64-bit fingerprint of one key value. Using
// hash/fnv mirrors the teacher's own hash-to-shard idiom in
// pkg/cluster/node.go's GetShardForKey, generalised from one key to a
// row's worth of key columns via the same fold used below.
func hashValue(v any) uint64 {
	if v == nil {
		return nullSentinel
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%v", v)
	return h.Sum64()
}

// mix combines a running fingerprint with the next column's hash using a
// non-commutative mixer so (a, b) and (b, a) land differently — required
// because key order matters for correctness of the cross-node invariant.
func mix(acc, next uint64) uint64 {
	acc ^= next + 0x9e3779b97f4a7c15 + (acc << 6) + (acc >> 2)
	return acc
}

// PartitionBatch splits b into n sub-batches by hashing keyIndices,
// preserving row order within each partition (spec §4.3, testable
// property 1: hash-partition soundness).
func PartitionBatch(b *batch.Batch, keyIndices []int, n int) ([]*batch.Batch, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: n must be >= 1", ErrInvalidKey)
	}
	for _, idx := range keyIndices {
		if idx < 0 || idx >= len(b.Schema.Fields) {
			return nil, ErrInvalidKey
		}
	}

	rows := b.Rows()
	buckets := make([][]int, n)

	for row := 0; row < rows; row++ {
		var acc uint64
		for _, idx := range keyIndices {
			var v any
			if idx < len(b.Columns) && row < len(b.Columns[idx]) {
				v = b.Columns[idx][row]
			}
			acc = mix(acc, hashValue(v))
		}
		p := int(acc % uint64(n))
		buckets[p] = append(buckets[p], row)
	}

	out := make([]*batch.Batch, n)
	for p := 0; p < n; p++ {
		out[p] = gather(b, buckets[p])
	}
	return out, nil
}

func gather(b *batch.Batch, rows []int) *batch.Batch {
	if b.Schema.Empty() {
		return batch.WithRowCount(len(rows))
	}
	cols := make([]batch.Column, len(b.Columns))
	for i, c := range b.Columns {
		col := make(batch.Column, len(rows))
		for j, r := range rows {
			col[j] = c[r]
		}
		cols[i] = col
	}
	out, _ := batch.NewBatch(b.Schema, cols)
	return out
}
