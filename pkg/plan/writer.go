// Package plan holds the physical plan nodes that move data across the
// fabric: the shuffle writer/reader pair (spec.md §4.5/§4.6, components C5
// and C6), the distributed table source (§4.7, C7), and the rule that
// decides when to insert a shuffle around a hash join (§4.9, C9).
//
// Grounded on the teacher's pkg/query/executor.go streaming-operator shape
// (an Execute(ctx) that yields results incrementally), generalised here to
// push partitions across the network instead of just evaluating locally.
package plan

import (
	"context"
	"fmt"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

// Source yields the child stream a ShuffleWriter consumes. Table sources
// (DistributedTableSource) and upstream plan nodes both implement it.
type Source interface {
	Next(ctx context.Context) (*batch.Batch, bool, error)
}

// ShuffleWriter is the C5 plan node: partitions each child batch by join
// key, accumulates the local partition, and ships every non-local partition
// to its target peer's shuffle registry over the RPC client. localPartitionID
// may be -1, meaning no partition is local to wherever this writer happens
// to run — every partition, including the one addressed to the writer's own
// logical node, is delivered over the wire. The scheduler uses -1 when it
// drives a contributing node's writer on that node's behalf (spec §4.9/§4.10:
// this module's single scheduler process has no way to run Go plan code on
// a peer, so it reads that node's local rows via RPC, partitions them here,
// and redelivers every bucket — including the sender's own — to its real
// owner).
type ShuffleWriter struct {
	child            Source
	descriptor       shuffle.ShuffleDescriptor
	keyIndices       []int
	localPartitionID int
	client           *rpc.Client
	registry         *shuffle.Registry
	localBuf         []*batch.Batch
}

func NewShuffleWriter(child Source, desc shuffle.ShuffleDescriptor, keyIndices []int, localPartitionID int, client *rpc.Client, registry *shuffle.Registry) *ShuffleWriter {
	registry.RegisterShuffle(desc.ShuffleID, desc.NumPartitions, len(desc.PartitionTargets))
	return &ShuffleWriter{
		child:            child,
		descriptor:       desc,
		keyIndices:       keyIndices,
		localPartitionID: localPartitionID,
		client:           client,
		registry:         registry,
	}
}

// Run drains the child to completion, partitioning and dispatching every
// batch, then submits the accumulated local buffer to the registry — step 4
// of spec §4.5. It must be called before Next is ever called for the local
// partition's own output, since the writer is also a reader of its own
// partition (spec §4.5 step 5).
func (w *ShuffleWriter) Run(ctx context.Context) error {
	for {
		b, ok, err := w.child.Next(ctx)
		if err != nil {
			return fmt.Errorf("shuffle writer %s: %w", w.descriptor.ShuffleID, err)
		}
		if !ok {
			break
		}

		parts, err := shuffle.PartitionBatch(b, w.keyIndices, w.descriptor.NumPartitions)
		if err != nil {
			return fmt.Errorf("shuffle writer %s: partitioning: %w", w.descriptor.ShuffleID, err)
		}

		for pid, sub := range parts {
			if sub.Rows() == 0 {
				continue
			}
			if pid == w.localPartitionID {
				w.localBuf = append(w.localBuf, sub)
				continue
			}
			if err := w.sendRemote(ctx, pid, sub); err != nil {
				target := "unknown"
				if pid < len(w.descriptor.PartitionTargets) {
					target = w.descriptor.PartitionTargets[pid].RPCEndpoint
				}
				return fmt.Errorf("shuffle writer %s: remote send to %s failed: %w", w.descriptor.ShuffleID, target, err)
			}
		}
	}

	if w.localPartitionID >= 0 {
		w.registry.SubmitPartition(w.descriptor.ShuffleID, w.localPartitionID, w.localBuf)
	}
	return nil
}

// sendRemote ships sub directly to the peer owning partitionID via the
// columnar RPC's DeliverShufflePartition method (spec §4.5 step 3): the
// batch itself is the RPC payload, handed straight to that peer's shuffle
// registry on arrival. Run issues these sends one at a time, in partition
// order, for each input batch.
func (w *ShuffleWriter) sendRemote(ctx context.Context, partitionID int, sub *batch.Batch) error {
	if partitionID >= len(w.descriptor.PartitionTargets) {
		return fmt.Errorf("invalid argument: no target registered for partition %d", partitionID)
	}
	target := w.descriptor.PartitionTargets[partitionID]
	return w.client.DeliverShufflePartition(ctx, target.RPCEndpoint, w.descriptor.ShuffleID, partitionID, sub)
}

// Next implements Source so a ShuffleWriter can itself feed a downstream
// join: it returns the writer's own local partition, already accumulated by
// Run, one batch at a time.
func (w *ShuffleWriter) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if len(w.localBuf) == 0 {
		return nil, false, nil
	}
	b := w.localBuf[0]
	w.localBuf = w.localBuf[1:]
	return b, true, nil
}
