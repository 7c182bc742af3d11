package shuffle

import (
	"context"
	"sync"

	"github.com/lumadb/swarmdb/pkg/batch"
)

// ShuffleTarget is a single destination of a shuffle (spec §3).
type ShuffleTarget struct {
	PartitionID int
	RPCEndpoint string
	NodeName    string
}

// ShuffleDescriptor is the compile-time description of one side of a
// shuffle (spec §3).
type ShuffleDescriptor struct {
	ShuffleID        string
	JoinKeys         []string
	NumPartitions    int
	PartitionTargets []ShuffleTarget
	TargetTable      string // optional
}

// slot is the runtime state of one partition (spec §3 ShuffleSlot).
type slot struct {
	mu               sync.Mutex
	cond             *sync.Cond
	batches          []*batch.Batch
	deliveredSenders int
	expectedSenders  int
	cancelled        bool
}

func newSlot(expected int) *slot {
	s := &slot{expectedSenders: expected}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Registry is the process-wide rendezvous mapping (shuffle_id,
// partition_id) to an awaitable list of batches with an expected-sender
// barrier (spec §4.4, component C4).
type Registry struct {
	mu     sync.Mutex
	shuffles map[string]*shuffleState
}

type shuffleState struct {
	expectedSenders int
	partitions      map[int]*slot
}

func NewRegistry() *Registry {
	return &Registry{shuffles: make(map[string]*shuffleState)}
}

// RegisterShuffle idempotently creates state for a shuffle; if already
// present, the existing state is kept (spec §4.4).
func (r *Registry) RegisterShuffle(shuffleID string, numPartitions, expectedSenders int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shuffles[shuffleID]; ok {
		return
	}
	st := &shuffleState{expectedSenders: expectedSenders, partitions: make(map[int]*slot)}
	for p := 0; p < numPartitions; p++ {
		st.partitions[p] = newSlot(expectedSenders)
	}
	r.shuffles[shuffleID] = st
}

func (r *Registry) getSlot(shuffleID string, partitionID int) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		st = &shuffleState{partitions: make(map[int]*slot)}
		r.shuffles[shuffleID] = st
	}
	sl, ok := st.partitions[partitionID]
	if !ok {
		sl = newSlot(st.expectedSenders)
		st.partitions[partitionID] = sl
	}
	return sl
}

// SubmitPartition appends batches to the slot, increments
// delivered_senders, and wakes any waiters (spec §4.4). Batch order across
// senders is not preserved; within one sender's submission, order is.
func (r *Registry) SubmitPartition(shuffleID string, partitionID int, batches []*batch.Batch) {
	sl := r.getSlot(shuffleID, partitionID)
	sl.mu.Lock()
	sl.batches = append(sl.batches, batches...)
	sl.deliveredSenders++
	sl.cond.Broadcast()
	sl.mu.Unlock()
}

// WaitForPartition suspends until delivered_senders >= expectedSenders,
// then drains and returns the accumulated batches (spec §4.4). A caller
// may pass an expectedSenders that differs from the registered value; the
// actual threshold used is the max of the two.
func (r *Registry) WaitForPartition(ctx context.Context, shuffleID string, partitionID, expectedSenders int) ([]*batch.Batch, error) {
	sl := r.getSlot(shuffleID, partitionID)

	sl.mu.Lock()
	if expectedSenders > sl.expectedSenders {
		sl.expectedSenders = expectedSenders
	}
	threshold := sl.expectedSenders
	sl.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		sl.mu.Lock()
		sl.cancelled = true
		sl.cond.Broadcast()
		sl.mu.Unlock()
		close(done)
	}()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for sl.deliveredSenders < threshold && !sl.cancelled {
		sl.cond.Wait()
	}
	if sl.cancelled && sl.deliveredSenders < threshold {
		return nil, ctx.Err()
	}
	out := sl.batches
	sl.batches = nil
	return out, nil
}

// ExpectedSenders returns the registered sender-count barrier for shuffleID,
// or 0 if it has never been registered. Exposed mainly so planning code can
// be tested against the barrier it actually installs, not just the
// descriptor shape.
func (r *Registry) ExpectedSenders(shuffleID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		return 0
	}
	return st.expectedSenders
}

// CleanupShuffle removes all state for a shuffle (spec §4.4).
func (r *Registry) CleanupShuffle(shuffleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shuffles, shuffleID)
}
