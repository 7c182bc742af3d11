package plan

import (
	"github.com/google/uuid"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

// JoinSide is one side of a hash join as seen by the insertion rule: the
// table names it scans and the catalog entries backing them.
type JoinSide struct {
	Tables  []string
	Entries []catalog.CatalogEntry
}

func (s JoinSide) approxRows() uint64 {
	var total uint64
	var any bool
	for _, e := range s.Entries {
		total += e.ApproxRows
		any = true
	}
	if !any {
		return 0
	}
	return total
}

func (s JoinSide) endpoints() map[string]bool {
	out := map[string]bool{}
	for _, e := range s.Entries {
		if e.HasEndpoint() {
			out[e.RPCEndpoint] = true
		}
	}
	return out
}

func (s JoinSide) rowsKnown() bool { return len(s.Entries) > 0 }

// StrategyKind enumerates the decisions spec §4.9 step 3 names.
type StrategyKind int

const (
	Colocated StrategyKind = iota
	Broadcast
	HashShuffle
	PullToCoordinator
)

func (k StrategyKind) String() string {
	switch k {
	case Colocated:
		return "colocated"
	case Broadcast:
		return "broadcast"
	case HashShuffle:
		return "hash_shuffle"
	default:
		return "pull_to_coordinator"
	}
}

// Decision is the outcome of evaluating one hash join node.
type Decision struct {
	Strategy      StrategyKind
	BroadcastSide string // "left" or "right", set only for Broadcast
	Left          *shuffle.ShuffleDescriptor
	Right         *shuffle.ShuffleDescriptor
}

// DefaultBroadcastRowThreshold is spec §4.9's default of 100,000 rows,
// overridable by the BROADCAST_ROW_THRESHOLD environment variable
// (wired in pkg/config).
const DefaultBroadcastRowThreshold = 100_000

// ShuffleIDFunc generates a fresh globally-unique shuffle id; production
// code supplies one backed by google/uuid, tests supply a deterministic
// stub.
type ShuffleIDFunc func() string

// DefaultShuffleID grounds id generation in google/uuid, matching the Rust
// original's Uuid::new_v4() in execute_distributed_query.
func DefaultShuffleID() string {
	return uuid.NewString()
}

// Decide applies spec §4.9 step 3 to one hash join node's two sides.
func Decide(left, right JoinSide, broadcastRowThreshold uint64) Decision {
	leftEP := left.endpoints()
	rightEP := right.endpoints()
	for ep := range leftEP {
		if rightEP[ep] {
			return Decision{Strategy: Colocated}
		}
	}

	if !left.rowsKnown() || !right.rowsKnown() {
		return Decision{Strategy: PullToCoordinator}
	}

	lr, rr := left.approxRows(), right.approxRows()
	if lr <= broadcastRowThreshold || rr <= broadcastRowThreshold {
		side := "left"
		if rr < lr {
			side = "right"
		}
		return Decision{Strategy: Broadcast, BroadcastSide: side}
	}

	return Decision{Strategy: HashShuffle}
}

// PlanHashShuffle builds the two ShuffleDescriptors spec §4.9 step 4
// describes and registers both in the shuffle registry, returning the
// populated Decision. Registration happens here (not left to the writer)
// since both sides of a join must agree on num_partitions before either
// writer starts partitioning.
func PlanHashShuffle(idFn ShuffleIDFunc, left, right JoinSide, joinKeysLeft, joinKeysRight []string, registry *shuffle.Registry) Decision {
	participants := unionEndpoints(left, right)
	shuffleID := idFn()

	leftDesc := shuffle.ShuffleDescriptor{
		ShuffleID:        shuffleID + "-left",
		JoinKeys:         joinKeysLeft,
		NumPartitions:    len(participants),
		PartitionTargets: targetsFor(participants),
	}
	rightDesc := shuffle.ShuffleDescriptor{
		ShuffleID:        shuffleID + "-right",
		JoinKeys:         joinKeysRight,
		NumPartitions:    len(participants),
		PartitionTargets: targetsFor(participants),
	}

	expectedSenders := len(participants)
	registry.RegisterShuffle(leftDesc.ShuffleID, leftDesc.NumPartitions, expectedSenders)
	registry.RegisterShuffle(rightDesc.ShuffleID, rightDesc.NumPartitions, expectedSenders)

	return Decision{Strategy: HashShuffle, Left: &leftDesc, Right: &rightDesc}
}

func unionEndpoints(left, right JoinSide) []string {
	set := left.endpoints()
	for ep := range right.endpoints() {
		set[ep] = true
	}
	out := make([]string, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	return out
}

func targetsFor(endpoints []string) []shuffle.ShuffleTarget {
	out := make([]shuffle.ShuffleTarget, len(endpoints))
	for i, ep := range endpoints {
		out[i] = shuffle.ShuffleTarget{PartitionID: i, RPCEndpoint: ep}
	}
	return out
}
