package plan

import (
	"testing"

	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/shuffle"
)

func entry(node, endpoint string, rows uint64) catalog.CatalogEntry {
	return catalog.CatalogEntry{NodeID: node, RPCEndpoint: endpoint, ApproxRows: rows}
}

func TestDecideColocated(t *testing.T) {
	left := JoinSide{Entries: []catalog.CatalogEntry{entry("n1", "n1:9000", 10)}}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n1", "n1:9000", 5)}}
	d := Decide(left, right, DefaultBroadcastRowThreshold)
	if d.Strategy != Colocated {
		t.Fatalf("expected colocated, got %v", d.Strategy)
	}
}

func TestDecideBroadcastSmallerSide(t *testing.T) {
	left := JoinSide{Entries: []catalog.CatalogEntry{entry("n1", "n1:9000", 500_000)}}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n2", "n2:9000", 10)}}
	d := Decide(left, right, DefaultBroadcastRowThreshold)
	if d.Strategy != Broadcast || d.BroadcastSide != "right" {
		t.Fatalf("expected broadcast(right), got %v/%s", d.Strategy, d.BroadcastSide)
	}
}

func TestDecidePullToCoordinatorWhenRowsUnknown(t *testing.T) {
	left := JoinSide{}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n2", "n2:9000", 10)}}
	d := Decide(left, right, DefaultBroadcastRowThreshold)
	if d.Strategy != PullToCoordinator {
		t.Fatalf("expected pull-to-coordinator, got %v", d.Strategy)
	}
}

func TestDecideHashShuffleWhenBothLargeAndDisjoint(t *testing.T) {
	left := JoinSide{Entries: []catalog.CatalogEntry{entry("n1", "n1:9000", 500_000)}}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n2", "n2:9000", 500_000)}}
	d := Decide(left, right, DefaultBroadcastRowThreshold)
	if d.Strategy != HashShuffle {
		t.Fatalf("expected hash shuffle, got %v", d.Strategy)
	}
}

func TestPlanHashShuffleRegistersBothSides(t *testing.T) {
	left := JoinSide{Entries: []catalog.CatalogEntry{entry("n1", "n1:9000", 500_000)}}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n2", "n2:9000", 500_000)}}
	reg := shuffle.NewRegistry()

	calls := 0
	idFn := func() string { calls++; return "fixed-id" }

	d := PlanHashShuffle(idFn, left, right, []string{"id"}, []string{"id"}, reg)
	if d.Left.ShuffleID != "fixed-id-left" || d.Right.ShuffleID != "fixed-id-right" {
		t.Fatalf("unexpected shuffle ids: %+v", d)
	}
	if d.Left.NumPartitions != 2 || d.Right.NumPartitions != 2 {
		t.Fatalf("expected 2 participating endpoints, got left=%d right=%d", d.Left.NumPartitions, d.Right.NumPartitions)
	}
	if calls != 1 {
		t.Fatalf("expected idFn called exactly once, got %d", calls)
	}
	if got := reg.ExpectedSenders(d.Left.ShuffleID); got != 2 {
		t.Fatalf("expected left side to register 2 expected senders, got %d", got)
	}
	if got := reg.ExpectedSenders(d.Right.ShuffleID); got != 2 {
		t.Fatalf("expected right side to register 2 expected senders, got %d", got)
	}
}

func TestPlanHashShuffleExpectedSendersScalesWithParticipants(t *testing.T) {
	left := JoinSide{Entries: []catalog.CatalogEntry{
		entry("n1", "n1:9000", 500_000),
		entry("n2", "n2:9000", 500_000),
	}}
	right := JoinSide{Entries: []catalog.CatalogEntry{entry("n3", "n3:9000", 500_000)}}
	reg := shuffle.NewRegistry()
	idFn := func() string { return "fixed-id" }

	d := PlanHashShuffle(idFn, left, right, []string{"id"}, []string{"id"}, reg)
	if got := reg.ExpectedSenders(d.Left.ShuffleID); got != 3 {
		t.Fatalf("expected 3 participating nodes as the barrier, got %d", got)
	}
	if got := reg.ExpectedSenders(d.Right.ShuffleID); got != 3 {
		t.Fatalf("expected 3 participating nodes as the barrier, got %d", got)
	}
}
