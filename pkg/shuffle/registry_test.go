package shuffle

import (
	"context"
	"testing"
	"time"

	"github.com/lumadb/swarmdb/pkg/batch"
)

func TestRegistryBarrier(t *testing.T) {
	r := NewRegistry()
	r.RegisterShuffle("s1", 1, 2)

	done := make(chan struct{})
	var got []*batch.Batch
	go func() {
		var err error
		got, err = r.WaitForPartition(context.Background(), "s1", 0, 2)
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("wait returned before both senders delivered")
	default:
	}

	r.SubmitPartition("s1", 0, []*batch.Batch{batch.WithRowCount(1)})
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("wait returned after only one sender delivered")
	default:
	}

	r.SubmitPartition("s1", 0, []*batch.Batch{batch.WithRowCount(2)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("wait never returned")
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(got))
	}
}

func TestRegistryCleanup(t *testing.T) {
	r := NewRegistry()
	r.RegisterShuffle("s1", 1, 1)
	r.SubmitPartition("s1", 0, []*batch.Batch{batch.WithRowCount(1)})
	r.CleanupShuffle("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.WaitForPartition(ctx, "s1", 0, 1); err == nil {
		t.Fatalf("expected timeout after cleanup removed state")
	}
}
