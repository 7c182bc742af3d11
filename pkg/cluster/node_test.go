package cluster

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lumadb/swarmdb/pkg/config"
	"github.com/lumadb/swarmdb/pkg/membership"
	"go.uber.org/zap"
)

func TestNewNode(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "swarmdb-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.NodeID = "node1"
	cfg.RaftAddr = "127.0.0.1:0"

	logger := zap.NewNop()
	dir := membership.NewDirectory(cfg.NodeID, cfg.NodeID, cfg.GRPCAddr)

	node, err := NewNode(cfg, logger, dir)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	defer node.Shutdown()

	if err := node.Bootstrap(); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}

	timeout := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			t.Fatal("timeout waiting for leader")
		case <-ticker.C:
			if node.IsLeader() {
				return
			}
		}
	}
}

func TestSetKVReplicatesIntoMembershipNamespace(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "swarmdb-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.NodeID = "node2"
	cfg.RaftAddr = "127.0.0.1:0"

	logger := zap.NewNop()
	dir := membership.NewDirectory(cfg.NodeID, cfg.NodeID, cfg.GRPCAddr)

	node, err := NewNode(cfg, logger, dir)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	defer node.Shutdown()

	if err := node.Bootstrap(); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !node.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for leader")
		case <-time.After(50 * time.Millisecond):
		}
	}

	if err := node.SetKV(context.Background(), "catalog:orders", `{"approx_rows":1}`); err != nil {
		t.Fatalf("set kv: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for {
		for _, kv := range dir.GetSelfConfig() {
			if kv.Key == "catalog:orders" {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for fsm apply")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
