// Package cluster implements the control-plane node: Raft consensus over
// the small set of cluster-wide facts that must be linearizable (which
// node currently holds scheduler authority, and this node's own committed
// key/value log), alongside the eventually-consistent gossip layer
// (pkg/membership) that the catalog (pkg/catalog) reads from.
//
// Adapted from the teacher's document-store Node: the Raft wiring
// (NewRaft, bootstrap, TCP transport, bolt log/stable stores, leadership
// monitoring) is kept verbatim in spirit; the FSM's command set moves from
// document CRUD (set/delete into a collection) to generic key/value commands
// that feed a node's own membership namespace, since this fabric has no
// document-store surface to replicate.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/lumadb/swarmdb/pkg/config"
	"github.com/lumadb/swarmdb/pkg/membership"
	"go.uber.org/zap"
)

// Node is a control-plane cluster member: it runs Raft for cluster-wide
// consensus facts and owns this process's membership namespace.
type Node struct {
	config    *config.Config
	logger    *zap.Logger
	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
	dir       *membership.Directory

	isLeader   bool
	leaderAddr string
	leaderMu   sync.RWMutex
}

// NewNode creates a new cluster node bound to dir, the node's own gossip
// namespace (pkg/membership). Raft is used only for facts that require
// linearizability across the control plane; the catalog itself stays
// eventually consistent via gossip.
func NewNode(cfg *config.Config, logger *zap.Logger, dir *membership.Directory) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	node := &Node{
		config: cfg,
		logger: logger,
		dir:    dir,
	}

	node.fsm = NewFSM(node, logger)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.MaxAppendEntries = 64
	raftConfig.SnapshotInterval = 120 * time.Second
	raftConfig.SnapshotThreshold = 8192

	addr, err := net.ResolveTCPAddr("tcp", cfg.RaftAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve raft address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.RaftAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	node.transport = transport

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	ra, err := raft.NewRaft(raftConfig, node.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	node.raft = ra

	go node.monitorLeadership()

	return node, nil
}

// Bootstrap starts a new cluster with this node as the initial leader.
func (n *Node) Bootstrap() error {
	n.logger.Info("bootstrapping new cluster")

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.config.NodeID), Address: raft.ServerAddress(n.config.RaftAddr)},
		},
	}

	future := n.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		if err != raft.ErrCantBootstrap {
			return fmt.Errorf("failed to bootstrap: %w", err)
		}
		n.logger.Info("cluster already bootstrapped")
	}
	return nil
}

// Join records the address of an existing cluster's leader.
func (n *Node) Join(leaderAddr string) error {
	n.logger.Info("joining cluster", zap.String("leader", leaderAddr))
	n.leaderMu.Lock()
	n.leaderAddr = leaderAddr
	n.leaderMu.Unlock()
	return nil
}

// Shutdown gracefully shuts down the node.
func (n *Node) Shutdown() error {
	n.logger.Info("shutting down node")
	if n.raft != nil {
		future := n.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("raft shutdown failed: %w", err)
		}
	}
	return nil
}

// IsLeader returns true if this node holds cluster-wide consensus authority
// (used to decide which node's scheduler runs session-affecting mutations
// such as catalog compaction, when that distinction matters).
func (n *Node) IsLeader() bool {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	return n.isLeader
}

func (n *Node) LeaderAddr() string {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	return n.leaderAddr
}

// Apply replicates a key/value command through Raft, returning once a
// majority of the control-plane cluster has committed it.
func (n *Node) Apply(cmd *Command, timeout time.Duration) error {
	if !n.IsLeader() {
		return fmt.Errorf("not leader, leader is at %s", n.LeaderAddr())
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	future := n.raft.Apply(data, timeout)
	return future.Error()
}

// GetConfig returns the node configuration.
func (n *Node) GetConfig() *config.Config { return n.config }

func (n *Node) monitorLeadership() {
	for isLeader := range n.raft.LeaderCh() {
		n.leaderMu.Lock()
		n.isLeader = isLeader
		if isLeader {
			n.logger.Info("this node is now the leader")
			n.leaderAddr = n.config.RaftAddr
		} else {
			addr, _ := n.raft.LeaderWithID()
			n.leaderAddr = string(addr)
			n.logger.Info("leader changed", zap.String("new_leader", n.leaderAddr))
		}
		n.leaderMu.Unlock()
	}
}

// Command is a Raft-replicated key/value mutation against this node's own
// membership namespace (spec.md §6: "set(key, value)", "delete(key)").
type Command struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// FSM applies committed Commands to the node's membership namespace.
type FSM struct {
	node   *Node
	logger *zap.Logger
}

func NewFSM(node *Node, logger *zap.Logger) *FSM {
	return &FSM{node: node, logger: logger}
}

func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		f.logger.Error("failed to unmarshal command", zap.Error(err))
		return err
	}

	switch cmd.Op {
	case "set":
		f.node.dir.Set(cmd.Key, cmd.Value)
	case "delete":
		f.node.dir.Delete(cmd.Key)
	}
	return nil
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{pairs: f.node.dir.GetSelfConfig()}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var pairs []membership.KV
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	for _, kv := range pairs {
		f.node.dir.Set(kv.Key, kv.Value)
	}
	return nil
}

type fsmSnapshot struct {
	pairs []membership.KV
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	defer sink.Close()
	data, err := json.Marshal(s.pairs)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *fsmSnapshot) Release() {}

// SetKV replicates a key/value write through Raft and into this node's
// membership namespace.
func (n *Node) SetKV(ctx context.Context, key, value string) error {
	return n.Apply(&Command{Op: "set", Key: key, Value: value}, 5*time.Second)
}

// DeleteKV replicates a key deletion through Raft.
func (n *Node) DeleteKV(ctx context.Context, key string) error {
	return n.Apply(&Command{Op: "delete", Key: key}, 5*time.Second)
}
