// Package membership consumes the cluster's gossip membership layer.
// Per spec.md §1/§6, the gossip wire protocol itself is an external
// collaborator — this package only needs the key/value API surface:
// Set, Delete, GetNodeKeyValues, GetSelfConfig, each scoped to a per-node
// namespace that is eventually consistent across the cluster.
//
// Snapshot reads are the load-bearing requirement (spec §3: "CatalogEntry
// is shared-immutable (copy-on-read snapshots)"; §5: "read via
// snapshot-copies of the gossip state; callers never mutate peer state").
// Directory keeps one hashicorp/go-immutable-radix tree per known node and
// swaps it atomically on every merge, so a reader holds a point-in-time
// view even while gossip continues to merge remote updates concurrently.
package membership

import (
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// KV is one key/value pair inside a node's namespace.
type KV struct {
	Key   string
	Value string
}

// NodeView is one node's namespace as seen in a snapshot.
type NodeView struct {
	NodeID   string
	NodeName string
	Endpoint string
	Pairs    []KV
}

// Directory is the consumer-facing gossip abstraction. NewDirectory builds
// the local node's own namespace; Merge folds in a remote node's push.
type Directory struct {
	selfID   string
	selfName string
	endpoint string

	mu   sync.RWMutex
	self *iradix.Tree // local namespace: key -> value

	nodesMu sync.RWMutex
	nodes   map[string]*nodeState // nodeID -> remote namespace, atomically swapped
}

type nodeState struct {
	name     string
	endpoint string
	tree     atomic.Pointer[iradix.Tree]
}

func NewDirectory(selfID, selfName, endpoint string) *Directory {
	d := &Directory{
		selfID:   selfID,
		selfName: selfName,
		endpoint: endpoint,
		self:     iradix.New(),
		nodes:    make(map[string]*nodeState),
	}
	return d
}

// Set publishes key=value under this node's own namespace.
func (d *Directory) Set(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tree, _, _ := d.self.Insert([]byte(key), value)
	d.self = tree
}

// Delete removes key from this node's own namespace.
func (d *Directory) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tree, _, _ := d.self.Delete([]byte(key))
	d.self = tree
}

// GetSelfConfig returns a snapshot of this node's own namespace.
func (d *Directory) GetSelfConfig() []KV {
	d.mu.RLock()
	tree := d.self
	d.mu.RUnlock()
	return dump(tree)
}

// GetNodeKeyValues folds every known node's namespace (including this
// node's own) into a flat snapshot, matching the external interface's
// `get_node_key_values() -> [(node_id, node_name, endpoint, [(key,value)])]`.
func (d *Directory) GetNodeKeyValues() []NodeView {
	out := []NodeView{{NodeID: d.selfID, NodeName: d.selfName, Endpoint: d.endpoint, Pairs: d.GetSelfConfig()}}

	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()
	for id, ns := range d.nodes {
		tree := ns.tree.Load()
		if tree == nil {
			continue
		}
		out = append(out, NodeView{NodeID: id, NodeName: ns.name, Endpoint: ns.endpoint, Pairs: dump(tree)})
	}
	return out
}

// MergeRemote replaces one remote node's namespace snapshot wholesale —
// the gossip layer delivers full per-node snapshots on each push/pull
// round rather than incremental deltas, so last-writer-wins at the
// snapshot level is sufficient for the "eventually consistent" contract.
func (d *Directory) MergeRemote(nodeID, nodeName, endpoint string, pairs []KV) {
	tree := iradix.New()
	for _, kv := range pairs {
		tree, _, _ = tree.Insert([]byte(kv.Key), kv.Value)
	}

	d.nodesMu.Lock()
	ns, ok := d.nodes[nodeID]
	if !ok {
		ns = &nodeState{}
		d.nodes[nodeID] = ns
	}
	ns.name = nodeName
	ns.endpoint = endpoint
	d.nodesMu.Unlock()

	ns.tree.Store(tree)
}

// Forget removes a node that has departed the cluster (spec §3 CatalogEntry
// lifecycle: "destroyed when the owning node departs the cluster").
func (d *Directory) Forget(nodeID string) {
	d.nodesMu.Lock()
	defer d.nodesMu.Unlock()
	delete(d.nodes, nodeID)
}

// KnownEndpoints returns endpoint addresses for every known remote node,
// used by the gossip push loop to know who to fan out to.
func (d *Directory) KnownEndpoints() []string {
	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()
	out := make([]string, 0, len(d.nodes))
	for _, ns := range d.nodes {
		if ns.endpoint != "" {
			out = append(out, ns.endpoint)
		}
	}
	return out
}

func (d *Directory) SelfID() string       { return d.selfID }
func (d *Directory) SelfName() string     { return d.selfName }
func (d *Directory) SelfEndpoint() string { return d.endpoint }

func dump(tree *iradix.Tree) []KV {
	var out []KV
	iter := tree.Root().Iterator()
	for {
		k, v, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, KV{Key: string(k), Value: v.(string)})
	}
	return out
}
