// Package catalog implements the gossip-driven cluster catalog (spec.md §4.1,
// component C1): publishing the tables this node owns, folding every node's
// publications into a flat view, and classifying each table name as Local,
// RemoteUnique, or Sharded.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/membership"
	"go.uber.org/zap"
)

// keyPrefix namespaces catalog keys within the gossip directory, per
// spec §6: "Keys used by the catalog are catalog:<table_name>".
const keyPrefix = "catalog:"

// CatalogEntry is one advertisement of a table on one node (spec §3).
type CatalogEntry struct {
	NodeID      string `json:"-"`
	NodeName    string `json:"-"`
	TableName   string `json:"-"`
	ApproxRows  uint64 `json:"approx_rows"`
	SchemaHash  uint64 `json:"schema_hash"`
	RPCEndpoint string `json:"rpc_endpoint,omitempty"`
}

// HasEndpoint reports whether this node can serve the table remotely.
// rpc_endpoint = "" means it must be excluded from distributed plans for
// this table (spec §3 invariant).
func (e CatalogEntry) HasEndpoint() bool { return e.RPCEndpoint != "" }

// ClassificationKind enumerates the TableClassification variants (spec §3).
type ClassificationKind int

const (
	Local ClassificationKind = iota
	RemoteUnique
	Sharded
)

// TableClassification is the planner's view of one table name across the
// cluster (spec §3).
type TableClassification struct {
	Kind    ClassificationKind
	Entries []CatalogEntry // for RemoteUnique: len==1; for Sharded: len>=2
}

// Catalog publishes this node's tables and resolves the cluster-wide view.
type Catalog struct {
	nodeID   string
	nodeName string
	endpoint string
	eng      engine.Engine
	dir      *membership.Directory
	logger   *zap.Logger
}

func New(nodeID, nodeName, endpoint string, eng engine.Engine, dir *membership.Directory, logger *zap.Logger) *Catalog {
	return &Catalog{nodeID: nodeID, nodeName: nodeName, endpoint: endpoint, eng: eng, dir: dir, logger: logger}
}

type catalogValue struct {
	ApproxRows  uint64  `json:"approx_rows"`
	SchemaHash  string  `json:"schema_hash"`
	RPCEndpoint *string `json:"rpc_endpoint"`
}

// AdvertiseLocalTables enumerates local tables and republishes one catalog
// key per table, removing keys for tables that no longer exist. Failures
// downgrade rather than propagate (spec §4.1 failure semantics).
func (c *Catalog) AdvertiseLocalTables(ctx context.Context) error {
	tables, err := c.eng.ListTables(ctx)
	if err != nil {
		c.logger.Warn("catalog: failed to list local tables", zap.Error(err))
		return nil
	}

	live := make(map[string]bool, len(tables))
	for _, table := range tables {
		live[table] = true
		entry, err := c.buildEntry(ctx, table)
		if err != nil {
			c.logger.Warn("catalog: failed to build entry, downgrading to zero rows",
				zap.String("table", table), zap.Error(err))
			entry = CatalogEntry{TableName: table, RPCEndpoint: c.endpoint}
		}
		c.publish(table, entry)
	}

	for _, kv := range c.dir.GetSelfConfig() {
		table, ok := tableNameFromKey(kv.Key)
		if ok && !live[table] {
			c.dir.Delete(kv.Key)
		}
	}
	return nil
}

func (c *Catalog) buildEntry(ctx context.Context, table string) (CatalogEntry, error) {
	cols, err := c.eng.TableInfo(ctx, table)
	if err != nil {
		return CatalogEntry{}, err
	}

	rows := uint64(0)
	if b, err := c.eng.QueryArrow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err == nil && b.NumRows == 0 && len(b.Columns) > 0 && len(b.Columns[0]) > 0 {
		rows = toUint64(b.Columns[0][0])
	} else if err == nil && len(b.Columns) > 0 && len(b.Columns[0]) > 0 {
		rows = toUint64(b.Columns[0][0])
	}

	return CatalogEntry{
		TableName:   table,
		ApproxRows:  rows,
		SchemaHash:  hashColumns(cols),
		RPCEndpoint: c.endpoint,
	}, nil
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	case float64:
		return uint64(x)
	default:
		return 0
	}
}

// hashColumns computes a 64-bit hash of the ordered (name, type) pairs,
// the schema_hash the spec requires for detecting cross-node schema drift.
func hashColumns(cols []engine.ColumnInfo) uint64 {
	h := sha256.New()
	for _, c := range cols {
		h.Write([]byte(c.Name))
		h.Write([]byte{0})
		h.Write([]byte(c.TypeName))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func (c *Catalog) publish(table string, entry CatalogEntry) {
	var ep *string
	if entry.RPCEndpoint != "" {
		ep = &entry.RPCEndpoint
	}
	val := catalogValue{
		ApproxRows:  entry.ApproxRows,
		SchemaHash:  fmt.Sprintf("0x%x", entry.SchemaHash),
		RPCEndpoint: ep,
	}
	data, err := json.Marshal(val)
	if err != nil {
		c.logger.Warn("catalog: failed to marshal entry", zap.Error(err))
		return
	}
	c.dir.Set(keyPrefix+table, string(data))
}

// StopCatalogRefresh removes this node's catalog keys (spec §4.1).
func (c *Catalog) StopCatalogRefresh() {
	for _, kv := range c.dir.GetSelfConfig() {
		if _, ok := tableNameFromKey(kv.Key); ok {
			c.dir.Delete(kv.Key)
		}
	}
}

func tableNameFromKey(key string) (string, bool) {
	if len(key) <= len(keyPrefix) || key[:len(keyPrefix)] != keyPrefix {
		return "", false
	}
	return key[len(keyPrefix):], true
}

// GetAllTables folds every node's advertised keys into a flat list. Keys
// from this node's own namespace are attributed to this node's identity
// (spec §4.1).
func (c *Catalog) GetAllTables() []CatalogEntry {
	var out []CatalogEntry
	for _, node := range c.dir.GetNodeKeyValues() {
		for _, kv := range node.Pairs {
			table, ok := tableNameFromKey(kv.Key)
			if !ok {
				continue
			}
			var val catalogValue
			if err := json.Unmarshal([]byte(kv.Value), &val); err != nil {
				continue
			}
			entry := CatalogEntry{
				NodeID:     node.NodeID,
				NodeName:   node.NodeName,
				TableName:  table,
				ApproxRows: val.ApproxRows,
			}
			if val.RPCEndpoint != nil {
				entry.RPCEndpoint = *val.RPCEndpoint
			}
			if _, err := fmt.Sscanf(val.SchemaHash, "0x%x", &entry.SchemaHash); err != nil {
				entry.SchemaHash = 0
			}
			out = append(out, entry)
		}
	}
	return out
}

// ClassifyTables groups GetAllTables() by table_name into Local/
// RemoteUnique/Sharded (spec §4.1, testable property 2).
func (c *Catalog) ClassifyTables() map[string]TableClassification {
	groups := make(map[string][]CatalogEntry)
	for _, e := range c.GetAllTables() {
		groups[e.TableName] = append(groups[e.TableName], e)
	}

	out := make(map[string]TableClassification, len(groups))
	for table, entries := range groups {
		sort.Slice(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })

		distinctOwners := map[string]bool{}
		for _, e := range entries {
			distinctOwners[e.NodeID] = true
		}

		switch {
		case len(distinctOwners) >= 2:
			out[table] = TableClassification{Kind: Sharded, Entries: entries}
		case len(entries) == 1 && entries[0].NodeID == c.nodeID:
			out[table] = TableClassification{Kind: Local, Entries: entries}
		default:
			out[table] = TableClassification{Kind: RemoteUnique, Entries: entries}
		}
	}
	return out
}
