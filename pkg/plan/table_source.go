package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/rpc"
)

// Filter is one dialect-neutral pushed-down predicate, rendered as-is into
// the WHERE clause of the per-shard fragment (spec §4.7: "each filter is
// rendered to dialect-neutral SQL"). Exact reports true for every filter
// this source accepts, matching "Filters are reported as Exact pushdown to
// the planner (no coordinator-side rechecking required)".
type Filter struct {
	SQL string
}

func (Filter) Exact() bool { return true }

// DistributedTableSource is the C7 plan node: a logical table over a
// Sharded classification whose scan yields one output partition per shard,
// lazily issuing a shard-specific SQL fragment against the corresponding
// peer only once a consumer pulls that partition.
type DistributedTableSource struct {
	table   string
	shards  []catalog.CatalogEntry
	client  *rpc.Client
	schema  batch.Schema
}

// NewDistributedTableSource probes the first shard for the table's schema
// (spec §4.7: "issue a one-row probe... against the first shard and cache
// its schema. Fail if the first shard is unreachable.").
func NewDistributedTableSource(ctx context.Context, table string, shards []catalog.CatalogEntry, client *rpc.Client) (*DistributedTableSource, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("invalid argument: no shards for table %q", table)
	}
	first := shards[0]
	if !first.HasEndpoint() {
		return nil, fmt.Errorf("peer failure: first shard for %q has no reachable endpoint", table)
	}
	schema, err := client.QueryNodeWithSchema(ctx, first.RPCEndpoint, table)
	if err != nil {
		return nil, fmt.Errorf("peer failure: probing schema for %q on %s: %w", table, first.RPCEndpoint, err)
	}
	return &DistributedTableSource{table: table, shards: shards, client: client, schema: schema}, nil
}

func (d *DistributedTableSource) Schema() batch.Schema { return d.schema }

// PartitionCount equals the shard count (spec §4.7).
func (d *DistributedTableSource) PartitionCount() int { return len(d.shards) }

// ScanPartition builds the SQL fragment for one shard following the
// pushdown rules in spec §4.7 and returns a lazy Source: the RPC is not
// issued until the first Next call.
func (d *DistributedTableSource) ScanPartition(partition int, projection []string, filters []Filter, limit int) (Source, error) {
	if partition < 0 || partition >= len(d.shards) {
		return nil, fmt.Errorf("invalid argument: partition %d out of range for %q", partition, d.table)
	}
	shard := d.shards[partition]
	if !shard.HasEndpoint() {
		return nil, fmt.Errorf("peer failure: shard %d of %q has no reachable endpoint", partition, d.table)
	}
	sql := buildScanSQL(d.table, projection, filters, limit)
	return &lazyRemoteSource{client: d.client, endpoint: shard.RPCEndpoint, sql: sql}, nil
}

// buildScanSQL renders the SELECT per spec §4.7: explicit column list, or
// `SELECT 1 AS _row` when the projection is empty (rows matter, columns do
// not — the COUNT(*)-style case).
func buildScanSQL(table string, projection []string, filters []Filter, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(projection) == 0 {
		b.WriteString("1 AS _row")
	} else {
		b.WriteString(strings.Join(projection, ", "))
	}
	fmt.Fprintf(&b, " FROM %s", table)
	if len(filters) > 0 {
		clauses := make([]string, len(filters))
		for i, f := range filters {
			clauses[i] = f.SQL
		}
		fmt.Fprintf(&b, " WHERE %s", strings.Join(clauses, " AND "))
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

// lazyRemoteSource defers issuing its RPC until the first Next call, per
// spec §4.7: "the RPC is not issued until the consumer pulls."
type lazyRemoteSource struct {
	client   *rpc.Client
	endpoint string
	sql      string

	started bool
	res     *rpc.QueryResult
}

func (s *lazyRemoteSource) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if !s.started {
		res, err := s.client.QueryNode(ctx, s.endpoint, s.sql)
		if err != nil {
			return nil, false, fmt.Errorf("peer failure: scanning %s via %s: %w", s.sql, s.endpoint, err)
		}
		s.res = res
		s.started = true
	}
	select {
	case be, ok := <-s.res.Batches:
		if !ok {
			return nil, false, nil
		}
		if be.Err != nil {
			return nil, false, be.Err
		}
		return be.Batch, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
