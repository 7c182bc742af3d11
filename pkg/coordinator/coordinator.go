// Package coordinator implements the fallback query path used whenever the
// scheduler (pkg/scheduler, C10) is not running (spec.md §4.12, component
// C12). It parses the table name out of the SQL, resolves its shards via
// the catalog, decomposes aggregates via pkg/aggregation, fans the per-node
// fragment out in parallel, and merges the results.
//
// Grounded directly on plugins/db/src/coordinator.rs's
// execute_distributed_query / execute_local_query / merge_batches.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lumadb/swarmdb/pkg/aggregation"
	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"github.com/lumadb/swarmdb/pkg/sqlfed"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// mergedTableName is the virtual table the concatenated fan-out result is
// loaded under before merge_sql runs (spec §4.12 step 6).
const mergedTableName = "_merged"

// Coordinator executes queries without any planner/scheduler present.
type Coordinator struct {
	cat            *catalog.Catalog
	client         *rpc.Client
	eng            engine.Engine
	logger         *zap.Logger
	partialResults bool
}

func New(cat *catalog.Catalog, client *rpc.Client, eng engine.Engine, logger *zap.Logger, partialResults bool) *Coordinator {
	return &Coordinator{cat: cat, client: client, eng: eng, logger: logger, partialResults: partialResults}
}

// Execute runs sql end to end and returns its schema plus result batches
// (spec §4.12).
func (c *Coordinator) Execute(ctx context.Context, sql string) (batch.Schema, []*batch.Batch, error) {
	queryID := uuid.NewString()
	logger := c.logger.With(zap.String("query_id", queryID))

	table, err := sqlfed.ExtractTableName(sql)
	if err != nil {
		// Step 1: no FROM clause -> execute locally and return.
		logger.Debug("coordinator: no table reference, executing locally", zap.Error(err))
		return c.executeLocal(ctx, sql)
	}

	shards := c.cat.GetAllTables()
	var entries []catalog.CatalogEntry
	for _, e := range shards {
		if e.TableName == table && e.HasEndpoint() {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return batch.Schema{}, nil, fmt.Errorf("not found: no reachable endpoint advertises table %q", table)
	}

	decomposed, err := aggregation.Decompose(sql)
	if err != nil {
		return batch.Schema{}, nil, fmt.Errorf("plan failure: %w", err)
	}

	logger.Info("coordinator: fanning out",
		zap.String("table", table), zap.Int("endpoints", len(entries)), zap.Bool("has_aggregations", decomposed.HasAggregations))

	batches, schema, err := c.fanOut(ctx, entries, decomposed.NodeSQL)
	if err != nil {
		return batch.Schema{}, nil, err
	}

	merged := batch.Concat(schema, batches)
	if !decomposed.HasAggregations {
		return schema, splitOrEmpty(merged), nil
	}

	if err := c.eng.LoadBatch(ctx, mergedTableName, merged); err != nil {
		return batch.Schema{}, nil, fmt.Errorf("internal: staging merged results: %w", err)
	}
	result, err := c.eng.QueryArrow(ctx, decomposed.MergeSQL)
	if err != nil {
		return batch.Schema{}, nil, fmt.Errorf("internal: running merge fragment: %w", err)
	}
	return result.Schema, []*batch.Batch{result}, nil
}

func (c *Coordinator) executeLocal(ctx context.Context, sql string) (batch.Schema, []*batch.Batch, error) {
	b, err := c.eng.QueryArrow(ctx, sql)
	if err != nil {
		return batch.Schema{}, nil, err
	}
	return b.Schema, []*batch.Batch{b}, nil
}

// fanOut submits sql to every entry's endpoint in parallel (spec §4.12 step
// 4), respecting the partial-results failure policy from step 5. The
// returned schema is taken from the first successful response; if all
// peers return zero rows the schema is still preserved since QueryNode
// always returns the schema frame first.
func (c *Coordinator) fanOut(ctx context.Context, entries []catalog.CatalogEntry, sql string) ([]*batch.Batch, batch.Schema, error) {
	type outcome struct {
		schema  batch.Schema
		batches []*batch.Batch
		err     error
		node    string
	}

	// Bounded concurrency via errgroup, the same SetLimit(8) idiom the
	// teacher used for ticking many Raft groups in parallel, generalised
	// here to bound concurrent peer fan-out on an ad-hoc runtime (spec
	// §4.12 step 4).
	results := make([]outcome, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			res, err := c.client.QueryNode(gctx, e.RPCEndpoint, sql)
			if err != nil {
				results[i] = outcome{err: err, node: e.RPCEndpoint}
				return nil
			}
			bs, err := rpc.Collect(gctx, res)
			results[i] = outcome{schema: res.Schema, batches: bs, err: err, node: e.RPCEndpoint}
			return nil
		})
	}
	_ = g.Wait()

	var schema batch.Schema
	var all []*batch.Batch
	var errs error
	for _, r := range results {
		if r.err != nil {
			if c.partialResults {
				c.logger.Warn("coordinator: dropping peer result after failure",
					zap.String("endpoint", r.node), zap.Error(r.err))
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("peer failure: %s: %w", r.node, r.err))
			continue
		}
		if schema.Empty() && !r.schema.Empty() {
			schema = r.schema
		}
		all = append(all, r.batches...)
	}

	if errs != nil {
		return nil, batch.Schema{}, errs
	}
	return all, schema, nil
}

func splitOrEmpty(b *batch.Batch) []*batch.Batch {
	if b.Rows() == 0 && b.Schema.Empty() {
		return nil
	}
	return []*batch.Batch{b}
}
