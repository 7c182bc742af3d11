// Package fedexec is the Federation Executor (spec.md §4.8, component C8):
// the local and remote executor variants presented to the scheduler so
// whole co-located subtrees can be pushed as one SQL fragment.
//
// Adapted from the teacher's pkg/platform/federation/source.go Source/
// Manager shape (Connect/Close/Query/Introspect over Postgres/MySQL/REST
// sources) into the executor/registry shape spec §4.8 describes: execute,
// table_names, get_table_schema, keyed by compute_context rather than by
// source name.
package fedexec

import (
	"context"
	"fmt"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/rpc"
)

// Executor is the capability set both variants expose (spec §4.8).
type Executor interface {
	Name() string
	Dialect() string
	ComputeContext() string
	Execute(ctx context.Context, sql string) (*batch.Batch, error)
	TableNames() []string
	GetTableSchema(ctx context.Context, table string) (batch.Schema, error)
}

// LocalExecutor binds compute_context="local" and forwards every
// fragment to the embedded engine's QueryArrow call.
type LocalExecutor struct {
	eng    engine.Engine
	tables []string
}

func NewLocalExecutor(eng engine.Engine, tables []string) *LocalExecutor {
	return &LocalExecutor{eng: eng, tables: tables}
}

func (l *LocalExecutor) Name() string           { return "local" }
func (l *LocalExecutor) Dialect() string        { return "swarmdb" }
func (l *LocalExecutor) ComputeContext() string { return "local" }
func (l *LocalExecutor) TableNames() []string   { return l.tables }

func (l *LocalExecutor) Execute(ctx context.Context, sql string) (*batch.Batch, error) {
	return l.eng.QueryArrow(ctx, sql)
}

func (l *LocalExecutor) GetTableSchema(ctx context.Context, table string) (batch.Schema, error) {
	cols, err := l.eng.TableInfo(ctx, table)
	if err != nil {
		return batch.Schema{}, err
	}
	return engine.SchemaFromColumns(cols), nil
}

// RemoteExecutor binds compute_context=<endpoint> and forwards every
// fragment to that endpoint via pkg/rpc. All tables co-located on the same
// endpoint share one RemoteExecutor so the planner pushes multi-table
// joins as a single fragment when safe (spec §4.8).
type RemoteExecutor struct {
	endpoint string
	client   *rpc.Client
	tables   []string
}

func NewRemoteExecutor(endpoint string, client *rpc.Client, tables []string) *RemoteExecutor {
	return &RemoteExecutor{endpoint: endpoint, client: client, tables: tables}
}

func (r *RemoteExecutor) Name() string           { return r.endpoint }
func (r *RemoteExecutor) Dialect() string        { return "swarmdb" }
func (r *RemoteExecutor) ComputeContext() string { return r.endpoint }
func (r *RemoteExecutor) TableNames() []string   { return r.tables }

func (r *RemoteExecutor) Execute(ctx context.Context, sql string) (*batch.Batch, error) {
	res, err := r.client.QueryNode(ctx, r.endpoint, sql)
	if err != nil {
		return nil, err
	}
	batches, err := rpc.Collect(ctx, res)
	if err != nil {
		return nil, err
	}
	return batch.Concat(res.Schema, batches), nil
}

func (r *RemoteExecutor) GetTableSchema(ctx context.Context, table string) (batch.Schema, error) {
	return r.client.QueryNodeWithSchema(ctx, r.endpoint, table)
}

// Registry tracks one executor per compute_context (Manager in the
// teacher's federation/source.go, renamed and retyped for this domain).
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (m *Registry) Register(e Executor) {
	m.executors[e.ComputeContext()] = e
}

func (m *Registry) Get(computeContext string) (Executor, error) {
	e, ok := m.executors[computeContext]
	if !ok {
		return nil, fmt.Errorf("not found: no executor for compute context %q", computeContext)
	}
	return e, nil
}

func (m *Registry) All() []Executor {
	out := make([]Executor, 0, len(m.executors))
	for _, e := range m.executors {
		out = append(out, e)
	}
	return out
}
