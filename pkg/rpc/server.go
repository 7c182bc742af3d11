package rpc

import (
	"context"
	"fmt"

	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/shuffle"
	"go.uber.org/zap"
)

// Server implements ColumnarRPCServer over a node's local embedded engine
// and this node's own shuffle registry — the two things a peer can reach
// through the columnar RPC surface.
type Server struct {
	eng     engine.Engine
	shuffle *shuffle.Registry
	logger  *zap.Logger
}

func NewServer(eng engine.Engine, shuffleRegistry *shuffle.Registry, logger *zap.Logger) *Server {
	return &Server{eng: eng, shuffle: shuffleRegistry, logger: logger}
}

// QueryNode executes req.SQL locally and streams back the schema followed
// by the result as one or more batches (spec §4.2). The embedded engine in
// this module materialises one batch per query (pkg/engine.Engine.QueryArrow);
// a real streaming engine binding would chunk larger results into several
// Send calls here without changing this method's contract.
func (s *Server) QueryNode(req *QueryRequest, stream ColumnarRPC_QueryNodeServer) error {
	ctx := stream.Context()

	b, err := s.eng.QueryArrow(ctx, req.SQL)
	if err != nil {
		s.logger.Warn("rpc: query failed", zap.String("sql", req.SQL), zap.Error(err))
		return stream.Send(&QueryResponse{Error: err.Error()})
	}

	if err := stream.Send(&QueryResponse{Schema: &b.Schema}); err != nil {
		return err
	}
	return stream.Send(&QueryResponse{Batch: b})
}

// DeliverShufflePartition hands a remote sender's sub-batch straight to this
// node's shuffle registry (spec §4.5 step 3 / §4.4 SubmitPartition) — the
// real counterpart to the SQL-staging fragment this replaced.
func (s *Server) DeliverShufflePartition(ctx context.Context, req *ShuffleDeliverRequest) (*ShuffleDeliverResponse, error) {
	if s.shuffle == nil {
		return &ShuffleDeliverResponse{Error: "internal: node has no shuffle registry"}, nil
	}
	batches := []*batch.Batch(nil)
	if req.Batch != nil {
		batches = []*batch.Batch{req.Batch}
	}
	s.shuffle.SubmitPartition(req.ShuffleID, int(req.PartitionID), batches)
	return &ShuffleDeliverResponse{}, nil
}

// ExecuteJoinFragment discharges spec §4.9 step 4 on the receiving side: wait
// for this node's own shuffle partition to finish arriving on both sides,
// stage each side under a reserved table name so a same-named local table is
// never overwritten, and run the (already rewritten) join SQL locally.
func (s *Server) ExecuteJoinFragment(ctx context.Context, req *JoinFragmentRequest) (*JoinFragmentResponse, error) {
	if s.shuffle == nil {
		return &JoinFragmentResponse{Error: "internal: node has no shuffle registry"}, nil
	}

	left, err := s.shuffle.WaitForPartition(ctx, req.LeftShuffleID, int(req.PartitionID), int(req.LeftExpectedSenders))
	if err != nil {
		return &JoinFragmentResponse{Error: fmt.Sprintf("waiting for left shuffle partition: %s", err)}, nil
	}
	right, err := s.shuffle.WaitForPartition(ctx, req.RightShuffleID, int(req.PartitionID), int(req.RightExpectedSenders))
	if err != nil {
		return &JoinFragmentResponse{Error: fmt.Sprintf("waiting for right shuffle partition: %s", err)}, nil
	}

	if err := s.stageSide(ctx, JoinStagingLeftTable, left); err != nil {
		return &JoinFragmentResponse{Error: err.Error()}, nil
	}
	if err := s.stageSide(ctx, JoinStagingRightTable, right); err != nil {
		return &JoinFragmentResponse{Error: err.Error()}, nil
	}

	result, err := s.eng.QueryArrow(ctx, req.SQL)
	if err != nil {
		return &JoinFragmentResponse{Error: fmt.Sprintf("running join fragment: %s", err)}, nil
	}
	return &JoinFragmentResponse{Schema: &result.Schema, Batch: result}, nil
}

// stageSide concatenates the batches delivered for one shuffle partition and
// loads them under name, so the join fragment SQL can address them as an
// ordinary table. An empty partition (no sender had a matching key) still
// stages a zero-column, zero-row batch so the join SQL can run against an
// empty table rather than an undefined one.
func (s *Server) stageSide(ctx context.Context, name string, batches []*batch.Batch) error {
	schema := batch.Schema{}
	for _, b := range batches {
		if b != nil && !b.Schema.Empty() {
			schema = b.Schema
			break
		}
	}
	merged := batch.Concat(schema, batches)
	if err := s.eng.LoadBatch(ctx, name, merged); err != nil {
		return fmt.Errorf("staging %s: %w", name, err)
	}
	return nil
}

var _ ColumnarRPCServer = (*Server)(nil)
