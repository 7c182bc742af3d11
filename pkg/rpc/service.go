package rpc

import (
	"context"

	"github.com/lumadb/swarmdb/pkg/batch"
	"google.golang.org/grpc"
)

// QueryRequest is the single request message of the QueryNode stream.
type QueryRequest struct {
	SQL string `msgpack:"sql"`
}

// QueryResponse is one frame of the QueryNode response stream: the schema
// (the first frame of a successful reply), one columnar batch, or an error
// (a single frame sent in place of the schema when the fragment fails).
// Exactly one of the three fields is set per frame, mirroring "the peer
// replies with a schema descriptor followed by a sequence of columnar
// batches" (spec §4.2).
type QueryResponse struct {
	Schema *batch.Schema `msgpack:"schema,omitempty"`
	Batch  *batch.Batch  `msgpack:"batch,omitempty"`
	Error  string        `msgpack:"error,omitempty"`
}

// ShuffleDeliverRequest carries one sender's sub-batch for a single shuffle
// partition (spec §4.5 step 3). Batch payloads travel as a real message
// field here rather than as a row-count-only SQL fragment, so the receiving
// node can hand the batch straight to its shuffle registry.
type ShuffleDeliverRequest struct {
	ShuffleID   string       `msgpack:"shuffle_id"`
	PartitionID int32        `msgpack:"partition_id"`
	Batch       *batch.Batch `msgpack:"batch"`
}

// ShuffleDeliverResponse acknowledges a ShuffleDeliverRequest, carrying an
// error string on failure rather than relying on the transport error alone,
// mirroring QueryResponse's own Error field.
type ShuffleDeliverResponse struct {
	Error string `msgpack:"error,omitempty"`
}

// JoinFragmentRequest asks a participant node to wait for both sides of one
// shuffle partition to finish arriving, stage them locally, and run sql
// against them (spec §4.9 step 4's shuffle-join evaluation, discharged here
// since this module's scheduler has no way to push arbitrary Go plan code
// onto a peer — only the RPC surface crosses the network, so "run the join
// fragment" is itself one more RPC method rather than a local plan node).
type JoinFragmentRequest struct {
	LeftShuffleID        string `msgpack:"left_shuffle_id"`
	RightShuffleID       string `msgpack:"right_shuffle_id"`
	PartitionID          int32  `msgpack:"partition_id"`
	LeftExpectedSenders  int32  `msgpack:"left_expected_senders"`
	RightExpectedSenders int32  `msgpack:"right_expected_senders"`
	SQL                  string `msgpack:"sql"`
}

// JoinFragmentResponse carries one partition's join result.
type JoinFragmentResponse struct {
	Schema *batch.Schema `msgpack:"schema,omitempty"`
	Batch  *batch.Batch  `msgpack:"batch,omitempty"`
	Error  string        `msgpack:"error,omitempty"`
}

// JoinStagingLeftTable and JoinStagingRightTable are the reserved virtual
// table names a join fragment loads its two shuffled sides under before
// running the (rewritten) join SQL locally, so a participant's own
// same-named table is never clobbered by shuffled data addressed to it
// (spec §4.9 step 4's "reserved shuffle-staging area"). They live here,
// not in pkg/plan, since pkg/plan already imports pkg/rpc for the client
// type and the reverse import would cycle.
const (
	JoinStagingLeftTable  = "__swarmdb_join_left"
	JoinStagingRightTable = "__swarmdb_join_right"
)

// ServiceName is the gRPC service name, hand-registered below in place of
// generated protobuf service code.
const ServiceName = "swarmdb.ColumnarRPC"

// ColumnarRPCServer is implemented by the query-execution side (Server, in
// server.go).
type ColumnarRPCServer interface {
	QueryNode(req *QueryRequest, stream ColumnarRPC_QueryNodeServer) error
	DeliverShufflePartition(ctx context.Context, req *ShuffleDeliverRequest) (*ShuffleDeliverResponse, error)
	ExecuteJoinFragment(ctx context.Context, req *JoinFragmentRequest) (*JoinFragmentResponse, error)
}

func deliverShufflePartitionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ShuffleDeliverRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ColumnarRPCServer).DeliverShufflePartition(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DeliverShufflePartition"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ColumnarRPCServer).DeliverShufflePartition(ctx, req.(*ShuffleDeliverRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func executeJoinFragmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(JoinFragmentRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ColumnarRPCServer).ExecuteJoinFragment(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ExecuteJoinFragment"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ColumnarRPCServer).ExecuteJoinFragment(ctx, req.(*JoinFragmentRequest))
	}
	return interceptor(ctx, req, info, handler)
}

type ColumnarRPC_QueryNodeServer interface {
	Send(*QueryResponse) error
	grpc.ServerStream
}

type columnarRPCQueryNodeServer struct{ grpc.ServerStream }

func (x *columnarRPCQueryNodeServer) Send(m *QueryResponse) error {
	return x.ServerStream.SendMsg(m)
}

func queryNodeHandler(srv any, stream grpc.ServerStream) error {
	m := new(QueryRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ColumnarRPCServer).QueryNode(m, &columnarRPCQueryNodeServer{stream})
}

// ServiceDesc is registered against a *grpc.Server via
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ColumnarRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DeliverShufflePartition",
			Handler:    deliverShufflePartitionHandler,
		},
		{
			MethodName: "ExecuteJoinFragment",
			Handler:    executeJoinFragmentHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "QueryNode",
			Handler:       queryNodeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "swarmdb/rpc",
}

// ColumnarRPC_QueryNodeClient is the client-side handle to an in-flight
// QueryNode stream.
type ColumnarRPC_QueryNodeClient interface {
	Recv() (*QueryResponse, error)
	grpc.ClientStream
}

type columnarRPCQueryNodeClient struct{ grpc.ClientStream }

func (x *columnarRPCQueryNodeClient) Recv() (*QueryResponse, error) {
	m := new(QueryResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newQueryNodeClient(conn grpc.ClientConnInterface, ctx context.Context, opts ...grpc.CallOption) (ColumnarRPC_QueryNodeClient, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/QueryNode", opts...)
	if err != nil {
		return nil, err
	}
	x := &columnarRPCQueryNodeClient{stream}
	return x, nil
}
