package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lumadb/swarmdb/pkg/batch"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client dials peer endpoints and issues columnar RPC queries (spec §4.2).
// Connections are cached per endpoint and reused across calls, mirroring
// the teacher's per-address ConnectionPool idea (pkg/router/router.go) but
// backed by grpc's own connection pooling rather than a hand-rolled
// channel-of-connections, since grpc.ClientConn already multiplexes
// streams.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewClient() *Client {
	return &Client{conns: make(map[string]*grpc.ClientConn)}
}

func (c *Client) dial(endpoint string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := grpc.Dial(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("peer failure: dialing %s: %w", endpoint, err)
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// QueryResult is a lazy stream of batches plus the schema, returned as soon
// as it arrives (spec §4.2: "Return the schema as soon as it arrives, and
// the batch stream (possibly still being populated)"). Batches arrives on
// a channel so the caller is never blocked on the whole result materialising
// before it can start consuming — the nested-runtime-avoidance idiom from
// spec §9 rendered as "the RPC runs on its own goroutine, the caller reads
// off a channel".
type QueryResult struct {
	Schema  batch.Schema
	Batches <-chan BatchOrError
}

// BatchOrError carries one frame of the lazy stream.
type BatchOrError struct {
	Batch *batch.Batch
	Err   error
}

// QueryNode submits sql to endpoint and returns a lazy stream of the
// result (spec §4.2). LIMIT rewriting for schema probes is the caller's
// responsibility — see QueryNodeWithSchema.
func (c *Client) QueryNode(ctx context.Context, endpoint, sql string) (*QueryResult, error) {
	conn, err := c.dial(endpoint)
	if err != nil {
		return nil, err
	}

	stream, err := newQueryNodeClient(conn, ctx)
	if err != nil {
		return nil, fmt.Errorf("peer failure: opening stream to %s: %w", endpoint, err)
	}
	if err := stream.SendMsg(&QueryRequest{SQL: sql}); err != nil {
		return nil, fmt.Errorf("peer failure: sending query to %s: %w", endpoint, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("peer failure: closing send to %s: %w", endpoint, err)
	}

	first, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("peer failure: reading schema from %s: %w", endpoint, err)
	}
	if first.Error != "" {
		return nil, fmt.Errorf("peer failure: %s reported: %s", endpoint, first.Error)
	}
	if first.Schema == nil {
		return nil, fmt.Errorf("peer failure: %s did not send a schema frame first", endpoint)
	}

	out := make(chan BatchOrError, 4)
	go func() {
		defer close(out)
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				out <- BatchOrError{Err: fmt.Errorf("peer failure: streaming from %s: %w", endpoint, err)}
				return
			}
			if resp.Error != "" {
				out <- BatchOrError{Err: fmt.Errorf("peer failure: %s reported: %s", endpoint, resp.Error)}
				return
			}
			if resp.Batch != nil {
				out <- BatchOrError{Batch: resp.Batch}
			}
		}
	}()

	return &QueryResult{Schema: *first.Schema, Batches: out}, nil
}

// QueryNodeWithSchema returns only the schema of table on endpoint: it runs
// `SELECT * FROM <table> LIMIT 1` through QueryNode and drains the batches.
// It uses LIMIT 1, never LIMIT 0, so the schema stays accurate even for an
// empty table, because some peers drop schema metadata when zero batches
// are returned (spec §4.2, §4.7).
func (c *Client) QueryNodeWithSchema(ctx context.Context, endpoint, table string) (batch.Schema, error) {
	res, err := c.QueryNode(ctx, endpoint, fmt.Sprintf("SELECT * FROM %s LIMIT 1", table))
	if err != nil {
		return batch.Schema{}, err
	}
	for range res.Batches {
		// drain; we only need the schema, already captured.
	}
	return res.Schema, nil
}

// Collect drains a QueryResult to completion — the boundary where the
// fabric's own components (the C8 remote executor, the C10 scheduler's
// shuffle-writer stage and the C12 coordinator) materialise the lazy stream.
func Collect(ctx context.Context, res *QueryResult) ([]*batch.Batch, error) {
	var out []*batch.Batch
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case be, ok := <-res.Batches:
			if !ok {
				return out, nil
			}
			if be.Err != nil {
				return out, be.Err
			}
			out = append(out, be.Batch)
		}
	}
}

// DeliverShufflePartition ships sub directly to endpoint's shuffle registry
// for (shuffleID, partitionID), the real transport behind ShuffleWriter's
// remote send (spec §4.5 step 3) — no SQL fragment involved, the batch
// travels as the RPC payload.
func (c *Client) DeliverShufflePartition(ctx context.Context, endpoint, shuffleID string, partitionID int, sub *batch.Batch) error {
	conn, err := c.dial(endpoint)
	if err != nil {
		return err
	}
	req := &ShuffleDeliverRequest{ShuffleID: shuffleID, PartitionID: int32(partitionID), Batch: sub}
	resp := new(ShuffleDeliverResponse)
	callOpt := grpc.CallContentSubtype(CodecName)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/DeliverShufflePartition", req, resp, callOpt); err != nil {
		return fmt.Errorf("peer failure: delivering shuffle partition to %s: %w", endpoint, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("peer failure: %s reported: %s", endpoint, resp.Error)
	}
	return nil
}

// ExecuteJoinFragment asks endpoint to evaluate one shuffle partition's join
// (spec §4.9 step 4) and returns its result batch and schema.
func (c *Client) ExecuteJoinFragment(ctx context.Context, endpoint string, req *JoinFragmentRequest) (*JoinFragmentResponse, error) {
	conn, err := c.dial(endpoint)
	if err != nil {
		return nil, err
	}
	resp := new(JoinFragmentResponse)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/ExecuteJoinFragment", req, resp, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, fmt.Errorf("peer failure: executing join fragment on %s: %w", endpoint, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("peer failure: %s reported: %s", endpoint, resp.Error)
	}
	return resp, nil
}

// Close tears down all cached connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for ep, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("peer failure: closing connection to %s: %w", ep, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
