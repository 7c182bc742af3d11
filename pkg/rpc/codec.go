// Package rpc is the columnar RPC transport (spec.md §4.2, component C2):
// submit a SQL fragment to a peer endpoint, get back a schema followed by
// a stream of columnar batches. The teacher wires an empty grpc.Server
// with a "TODO: Register gRPC services" in pkg/api/server.go — this
// package completes that stub with one hand-registered streaming service,
// using a msgpack wire codec (the same library the teacher uses for
// InsertMP document encoding) in place of protobuf, since the fabric has
// no .proto toolchain in this environment and pkg/batch's Batch/Schema are
// already msgpack-tagged.
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is passed as grpc.CallContentSubtype by the client and used as
// the codec lookup key on both sides.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) Name() string { return CodecName }
