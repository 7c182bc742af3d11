// Package engine: native binding to the embedded columnar SQL engine.
//
// This supersedes the fork's two conflicting CGO bindings (tdb_* and
// luma_* symbol families bound into the same Go package) with one
// consistent surface, named after the engine's actual exported symbol
// prefix, swarm_. Only the operations the fabric consumes are bound:
// engine open/close, prepare, execute, query_arrow, table_info,
// list_tables and load_batch — everything else the
// native engine exposes (collections, vector search, full CRUD) belongs to
// the document-store surface this repository does not implement.
package engine

/*
#cgo LDFLAGS: -L${SRCDIR}/../../native/target/release -lswarm_engine -ldl -lm
#cgo CFLAGS: -I${SRCDIR}/../../native/include

#include <stdlib.h>
#include <stdint.h>

typedef int32_t SwarmResult;
typedef uint64_t SwarmHandle;

typedef struct {
    uint8_t* data;
    size_t len;
} SwarmBuffer;

extern SwarmResult swarm_engine_open(const char* data_dir, SwarmHandle* handle_out);
extern SwarmResult swarm_engine_close(SwarmHandle handle);

extern SwarmResult swarm_prepare(SwarmHandle handle, const char* sql, SwarmBuffer* schema_json_out);
extern SwarmResult swarm_execute(SwarmHandle handle, const char* sql);
extern SwarmResult swarm_query_arrow(SwarmHandle handle, const char* sql, SwarmBuffer* batch_msgpack_out);
extern SwarmResult swarm_table_info(SwarmHandle handle, const char* table, SwarmBuffer* columns_json_out);
extern SwarmResult swarm_list_tables(SwarmHandle handle, SwarmBuffer* tables_json_out);
extern SwarmResult swarm_load_batch(SwarmHandle handle, const char* table, const uint8_t* batch_msgpack, size_t len);

extern void swarm_buffer_free(SwarmBuffer* buffer);
*/
import "C"

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"unsafe"

	"github.com/lumadb/swarmdb/pkg/batch"
)

var (
	ErrInvalidHandle = errors.New("invalid input: invalid engine handle")
	ErrInvalidSQL    = errors.New("invalid input: malformed sql")
	ErrEngineIO      = errors.New("internal: engine i/o error")
)

func resultToError(r C.SwarmResult) error {
	switch r {
	case 0:
		return nil
	case -1:
		return ErrInvalidHandle
	case -2:
		return ErrInvalidSQL
	default:
		return ErrEngineIO
	}
}

// Native is the CGO-backed Engine implementation: one embedded database per
// node.
type Native struct {
	handle C.SwarmHandle
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the node-local embedded database at dataDir.
func Open(dataDir string) (*Native, error) {
	cDir := C.CString(dataDir)
	defer C.free(unsafe.Pointer(cDir))

	var handle C.SwarmHandle
	if err := resultToError(C.swarm_engine_open(cDir, &handle)); err != nil {
		return nil, err
	}
	return &Native{handle: handle}, nil
}

func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return resultToError(C.swarm_engine_close(n.handle))
}

func (n *Native) Prepare(_ context.Context, sql string) (batch.Schema, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	cSQL := C.CString(sql)
	defer C.free(unsafe.Pointer(cSQL))

	var buf C.SwarmBuffer
	if err := resultToError(C.swarm_prepare(n.handle, cSQL, &buf)); err != nil {
		return batch.Schema{}, err
	}
	defer C.swarm_buffer_free(&buf)

	raw := C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.len))
	var cols []ColumnInfo
	if err := json.Unmarshal(raw, &cols); err != nil {
		return batch.Schema{}, err
	}
	return SchemaFromColumns(cols), nil
}

func (n *Native) Execute(_ context.Context, sql string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	cSQL := C.CString(sql)
	defer C.free(unsafe.Pointer(cSQL))
	return resultToError(C.swarm_execute(n.handle, cSQL))
}

func (n *Native) QueryArrow(_ context.Context, sql string) (*batch.Batch, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	cSQL := C.CString(sql)
	defer C.free(unsafe.Pointer(cSQL))

	var buf C.SwarmBuffer
	if err := resultToError(C.swarm_query_arrow(n.handle, cSQL, &buf)); err != nil {
		return nil, err
	}
	defer C.swarm_buffer_free(&buf)

	raw := C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.len))
	return batch.Unmarshal(raw)
}

func (n *Native) TableInfo(_ context.Context, table string) ([]ColumnInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	cTable := C.CString(table)
	defer C.free(unsafe.Pointer(cTable))

	var buf C.SwarmBuffer
	if err := resultToError(C.swarm_table_info(n.handle, cTable, &buf)); err != nil {
		return nil, err
	}
	defer C.swarm_buffer_free(&buf)

	raw := C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.len))
	var cols []ColumnInfo
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func (n *Native) ListTables(_ context.Context) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var buf C.SwarmBuffer
	if err := resultToError(C.swarm_list_tables(n.handle, &buf)); err != nil {
		return nil, err
	}
	defer C.swarm_buffer_free(&buf)

	raw := C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.len))
	var tables []string
	if err := json.Unmarshal(raw, &tables); err != nil {
		return nil, err
	}

	out := tables[:0]
	for _, t := range tables {
		if len(t) >= len(ReservedPrefix) && t[:len(ReservedPrefix)] == ReservedPrefix {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadBatch stages b as a virtual table for the coordinator merge step
// (spec §4.12 step 6).
func (n *Native) LoadBatch(_ context.Context, table string, b *batch.Batch) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	cTable := C.CString(table)
	defer C.free(unsafe.Pointer(cTable))

	raw, err := b.Marshal()
	if err != nil {
		return err
	}
	var cData *C.uint8_t
	if len(raw) > 0 {
		cData = (*C.uint8_t)(unsafe.Pointer(&raw[0]))
	}
	return resultToError(C.swarm_load_batch(n.handle, cTable, cData, C.size_t(len(raw))))
}

var _ Engine = (*Native)(nil)
