// Package engine defines the consumer-side contract for the embedded
// columnar SQL engine each node runs locally. The engine itself is an
// external collaborator (spec.md §1/§6): this package only consumes
// prepare/execute/query_arrow and schema introspection, and maps the
// engine's native type names onto the portable FieldTypes in pkg/batch.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumadb/swarmdb/pkg/batch"
)

// ColumnInfo mirrors one row of `pragma table_info(name)`: ordinal, name,
// type name, not-null, default, primary-key position.
type ColumnInfo struct {
	Ordinal  int
	Name     string
	TypeName string
	NotNull  bool
	Default  string
	PK       int
}

// Engine is the capability set every component in this module relies on.
// A real binding (cgo.go) talks to the native library; Mem (mem.go) is an
// in-process stand-in used by tests that cannot link the native library.
type Engine interface {
	// Prepare validates sql without running it, returning the statement's
	// output schema.
	Prepare(ctx context.Context, sql string) (batch.Schema, error)
	// Execute runs a statement with no result rows expected (DDL/DML).
	Execute(ctx context.Context, sql string) error
	// QueryArrow runs sql and returns the full result as one columnar batch.
	// (The real engine streams; this module pulls the stream to completion
	// at the boundary since every caller in the fabric wants a materialised
	// batch before it crosses a node or partition boundary.)
	QueryArrow(ctx context.Context, sql string) (*batch.Batch, error)
	// TableInfo returns PRAGMA table_info(name)-equivalent metadata.
	TableInfo(ctx context.Context, table string) ([]ColumnInfo, error)
	// ListTables enumerates user tables, skipping any reserved-prefixed
	// internal ones (spec 4.1: "skipping those prefixed with a reserved
	// sentinel").
	ListTables(ctx context.Context) ([]string, error)
	// LoadBatch materialises b under name as a virtual table, replacing any
	// existing table of that name. The coordinator fallback (§4.12 step 6)
	// uses this to stage the concatenated fan-out results under `_merged`
	// before running the merge fragment against them.
	LoadBatch(ctx context.Context, name string, b *batch.Batch) error
}

// ReservedPrefix marks internal tables the catalog must never advertise.
const ReservedPrefix = "__swarmdb_"

// decimalPattern extracts precision/scale from a DECIMAL(P,S) type name
// (spec §6: "fixed-precision decimal with precision and scale parsed from
// DECIMAL(P,S)").
var decimalPattern = regexp.MustCompile(`^DECIMAL\((\d+)\s*,\s*(\d+)\)$`)

// MapTypeName maps the embedded engine's native type-name string onto a
// portable batch.FieldType, per spec §6's type-mapping table: signed/
// unsigned integers collapse to Int64 (pkg/batch carries one integer
// width), 32/64-bit floats collapse to Float64, and date-32, time-64-micro,
// timestamp-micro (with or without zone), interval month-day-nano, and
// fixed-precision decimal each get their own tag. Only names matching none
// of these fall back to String.
func MapTypeName(name string) batch.FieldType {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(n, "INTERVAL"):
		return batch.IntervalMonthDayNano
	case strings.HasPrefix(n, "INT") || strings.HasPrefix(n, "BIGINT") || strings.HasPrefix(n, "SMALLINT") || strings.HasPrefix(n, "TINYINT") || strings.HasPrefix(n, "UINT"):
		return batch.Int64
	case strings.HasPrefix(n, "DECIMAL"):
		return batch.Decimal
	case strings.HasPrefix(n, "FLOAT") || strings.HasPrefix(n, "DOUBLE") || strings.HasPrefix(n, "REAL"):
		return batch.Float64
	case strings.HasPrefix(n, "BOOL"):
		return batch.Bool
	case strings.HasPrefix(n, "BLOB") || strings.HasPrefix(n, "BINARY"):
		return batch.Binary
	case n == "DATE":
		return batch.Date32
	case n == "TIMESTAMP" || n == "TIMESTAMP_NTZ" || n == "DATETIME":
		return batch.TimestampMicro
	case strings.HasPrefix(n, "TIMESTAMP") && (strings.Contains(n, "TZ") || strings.Contains(n, "WITH TIME ZONE")):
		return batch.TimestampMicroTZ
	case strings.HasPrefix(n, "TIME"):
		return batch.Time64Micro
	case n == "":
		return batch.Null
	default:
		return batch.String
	}
}

// MapTypeNameField builds a full batch.Field from the engine's column info,
// populating Precision/Scale when the type is DECIMAL(P,S). Unparsable
// decimal text still maps to batch.Decimal with Precision/Scale left at 0
// rather than falling back to Float64, since the type is known even when
// its parameters aren't.
func MapTypeNameField(name string) (batch.FieldType, int, int) {
	t := MapTypeName(name)
	if t != batch.Decimal {
		return t, 0, 0
	}
	m := decimalPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(name)))
	if m == nil {
		return t, 0, 0
	}
	precision, _ := strconv.Atoi(m[1])
	scale, _ := strconv.Atoi(m[2])
	return t, precision, scale
}

// SchemaFromColumns builds a batch.Schema from TableInfo output in ordinal
// order.
func SchemaFromColumns(cols []ColumnInfo) batch.Schema {
	fields := make([]batch.Field, len(cols))
	for _, c := range cols {
		if c.Ordinal < 0 || c.Ordinal >= len(cols) {
			continue
		}
		ftype, precision, scale := MapTypeNameField(c.TypeName)
		fields[c.Ordinal] = batch.Field{Name: c.Name, Type: ftype, Precision: precision, Scale: scale}
	}
	return batch.Schema{Fields: fields}
}

// ErrNotImplemented is returned by binding stubs that have no native
// counterpart wired up in this environment.
var ErrNotImplemented = fmt.Errorf("internal: engine operation not implemented")
