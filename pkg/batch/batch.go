// Package batch defines the columnar batch representation shared by every
// component that moves data between nodes: the RPC client (pkg/rpc), the
// shuffle subsystem (pkg/shuffle, pkg/plan) and the coordinator fallback
// (pkg/coordinator). It plays the role Arrow's RecordBatch plays in the
// system this was ported from, scaled down to what the fabric actually
// needs: typed columns, msgpack-friendly wire encoding, and row-count
// preservation for zero-column projections.
package batch

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FieldType is a portable type tag spanning the Arrow-equivalent set spec.md
// §6 requires the core to map engine type names onto. Only types with no
// portable equivalent at all fall back to String ("unknown types map to
// string"); Decimal, the date/time family, and the interval type are all
// named, known members of this set and carry their own tag rather than
// collapsing into Float64/String.
type FieldType int

const (
	Int64 FieldType = iota
	Float64
	Bool
	String
	Binary
	Null

	// Date32 is a date with no time component, stored as days since the
	// Unix epoch.
	Date32
	// Time64Micro is a time-of-day with microsecond resolution.
	Time64Micro
	// TimestampMicro is a timestamp with microsecond resolution and no
	// attached time zone.
	TimestampMicro
	// TimestampMicroTZ is TimestampMicro with a UTC time zone attached.
	TimestampMicroTZ
	// IntervalMonthDayNano is a calendar interval of (months, days,
	// nanoseconds), the three-component form the engine's INTERVAL type
	// carries.
	IntervalMonthDayNano
	// Decimal is a fixed-precision decimal; Precision/Scale on Field carry
	// the parsed DECIMAL(P,S) parameters.
	Decimal
)

func (t FieldType) String() string {
	switch t {
	case Int64:
		return "INT64"
	case Float64:
		return "FLOAT64"
	case Bool:
		return "BOOL"
	case String:
		return "STRING"
	case Binary:
		return "BINARY"
	case Date32:
		return "DATE32"
	case Time64Micro:
		return "TIME64_MICRO"
	case TimestampMicro:
		return "TIMESTAMP_MICRO"
	case TimestampMicroTZ:
		return "TIMESTAMP_MICRO_TZ"
	case IntervalMonthDayNano:
		return "INTERVAL_MONTH_DAY_NANO"
	case Decimal:
		return "DECIMAL"
	default:
		return "NULL"
	}
}

// Field describes one column. Precision/Scale are only meaningful when Type
// is Decimal, parsed from the engine's DECIMAL(P,S) type name (spec §6).
type Field struct {
	Name      string    `msgpack:"name"`
	Type      FieldType `msgpack:"type"`
	Precision int       `msgpack:"precision,omitempty"`
	Scale     int       `msgpack:"scale,omitempty"`
}

// Schema is an ordered list of fields. Two schemas are equal iff their
// fields are equal in order (spec 8, property 4 — projection round-trip).
type Schema struct {
	Fields []Field `msgpack:"fields"`
}

// Empty reports whether the schema has no columns — the COUNT(*)-style
// "rows matter, columns do not" case from spec 4.7.
func (s Schema) Empty() bool { return len(s.Fields) == 0 }

// IndexOf returns the index of the first field with the given name, or -1.
func (s Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Project returns a new schema containing only the given field indices, in
// the order given.
func (s Schema) Project(indices []int) Schema {
	out := Schema{Fields: make([]Field, len(indices))}
	for i, idx := range indices {
		out.Fields[i] = s.Fields[idx]
	}
	return out
}

// Column is one column's worth of values, one entry per row. Values are
// stored as interface{} holding int64, float64, bool, string, []byte, or nil.
type Column []any

// Batch is a fixed-schema, fixed-row-count block of columnar data — the
// unit of transport and of intra-plan flow (GLOSSARY, "Columnar batch").
type Batch struct {
	Schema   Schema   `msgpack:"schema"`
	Columns  []Column `msgpack:"columns"`
	NumRows  int      `msgpack:"num_rows"`
}

// NewBatch builds a batch, validating that every column has NumRows entries
// unless the schema is empty, in which case Columns may be nil and NumRows
// alone carries the row count (the zero-column, row-count-preserving case
// used for COUNT(*) pushdown).
func NewBatch(schema Schema, columns []Column) (*Batch, error) {
	if schema.Empty() {
		if len(columns) != 0 {
			return nil, fmt.Errorf("invalid argument: empty schema must have no columns")
		}
		return &Batch{Schema: schema}, nil
	}
	if len(columns) != len(schema.Fields) {
		return nil, fmt.Errorf("invalid argument: %d columns for %d fields", len(columns), len(schema.Fields))
	}
	n := len(columns[0])
	for i, c := range columns {
		if len(c) != n {
			return nil, fmt.Errorf("invalid argument: column %d has %d rows, want %d", i, len(c), n)
		}
	}
	return &Batch{Schema: schema, Columns: columns, NumRows: n}, nil
}

// Rows returns the row count, valid for both populated and zero-column
// batches.
func (b *Batch) Rows() int {
	if b.Schema.Empty() {
		return b.NumRows
	}
	if len(b.Columns) == 0 {
		return 0
	}
	return len(b.Columns[0])
}

// WithRowCount produces a zero-column batch preserving only the row count —
// the "RecordBatchOptions.with_row_count" trick spec.md references for
// converting a shard's real result into a COUNT(*)-shaped batch without
// losing how many rows it represented.
func WithRowCount(rows int) *Batch {
	return &Batch{Schema: Schema{}, NumRows: rows}
}

// Slice returns the rows in [lo, hi) as a new batch sharing the same schema.
func (b *Batch) Slice(lo, hi int) *Batch {
	if b.Schema.Empty() {
		return WithRowCount(hi - lo)
	}
	cols := make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = append(Column{}, c[lo:hi]...)
	}
	return &Batch{Schema: b.Schema, Columns: cols, NumRows: hi - lo}
}

// Concat concatenates batches sharing the same schema, preserving row order
// within each input batch and the input batch order overall.
func Concat(schema Schema, batches []*Batch) *Batch {
	if schema.Empty() {
		total := 0
		for _, b := range batches {
			total += b.Rows()
		}
		return WithRowCount(total)
	}
	cols := make([]Column, len(schema.Fields))
	for _, b := range batches {
		for i := range cols {
			if i < len(b.Columns) {
				cols[i] = append(cols[i], b.Columns[i]...)
			}
		}
	}
	n := 0
	if len(cols) > 0 {
		n = len(cols[0])
	}
	return &Batch{Schema: schema, Columns: cols, NumRows: n}
}

// Marshal/Unmarshal encode a batch through its msgpack tags; the native
// engine binding in pkg/engine uses them to pass batches across the cgo
// boundary. pkg/rpc's msgpack codec encodes batches with the same tags.
func (b *Batch) Marshal() ([]byte, error) { return msgpack.Marshal(b) }

func Unmarshal(data []byte) (*Batch, error) {
	var b Batch
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
