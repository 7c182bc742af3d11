package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lumadb/swarmdb/pkg/batch"
)

// Mem is a minimal in-process Engine used by tests that exercise the
// catalog, coordinator, and plan packages without linking the native
// library. It supports exactly the subset of SQL those packages need:
// table creation via CreateTable, and SELECT with an optional WHERE
// equality, a COUNT(*) projection (no other aggregate), and LIMIT — enough to drive the fabric's
// own logic, not a general SQL engine. Justified in DESIGN.md: the real
// engine is an external native dependency with no pure-Go equivalent in
// the examples pack, so tests substitute a hand-built stand-in rather than
// skipping coverage of the components built on top of it.
type Mem struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	schema batch.Schema
	rows   [][]any
}

func NewMem() *Mem {
	return &Mem{tables: make(map[string]*memTable)}
}

// CreateTable seeds a table directly (test setup helper, not part of the
// Engine interface).
func (m *Mem) CreateTable(name string, schema batch.Schema, rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &memTable{schema: schema, rows: rows}
}

// LoadBatch stages b as a table, replacing any existing table of that name.
func (m *Mem) LoadBatch(_ context.Context, name string, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([][]any, b.Rows())
	for i := range rows {
		row := make([]any, len(b.Columns))
		for c, col := range b.Columns {
			if i < len(col) {
				row[c] = col[i]
			}
		}
		rows[i] = row
	}
	m.tables[name] = &memTable{schema: b.Schema, rows: rows}
	return nil
}

func (m *Mem) ListTables(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		if strings.HasPrefix(name, ReservedPrefix) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (m *Mem) TableInfo(_ context.Context, table string) ([]ColumnInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("not found: table %q", table)
	}
	cols := make([]ColumnInfo, len(t.schema.Fields))
	for i, f := range t.schema.Fields {
		cols[i] = ColumnInfo{Ordinal: i, Name: f.Name, TypeName: f.Type.String()}
	}
	return cols, nil
}

func (m *Mem) Prepare(ctx context.Context, sql string) (batch.Schema, error) {
	b, err := m.QueryArrow(ctx, sql)
	if err != nil {
		return batch.Schema{}, err
	}
	return b.Schema, nil
}

func (m *Mem) Execute(_ context.Context, sql string) error {
	return nil
}

// QueryArrow interprets a tiny SQL subset: SELECT <cols|COUNT(*)|*>
// FROM <table> [WHERE col = val] [LIMIT n]. It exists solely to let
// higher-level packages exercise pushdown and merge logic in tests.
func (m *Mem) QueryArrow(_ context.Context, sql string) (*batch.Batch, error) {
	q := parseMemSelect(sql)
	if q.from == "" {
		return literalSelect(q.cols)
	}
	if strings.Contains(strings.ToUpper(q.from), " JOIN ") {
		return m.queryJoin(q)
	}

	m.mu.RLock()
	t, ok := m.tables[q.from]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("not found: table %q", q.from)
	}

	rows := t.rows
	if q.whereCol != "" {
		idx := t.schema.IndexOf(q.whereCol)
		filtered := make([][]any, 0, len(rows))
		for _, r := range rows {
			if idx >= 0 && idx < len(r) && fmt.Sprint(r[idx]) == q.whereVal {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	if q.limit >= 0 && q.limit < len(rows) {
		rows = rows[:q.limit]
	}

	if q.isCountStar {
		return batch.NewBatch(batch.Schema{Fields: []batch.Field{{Name: "COUNT(*)", Type: batch.Int64}}},
			[]batch.Column{{int64(len(rows))}})
	}

	if len(q.cols) == 0 || q.cols[0] == "*" {
		cols := make([]batch.Column, len(t.schema.Fields))
		for _, r := range rows {
			for i := range cols {
				if i < len(r) {
					cols[i] = append(cols[i], r[i])
				}
			}
		}
		return batch.NewBatch(t.schema, cols)
	}

	fields := make([]batch.Field, len(q.cols))
	cols := make([]batch.Column, len(q.cols))
	for i, name := range q.cols {
		idx := t.schema.IndexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("invalid input: unknown column %q", name)
		}
		fields[i] = t.schema.Fields[idx]
		for _, r := range rows {
			cols[i] = append(cols[i], r[idx])
		}
	}
	return batch.NewBatch(batch.Schema{Fields: fields}, cols)
}

// queryJoin handles the one join shape the sqlfed grammar itself supports:
// a single "left JOIN right ON l.col = r.col" (or USING, already normalised
// to the same column name on both sides by the caller). A plain nested-loop
// equi-join is enough for tests exercising the scheduler's join strategies;
// it is not meant to be fast.
func (m *Mem) queryJoin(q memSelect) (*batch.Batch, error) {
	leftName, rightName, leftCol, rightCol, ok := parseMemJoin(q.from)
	if !ok {
		return nil, fmt.Errorf("invalid input: unsupported join clause %q", q.from)
	}

	m.mu.RLock()
	left, lok := m.tables[leftName]
	right, rok := m.tables[rightName]
	m.mu.RUnlock()
	if !lok {
		return nil, fmt.Errorf("not found: table %q", leftName)
	}
	if !rok {
		return nil, fmt.Errorf("not found: table %q", rightName)
	}

	li := left.schema.IndexOf(leftCol)
	ri := right.schema.IndexOf(rightCol)
	if li < 0 {
		return nil, fmt.Errorf("invalid input: unknown column %q", leftCol)
	}
	if ri < 0 {
		return nil, fmt.Errorf("invalid input: unknown column %q", rightCol)
	}

	combinedSchema := batch.Schema{Fields: append(append([]batch.Field{}, left.schema.Fields...), right.schema.Fields...)}
	var rows [][]any
	for _, lr := range left.rows {
		for _, rr := range right.rows {
			if li >= len(lr) || ri >= len(rr) {
				continue
			}
			if fmt.Sprint(lr[li]) != fmt.Sprint(rr[ri]) {
				continue
			}
			row := make([]any, 0, len(lr)+len(rr))
			row = append(row, lr...)
			row = append(row, rr...)
			rows = append(rows, row)
		}
	}
	if q.limit >= 0 && q.limit < len(rows) {
		rows = rows[:q.limit]
	}

	if len(q.cols) == 0 || q.cols[0] == "*" {
		cols := make([]batch.Column, len(combinedSchema.Fields))
		for _, r := range rows {
			for i := range cols {
				if i < len(r) {
					cols[i] = append(cols[i], r[i])
				}
			}
		}
		return batch.NewBatch(combinedSchema, cols)
	}

	fields := make([]batch.Field, len(q.cols))
	cols := make([]batch.Column, len(q.cols))
	for i, name := range q.cols {
		idx := combinedSchema.IndexOf(unqualify(name))
		if idx < 0 {
			return nil, fmt.Errorf("invalid input: unknown column %q", name)
		}
		fields[i] = combinedSchema.Fields[idx]
		for _, r := range rows {
			cols[i] = append(cols[i], r[idx])
		}
	}
	return batch.NewBatch(batch.Schema{Fields: fields}, cols)
}

// unqualify strips a "table." prefix from a projected column reference.
func unqualify(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// parseMemJoin splits "left JOIN right ON l.col = r.col" (or "left JOIN
// right ON l.col = r.col", bare or qualified column names on either side)
// into its table and join-column names.
func parseMemJoin(from string) (leftTable, rightTable, leftCol, rightCol string, ok bool) {
	upper := strings.ToUpper(from)
	joinIdx := strings.Index(upper, " JOIN ")
	if joinIdx < 0 {
		return "", "", "", "", false
	}
	leftTable = strings.TrimSpace(from[:joinIdx])
	rest := strings.TrimSpace(from[joinIdx+len(" JOIN "):])

	onIdx := strings.Index(strings.ToUpper(rest), " ON ")
	if onIdx < 0 {
		return "", "", "", "", false
	}
	rightTable = strings.TrimSpace(rest[:onIdx])
	cond := strings.TrimSpace(rest[onIdx+len(" ON "):])

	parts := strings.SplitN(cond, "=", 2)
	if len(parts) != 2 {
		return "", "", "", "", false
	}
	leftCol = unqualify(strings.TrimSpace(parts[0]))
	rightCol = unqualify(strings.TrimSpace(parts[1]))
	return leftTable, rightTable, leftCol, rightCol, true
}

type memSelect struct {
	cols        []string
	from        string
	whereCol    string
	whereVal    string
	limit       int
	isCountStar bool
}

// parseMemSelect is a deliberately tiny, whitespace-based parser — not a
// general SQL grammar, just enough surface for the Mem stand-in.
func parseMemSelect(sql string) memSelect {
	q := memSelect{limit: -1}
	s := strings.TrimSpace(sql)
	upper := strings.ToUpper(s)

	fromIdx := strings.Index(upper, " FROM ")
	selectPart := s[len("SELECT "):]
	if fromIdx >= 0 {
		selectPart = s[len("SELECT "):fromIdx]
	}
	selectPart = strings.TrimSpace(selectPart)
	if strings.EqualFold(selectPart, "COUNT(*)") {
		q.isCountStar = true
	} else {
		for _, c := range strings.Split(selectPart, ",") {
			q.cols = append(q.cols, strings.TrimSpace(c))
		}
	}

	rest := ""
	if fromIdx >= 0 {
		rest = strings.TrimSpace(s[fromIdx+len(" FROM "):])
	}

	whereIdx := strings.Index(strings.ToUpper(rest), " WHERE ")
	limitIdx := strings.Index(strings.ToUpper(rest), " LIMIT ")

	tablePart := rest
	if whereIdx >= 0 {
		tablePart = rest[:whereIdx]
	} else if limitIdx >= 0 {
		tablePart = rest[:limitIdx]
	}
	q.from = strings.TrimSpace(tablePart)

	if whereIdx >= 0 {
		end := len(rest)
		if limitIdx > whereIdx {
			end = limitIdx
		}
		cond := strings.TrimSpace(rest[whereIdx+len(" WHERE ") : end])
		parts := strings.SplitN(cond, "=", 2)
		if len(parts) == 2 {
			q.whereCol = strings.TrimSpace(parts[0])
			q.whereVal = strings.Trim(strings.TrimSpace(parts[1]), "'\"")
		}
	}

	if limitIdx >= 0 {
		n := strings.TrimSpace(rest[limitIdx+len(" LIMIT "):])
		if v, err := strconv.Atoi(n); err == nil {
			q.limit = v
		}
	}

	return q
}

// literalSelect handles a FROM-less projection such as "SELECT 1 AS one",
// producing a single synthetic row. This is the Mem stand-in's equivalent
// of the embedded engine executing a literal SELECT with no table source
// (spec §4.12 step 1: "No FROM clause -> execute locally and return").
func literalSelect(exprs []string) (*batch.Batch, error) {
	fields := make([]batch.Field, len(exprs))
	values := make([]any, len(exprs))
	for i, expr := range exprs {
		literal := expr
		alias := fmt.Sprintf("col_%d", i)
		if idx := strings.Index(strings.ToUpper(expr), " AS "); idx >= 0 {
			literal = strings.TrimSpace(expr[:idx])
			alias = strings.TrimSpace(expr[idx+len(" AS "):])
		}
		if n, err := strconv.ParseInt(literal, 10, 64); err == nil {
			fields[i] = batch.Field{Name: alias, Type: batch.Int64}
			values[i] = n
		} else {
			fields[i] = batch.Field{Name: alias, Type: batch.String}
			values[i] = strings.Trim(literal, "'\"")
		}
	}
	schema := batch.Schema{Fields: fields}
	cols := make([]batch.Column, len(fields))
	for i, v := range values {
		cols[i] = batch.Column{v}
	}
	return batch.NewBatch(schema, cols)
}

var _ Engine = (*Mem)(nil)
