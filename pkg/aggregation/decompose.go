// Package aggregation implements the static SQL rewrite used when no query
// planner is present (spec.md §4.11, component C11): split AGG(expr) into a
// per-node fragment plus a merge fragment over a virtual _merged table.
package aggregation

import (
	"fmt"
	"strings"

	"github.com/lumadb/swarmdb/pkg/sqlfed"
)

// DecomposedQuery is the result of decomposition (spec §3).
type DecomposedQuery struct {
	NodeSQL         string
	MergeSQL        string
	HasAggregations bool
}

// passthrough is the trivial, non-aggregate decomposition (spec §4.11 rule
// 1: "If the statement contains no aggregate functions").
func passthrough(sql string) *DecomposedQuery {
	return &DecomposedQuery{NodeSQL: sql, MergeSQL: "SELECT * FROM _merged", HasAggregations: false}
}

// Decompose applies the spec's ordered rewrite rules to sql.
func Decompose(sql string) (*DecomposedQuery, error) {
	stmt, err := sqlfed.Parse(sql)
	if err != nil || stmt.Select == nil {
		// Our grammar does not cover every construct this fabric might see
		// (derived tables, set operations). Anything we cannot parse is
		// treated as non-aggregate and passed through verbatim, matching
		// the "no aggregate functions" default rather than guessing at a
		// rewrite we cannot validate.
		return passthrough(sql), nil
	}
	sel := stmt.Select

	if !sel.IsAggregateQuery() {
		return passthrough(sql), nil
	}

	// Open-question decision (SPEC_FULL §7): GROUP BY + HAVING in the
	// fallback path is rejected rather than guessed at.
	if len(sel.GroupBy) > 0 && sel.Having != nil {
		return nil, fmt.Errorf("plan failure: GROUP BY with HAVING is not decomposable in the fallback coordinator")
	}

	var nodeFields, mergeFields []string
	distinctFallback := false

	for i, f := range sel.Fields {
		alias := fieldAlias(f, i)
		switch {
		case f.Aggregate != nil:
			agg := f.Aggregate
			switch strings.ToUpper(agg.Func) {
			case "COUNT":
				if agg.Distinct {
					// Not decomposable: ship all rows for this expression
					// and let the coordinator count distinct values itself.
					distinctFallback = true
					nodeFields = append(nodeFields, agg.Arg)
					mergeFields = append(mergeFields, fmt.Sprintf("COUNT(DISTINCT %s) AS %q", agg.Arg, alias))
				} else {
					partial := fmt.Sprintf("_count_%d", i)
					nodeFields = append(nodeFields, fmt.Sprintf("COUNT(%s) AS %s", agg.Arg, partial))
					mergeFields = append(mergeFields, fmt.Sprintf("SUM(%s) AS %q", partial, alias))
				}
			case "SUM", "MIN", "MAX":
				partial := fmt.Sprintf("_%s_%d", strings.ToLower(agg.Func), i)
				nodeFields = append(nodeFields, fmt.Sprintf("%s(%s) AS %s", agg.Func, agg.Arg, partial))
				mergeFields = append(mergeFields, fmt.Sprintf("%s(%s) AS %q", agg.Func, partial, alias))
			case "AVG":
				sumCol := fmt.Sprintf("_avg_sum_%d", i)
				cntCol := fmt.Sprintf("_avg_cnt_%d", i)
				nodeFields = append(nodeFields,
					fmt.Sprintf("SUM(%s) AS %s", agg.Arg, sumCol),
					fmt.Sprintf("COUNT(%s) AS %s", agg.Arg, cntCol))
				mergeFields = append(mergeFields, fmt.Sprintf("SUM(%s)/SUM(%s) AS %q", sumCol, cntCol, alias))
			default:
				return nil, fmt.Errorf("plan failure: aggregate %s is not decomposable", agg.Func)
			}
		case f.Column != nil:
			name := columnName(*f.Column)
			nodeFields = append(nodeFields, name)
			mergeFields = append(mergeFields, name)
		case f.Star:
			return nil, fmt.Errorf("plan failure: SELECT * cannot be decomposed with aggregates present")
		}
	}

	for _, g := range sel.GroupBy {
		nodeFields = append(nodeFields, g)
	}

	nodeSQL := fmt.Sprintf("SELECT %s FROM %s", strings.Join(dedupe(nodeFields), ", "), tableClause(sel))
	if sel.Where != nil {
		nodeSQL += " WHERE " + renderWhere(sel.Where)
	}
	if len(sel.GroupBy) > 0 {
		nodeSQL += " GROUP BY " + strings.Join(sel.GroupBy, ", ")
	}

	mergeSQL := fmt.Sprintf("SELECT %s FROM _merged", strings.Join(mergeFields, ", "))
	if len(sel.GroupBy) > 0 {
		mergeSQL += " GROUP BY " + strings.Join(sel.GroupBy, ", ")
	}
	if sel.Having != nil {
		mergeSQL += " HAVING " + renderWhere(sel.Having)
	}
	if len(sel.OrderBy) > 0 {
		mergeSQL += " ORDER BY " + strings.Join(sel.OrderBy, ", ")
	}
	if sel.Limit != nil {
		mergeSQL += fmt.Sprintf(" LIMIT %d", *sel.Limit)
	}

	_ = distinctFallback // informational; both fragments already reflect it
	return &DecomposedQuery{NodeSQL: nodeSQL, MergeSQL: mergeSQL, HasAggregations: true}, nil
}

func fieldAlias(f sqlfed.SelectField, i int) string {
	if f.Alias != nil {
		return *f.Alias
	}
	if f.Aggregate != nil {
		return fmt.Sprintf("%s(%s)", f.Aggregate.Func, f.Aggregate.Arg)
	}
	if f.Column != nil {
		return columnName(*f.Column)
	}
	return fmt.Sprintf("col_%d", i)
}

func columnName(c sqlfed.ColumnRef) string {
	if c.Table != "" {
		return c.Table + "." + c.Name
	}
	return c.Name
}

func tableClause(sel *sqlfed.Select) string {
	name := sel.From.Name
	if sel.From.Alias != nil {
		name += " " + *sel.From.Alias
	}
	for _, j := range sel.Joins {
		name += " JOIN " + j.Table.Name
		if j.Table.Alias != nil {
			name += " " + *j.Table.Alias
		}
		if len(j.Condition.UsingCol) > 0 {
			name += " USING (" + strings.Join(j.Condition.UsingCol, ", ") + ")"
		} else if j.Condition.OnLeft != nil {
			name += fmt.Sprintf(" ON %s = %s", columnName(*j.Condition.OnLeft), columnName(*j.Condition.OnRight))
		}
	}
	return name
}

func renderWhere(w *sqlfed.Where) string {
	parts := make([]string, len(w.Conditions))
	for i, c := range w.Conditions {
		parts[i] = fmt.Sprintf("%s %s %s", columnName(c.Left), c.Operator, renderLiteral(c.Right))
	}
	return strings.Join(parts, " AND ")
}

func renderLiteral(l *sqlfed.Literal) string {
	switch {
	case l.Number != nil:
		return fmt.Sprintf("%v", *l.Number)
	case l.String != nil:
		return "'" + *l.String + "'"
	case l.Bool != nil:
		if *l.Bool {
			return "TRUE"
		}
		return "FALSE"
	}
	return "NULL"
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
