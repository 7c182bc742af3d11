// Package sqlfed extends the teacher's participle-based SQL grammar
// (pkg/query/parser.go: SELECT/INSERT only, no joins, no aggregates) with
// the surface the federation components actually need to reason about:
// joins (for C9's shuffle insertion rule), aggregate functions and GROUP
// BY/HAVING (for C11's decomposer), and table-name extraction across
// subqueries and aliases (for C12's fallback coordinator, grounded on the
// Rust original's plugins/db/src/coordinator.rs extract_table_name/
// extract_table_from_factor walk).
package sqlfed

// Statement is the root AST node. Only SELECT is modelled — the fabric
// never plans DDL/DML across the cluster.
type Statement struct {
	Select *Select `@@`
}

// SelectField is one projected item: either "*", a bare/qualified column,
// or an aggregate call, optionally aliased.
type SelectField struct {
	Star      bool       `( @"*"`
	Aggregate *Aggregate `| @@`
	Column    *ColumnRef `| @@ )`
	Alias     *string    `[ "AS" @Ident ]`
}

// Aggregate is one aggregate function call: COUNT/SUM/MIN/MAX/AVG(expr),
// with an optional DISTINCT modifier (only meaningful for COUNT per spec
// §4.11).
type Aggregate struct {
	Func     string `@( "COUNT" | "SUM" | "MIN" | "MAX" | "AVG" )`
	Distinct bool   `"(" [ @"DISTINCT" ]`
	Arg      string `( @"*" | @Ident ) ")"`
}

// ColumnRef is a bare or table-qualified column name.
type ColumnRef struct {
	Table string `( @Ident "."`
	Name  string `  | ) @Ident`
}

// TableRef is a table name with an optional alias.
type TableRef struct {
	Name  string  `@Ident`
	Alias *string `[ @Ident ]`
}

// JoinCondition is either "ON l = r" or "USING (col, ...)".
type JoinCondition struct {
	OnLeft   *ColumnRef  `( "ON" @@`
	OnRight  *ColumnRef  `  "=" @@`
	UsingCol []string    `| "USING" "(" @Ident { "," @Ident } ")" )`
}

// Join is one JOIN clause.
type Join struct {
	Table     TableRef      `"JOIN" @@`
	Condition JoinCondition `@@`
}

// Condition is a single comparison; Where composes them with AND only
// (matching the decomposer's and the shuffle rule's needs — OR/complex
// boolean algebra is outside what this fabric needs to reason about
// structurally, it is passed through verbatim in fragment SQL).
type Condition struct {
	Left     ColumnRef `@@`
	Operator string    `@( "=" | "<>" | "<" | ">" | "<=" | ">=" )`
	Right    *Literal  `@@`
}

type Literal struct {
	Number *float64 `@Number`
	String *string  `| @String`
	Bool   *bool    `| ( "TRUE" | "FALSE" )`
}

// Where is a conjunction of conditions.
type Where struct {
	Conditions []Condition `@@ { "AND" @@ }`
}

// Select is a full SELECT statement.
type Select struct {
	Fields  []SelectField `"SELECT" @@ { "," @@ }`
	From    TableRef      `"FROM" @@`
	Joins   []Join        `{ @@ }`
	Where   *Where        `[ "WHERE" @@ ]`
	GroupBy []string      `[ "GROUP" "BY" @Ident { "," @Ident } ]`
	Having  *Where        `[ "HAVING" @@ ]`
	OrderBy []string      `[ "ORDER" "BY" @Ident { "," @Ident } ]`
	Limit   *int          `[ "LIMIT" @Number ]`
}

// HasAggregates reports whether any projected field is an aggregate call.
func (s *Select) HasAggregates() bool {
	for _, f := range s.Fields {
		if f.Aggregate != nil {
			return true
		}
	}
	return false
}

// IsAggregateQuery reports whether the statement needs decomposition:
// either an explicit aggregate projection or a GROUP BY.
func (s *Select) IsAggregateQuery() bool {
	return s.HasAggregates() || len(s.GroupBy) > 0
}

// TableNames returns every table referenced by FROM and JOIN clauses, in
// order, deduplicated.
func (s *Select) TableNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(s.From.Name)
	for _, j := range s.Joins {
		add(j.Table.Name)
	}
	return out
}

// JoinKeys returns the equality join-key column name on each side of the
// first JOIN clause, needed by the shuffle insertion rule (spec §4.9 step 4)
// to know which column to hash-partition each side on. USING (col) implies
// the same column name on both sides; ON l = r may name different columns.
// ok is false when there is no JOIN clause or the condition is not a simple
// column equality.
func (s *Select) JoinKeys() (left, right string, ok bool) {
	if len(s.Joins) == 0 {
		return "", "", false
	}
	cond := s.Joins[0].Condition
	if len(cond.UsingCol) > 0 {
		return cond.UsingCol[0], cond.UsingCol[0], true
	}
	if cond.OnLeft != nil && cond.OnRight != nil {
		return cond.OnLeft.Name, cond.OnRight.Name, true
	}
	return "", "", false
}
