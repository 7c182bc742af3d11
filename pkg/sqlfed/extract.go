package sqlfed

import (
	"fmt"
	"regexp"
	"strings"
)

// ExtractTableName extracts the first table name from the FROM clause of a
// SQL SELECT, grounded on the Rust original's extract_table_name /
// extract_table_from_query / extract_table_from_factor walk
// (plugins/db/src/coordinator.rs). It works at the token level rather than
// requiring a full parse, so it tolerates constructs the fabric's own
// grammar (sqlfed.Parse) does not model, such as derived tables.
//
// Supported forms: "FROM t", "FROM schema.t", "FROM t AS alias"/"FROM t alias",
// "FROM t JOIN ...", "FROM (SELECT ... FROM t) AS sub".
func ExtractTableName(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", fmt.Errorf("invalid input: empty sql statement")
	}
	if !reSelect.MatchString(trimmed) {
		return "", fmt.Errorf("invalid input: only SELECT queries are supported for distributed execution")
	}

	loc := reFrom.FindStringIndex(trimmed)
	if loc == nil {
		return "", fmt.Errorf("not found: no table found in FROM clause")
	}
	rest := strings.TrimSpace(trimmed[loc[1]:])

	if strings.HasPrefix(rest, "(") {
		depth := 0
		for i, r := range rest {
			switch r {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					inner := rest[1:i]
					return ExtractTableName(inner)
				}
			}
		}
		return "", fmt.Errorf("invalid input: unbalanced parentheses in derived table")
	}

	m := reTableToken.FindStringSubmatch(rest)
	if m == nil {
		return "", fmt.Errorf("not found: no table found in FROM clause")
	}
	name := m[1]
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return name, nil
}

var (
	reSelect     = regexp.MustCompile(`(?i)^\s*SELECT\b`)
	reFrom       = regexp.MustCompile(`(?i)\bFROM\s+`)
	reTableToken = regexp.MustCompile(`^([a-zA-Z_][\w.]*)`)
)
