package sqlfed

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// lexer rules follow the teacher's pkg/query/parser.go lexer.MustSimple
// shape exactly (Ident/Number/String/Punct/Whitespace), with Punct widened
// to also tokenize "*" and "." on their own so they can appear as
// standalone grammar terminals (SELECT *, a.b).
var swarmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Number", Pattern: `[-+]?\d*\.?\d+`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Punct", Pattern: `<>|<=|>=|!=|[*.,()=<>!]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[Statement](
	participle.Lexer(swarmLexer),
	participle.Unquote("String"),
	participle.CaseInsensitive("Ident"),
	participle.Elide("Whitespace"),
)

// Parse parses a federated SELECT statement.
func Parse(sql string) (*Statement, error) {
	return parser.ParseString("", sql)
}
