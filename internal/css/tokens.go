package css

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	tcss "github.com/tdewolff/parse/v2/css"
)

type token struct {
	tt   tcss.TokenType
	data string
}

// ident reports whether t is an identifier. Depending on the lexer version
// custom property names such as --brand arrive as their own token type.
func (t token) ident() bool {
	return t.tt == tcss.IdentToken || t.tt == tcss.CustomPropertyNameToken
}

func (t token) trivia() bool {
	return t.tt == tcss.WhitespaceToken || t.tt == tcss.CommentToken
}

// lex splits a stylesheet into tokens. The concatenation of all token data
// reproduces the input exactly.
func lex(src []byte) ([]token, error) {
	l := tcss.NewLexer(parse.NewInputBytes(src))
	var tokens []token
	for {
		tt, data := l.Next()
		if tt == tcss.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, fmt.Errorf("lex: %w", err)
			}
			return tokens, nil
		}
		tokens = append(tokens, token{tt: tt, data: string(data)})
	}
}

func render(tokens []token) []byte {
	var buf bytes.Buffer
	for _, t := range tokens {
		buf.WriteString(t.data)
	}
	return buf.Bytes()
}

func text(tokens []token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.data)
	}
	return sb.String()
}

// declaration is a "property: value" statement found inside a block
type declaration struct {
	Property string
	// Value is the raw value text with surrounding whitespace removed
	Value string
	// Values holds the top-level, whitespace separated components of Value
	Values []string
	// Joiner separates generated sibling declarations; it reproduces the
	// indentation of the original declaration
	Joiner string
	// Depth is the block nesting depth (1 inside a top-level rule)
	Depth int
}

// declFunc returns replacement text for a declaration, not including the
// terminating semicolon. ok=false keeps the original text.
type declFunc func(d declaration) (replacement string, ok bool, err error)

// rewriteDeclarations walks tokens and lets fn replace any declaration
func rewriteDeclarations(tokens []token, fn declFunc) ([]token, error) {
	out := make([]token, 0, len(tokens))
	depth := 0
	statementStart := true

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]

		switch t.tt {
		case tcss.LeftBraceToken:
			depth++
			statementStart = true
			out = append(out, t)
			continue
		case tcss.RightBraceToken:
			depth--
			statementStart = true
			out = append(out, t)
			continue
		case tcss.SemicolonToken:
			statementStart = true
			out = append(out, t)
			continue
		}

		if t.trivia() {
			out = append(out, t)
			continue
		}

		if !statementStart || depth == 0 || !t.ident() {
			statementStart = false
			out = append(out, t)
			continue
		}
		statementStart = false

		end, colon, ok := scanDeclaration(tokens, i)
		if !ok {
			out = append(out, t)
			continue
		}

		valueTokens := trimTrivia(tokens[colon+1 : end])
		d := declaration{
			Property: t.data,
			Value:    strings.TrimSpace(text(valueTokens)),
			Values:   splitValue(valueTokens),
			Joiner:   joinerBefore(tokens, i),
			Depth:    depth,
		}

		replacement, changed, err := fn(d)
		if err != nil {
			return nil, err
		}
		if !changed {
			out = append(out, tokens[i:end]...)
		} else {
			out = append(out, token{tt: tcss.IdentToken, data: replacement})
			// keep the whitespace that preceded a closing brace
			k := end
			for k > colon+1 && tokens[k-1].tt == tcss.WhitespaceToken {
				k--
			}
			out = append(out, tokens[k:end]...)
		}
		i = end - 1
	}

	return out, nil
}

// scanDeclaration checks whether tokens[start] begins a declaration. It
// returns the index of the terminating ';' or '}' (or len(tokens)) and the
// index of the colon.
func scanDeclaration(tokens []token, start int) (end, colon int, ok bool) {
	colon = -1
	for j := start + 1; j < len(tokens); j++ {
		if tokens[j].trivia() {
			continue
		}
		if tokens[j].tt != tcss.ColonToken {
			return 0, 0, false
		}
		colon = j
		break
	}
	if colon < 0 {
		return 0, 0, false
	}

	parens := 0
	for j := colon + 1; j < len(tokens); j++ {
		switch tokens[j].tt {
		case tcss.FunctionToken, tcss.LeftParenthesisToken, tcss.LeftBracketToken:
			parens++
		case tcss.RightParenthesisToken, tcss.RightBracketToken:
			parens--
		case tcss.LeftBraceToken:
			if parens == 0 {
				// "a:hover {" is a selector, not a declaration
				return 0, 0, false
			}
		case tcss.SemicolonToken, tcss.RightBraceToken:
			if parens <= 0 {
				return j, colon, true
			}
		}
	}
	return len(tokens), colon, true
}

func joinerBefore(tokens []token, i int) string {
	if i > 0 && tokens[i-1].tt == tcss.WhitespaceToken {
		ws := tokens[i-1].data
		if idx := strings.LastIndex(ws, "\n"); idx >= 0 {
			return "\n" + ws[idx+1:]
		}
	}
	return " "
}

func trimTrivia(tokens []token) []token {
	start, end := 0, len(tokens)
	for start < end && tokens[start].tt == tcss.WhitespaceToken {
		start++
	}
	for end > start && tokens[end-1].tt == tcss.WhitespaceToken {
		end--
	}
	return tokens[start:end]
}

// splitValue splits a value into its top-level whitespace separated parts.
// Function calls and parenthesised groups stay whole.
func splitValue(tokens []token) []string {
	var parts []string
	var cur strings.Builder
	depth := 0

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for _, t := range tokens {
		switch t.tt {
		case tcss.FunctionToken, tcss.LeftParenthesisToken, tcss.LeftBracketToken:
			depth++
		case tcss.RightParenthesisToken, tcss.RightBracketToken:
			depth--
		case tcss.WhitespaceToken:
			if depth == 0 {
				flush()
				continue
			}
		case tcss.CommentToken:
			continue
		}
		cur.WriteString(t.data)
	}
	flush()
	return parts
}

// functionCall is a call such as resolve('a.png') located in a token slice
type functionCall struct {
	Name  string
	Args  []string
	Start int
	End   int // index of the closing parenthesis
}

// findCall parses the function call beginning at tokens[i]. Arguments are
// split on top-level commas with quotes removed.
func findCall(tokens []token, i int) (functionCall, bool) {
	t := tokens[i]
	if t.tt != tcss.FunctionToken {
		return functionCall{}, false
	}
	call := functionCall{Name: strings.ToLower(strings.TrimSuffix(t.data, "(")), Start: i}

	depth := 1
	var arg strings.Builder
	for j := i + 1; j < len(tokens); j++ {
		switch tokens[j].tt {
		case tcss.FunctionToken, tcss.LeftParenthesisToken:
			depth++
		case tcss.RightParenthesisToken:
			depth--
			if depth == 0 {
				call.Args = append(call.Args, strings.TrimSpace(arg.String()))
				call.End = j
				return call, true
			}
		case tcss.CommaToken:
			if depth == 1 {
				call.Args = append(call.Args, strings.TrimSpace(arg.String()))
				arg.Reset()
				continue
			}
		case tcss.StringToken:
			if depth == 1 {
				arg.WriteString(unquote(tokens[j].data))
				continue
			}
		}
		arg.WriteString(tokens[j].data)
	}
	return functionCall{}, false
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// lineOf returns the 1-based line of the token at index i
func lineOf(tokens []token, i int) int {
	line := 1
	for _, t := range tokens[:i] {
		line += strings.Count(t.data, "\n")
	}
	return line
}
