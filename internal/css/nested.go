package css

import (
	"fmt"
	"strings"

	tcss "github.com/tdewolff/parse/v2/css"
)

// bubbling at-rules are moved out of a rule and wrap a copy of the parent
// selector; every other block at-rule is emitted untouched
var bubbling = map[string]bool{
	"media":          true,
	"supports":       true,
	"container":      true,
	"layer":          true,
	"document":       true,
	"starting-style": true,
}

// Nested unwraps nested rules into flat ones:
//
//	.a { color: red; .b { color: blue } }  -> .a { color: red } .a .b { color: blue }
//	.block { &__el { margin: 0 } }         -> .block__el { margin: 0 }
//	.a { @media print { display: none } }  -> @media print { .a { display: none } }
//
// Stylesheets without nesting are returned unchanged.
type Nested struct{}

// Name implements Plugin
func (Nested) Name() string { return "nested" }

// Process implements Plugin
func (Nested) Process(_ string, src []byte) ([]byte, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &nestParser{tokens: tokens}
	nodes, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.i < len(tokens) {
		return nil, fmt.Errorf("unexpected } at line %d", lineOf(tokens, p.i))
	}
	if !hasNesting(nodes, false) {
		return src, nil
	}

	var w nestWriter
	w.nodes(nodes, "")
	return []byte(w.String()), nil
}

type nodeKind int

const (
	declNode nodeKind = iota
	commentNode
	ruleNode
	atRuleNode
	rawNode
)

type cssNode struct {
	kind nodeKind
	// text is the declaration, comment, raw at-rule or at-rule prelude
	text      string
	selectors []string
	children  []*cssNode
}

type nestParser struct {
	tokens []token
	i      int
}

// block parses statements up to the closing brace of the current block,
// which it leaves unconsumed
func (p *nestParser) block() ([]*cssNode, error) {
	var nodes []*cssNode
	for p.i < len(p.tokens) {
		t := p.tokens[p.i]
		switch t.tt {
		case tcss.WhitespaceToken, tcss.SemicolonToken:
			p.i++
		case tcss.CommentToken:
			nodes = append(nodes, &cssNode{kind: commentNode, text: t.data})
			p.i++
		case tcss.RightBraceToken:
			return nodes, nil
		default:
			n, err := p.statement()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (p *nestParser) statement() (*cssNode, error) {
	start := p.i
	end := p.statementEnd(start)
	atRule := p.tokens[start].tt == tcss.AtKeywordToken

	if end == len(p.tokens) || p.tokens[end].tt != tcss.LeftBraceToken {
		p.i = end
		return &cssNode{kind: declNode, text: strings.TrimSpace(text(p.tokens[start:end]))}, nil
	}

	if atRule && !bubbling[strings.ToLower(strings.TrimPrefix(p.tokens[start].data, "@"))] {
		last, err := p.matchingBrace(end)
		if err != nil {
			return nil, err
		}
		p.i = last + 1
		return &cssNode{kind: rawNode, text: text(p.tokens[start:p.i])}, nil
	}

	p.i = end + 1
	children, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.i >= len(p.tokens) {
		return nil, fmt.Errorf("unclosed block at line %d", lineOf(p.tokens, start))
	}
	p.i++

	if atRule {
		return &cssNode{kind: atRuleNode, text: collapse(p.tokens[start:end]), children: children}, nil
	}
	return &cssNode{kind: ruleNode, selectors: splitSelectors(p.tokens[start:end]), children: children}, nil
}

// statementEnd returns the index of the ';', '{' or '}' ending the statement
// that starts at start, or len(tokens)
func (p *nestParser) statementEnd(start int) int {
	parens := 0
	for j := start; j < len(p.tokens); j++ {
		switch p.tokens[j].tt {
		case tcss.FunctionToken, tcss.LeftParenthesisToken, tcss.LeftBracketToken:
			parens++
		case tcss.RightParenthesisToken, tcss.RightBracketToken:
			parens--
		case tcss.SemicolonToken, tcss.LeftBraceToken, tcss.RightBraceToken:
			if parens <= 0 {
				return j
			}
		}
	}
	return len(p.tokens)
}

func (p *nestParser) matchingBrace(open int) (int, error) {
	depth := 0
	for j := open; j < len(p.tokens); j++ {
		switch p.tokens[j].tt {
		case tcss.LeftBraceToken:
			depth++
		case tcss.RightBraceToken:
			depth--
			if depth == 0 {
				return j, nil
			}
		}
	}
	return 0, fmt.Errorf("unclosed block at line %d", lineOf(p.tokens, open))
}

// hasNesting reports whether any rule contains a rule or a bubbling at-rule
func hasNesting(nodes []*cssNode, inRule bool) bool {
	for _, n := range nodes {
		switch n.kind {
		case ruleNode:
			if inRule || hasNesting(n.children, true) {
				return true
			}
		case atRuleNode:
			if inRule || hasNesting(n.children, false) {
				return true
			}
		}
	}
	return false
}

// collapse renders tokens with whitespace runs reduced to one space and
// comments dropped
func collapse(tokens []token) string {
	var sb strings.Builder
	space := false
	for _, t := range tokens {
		if t.trivia() {
			space = sb.Len() > 0
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteString(t.data)
	}
	return sb.String()
}

// splitSelectors splits a selector list on top-level commas
func splitSelectors(tokens []token) []string {
	var selectors []string
	depth, from := 0, 0
	for j, t := range tokens {
		switch t.tt {
		case tcss.FunctionToken, tcss.LeftParenthesisToken, tcss.LeftBracketToken:
			depth++
		case tcss.RightParenthesisToken, tcss.RightBracketToken:
			depth--
		case tcss.CommaToken:
			if depth == 0 {
				selectors = append(selectors, collapse(tokens[from:j]))
				from = j + 1
			}
		}
	}
	return append(selectors, collapse(tokens[from:]))
}

// resolveSelectors combines every parent with every child. A child holding
// "&" has it replaced by the parent; any other child becomes a descendant.
func resolveSelectors(parents, children []string) []string {
	out := make([]string, 0, len(parents)*len(children))
	for _, p := range parents {
		for _, c := range children {
			if strings.Contains(c, "&") {
				out = append(out, strings.ReplaceAll(c, "&", p))
			} else {
				out = append(out, p+" "+c)
			}
		}
	}
	return out
}

type nestWriter struct {
	strings.Builder
}

func (w *nestWriter) line(indent, s string) {
	w.WriteString(indent)
	w.WriteString(s)
	w.WriteByte('\n')
}

// nodes writes statements outside of any rule
func (w *nestWriter) nodes(nodes []*cssNode, indent string) {
	for _, n := range nodes {
		switch n.kind {
		case commentNode, rawNode:
			w.line(indent, n.text)
		case declNode:
			w.line(indent, n.text+";")
		case ruleNode:
			w.rule(n.selectors, n.children, indent)
		case atRuleNode:
			w.line(indent, n.text+" {")
			w.nodes(n.children, indent+"  ")
			w.line(indent, "}")
		}
	}
}

// rule writes a rule's own declarations under selectors, followed by its
// nested rules and at-rules
func (w *nestWriter) rule(selectors []string, body []*cssNode, indent string) {
	var own []*cssNode
	nested := false
	for _, n := range body {
		switch n.kind {
		case declNode, commentNode:
			own = append(own, n)
		default:
			nested = true
		}
	}

	if len(own) > 0 || !nested {
		w.line(indent, strings.Join(selectors, ", ")+" {")
		for _, n := range own {
			if n.kind == declNode {
				w.line(indent+"  ", n.text+";")
			} else {
				w.line(indent+"  ", n.text)
			}
		}
		w.line(indent, "}")
	}

	for _, n := range body {
		switch n.kind {
		case ruleNode:
			w.rule(resolveSelectors(selectors, n.selectors), n.children, indent)
		case atRuleNode:
			w.line(indent, n.text+" {")
			w.rule(selectors, n.children, indent+"  ")
			w.line(indent, "}")
		case rawNode:
			w.line(indent, n.text)
		}
	}
}
