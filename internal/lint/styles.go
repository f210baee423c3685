package lint

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	tcss "github.com/tdewolff/parse/v2/css"
)

// StyleRules lists the stylesheet rules understood by StyleLinter
var StyleRules = map[string]bool{
	"color-no-invalid-hex":                      true,
	"color-hex-case":                            true,
	"block-no-empty":                            true,
	"declaration-block-no-duplicate-properties": true,
	"unit-no-unknown":                           true,
	"comment-no-empty":                          true,
	"max-nesting-depth":                         true,
	"no-eol-whitespace":                         true,
}

var knownUnits = map[string]bool{
	"px": true, "em": true, "rem": true, "ex": true, "ch": true, "lh": true, "rlh": true,
	"vw": true, "vh": true, "vmin": true, "vmax": true, "vb": true, "vi": true,
	"svw": true, "svh": true, "lvw": true, "lvh": true, "dvw": true, "dvh": true,
	"cqw": true, "cqh": true, "cqi": true, "cqb": true, "cqmin": true, "cqmax": true,
	"cm": true, "mm": true, "q": true, "in": true, "pt": true, "pc": true,
	"deg": true, "grad": true, "rad": true, "turn": true,
	"s": true, "ms": true, "hz": true, "khz": true,
	"dpi": true, "dpcm": true, "dppx": true, "x": true, "fr": true,
}

// StyleLinter checks stylesheets
type StyleLinter struct {
	rules RuleSet
}

// NewStyleLinter creates a linter for the given rules
func NewStyleLinter(rules RuleSet) *StyleLinter {
	return &StyleLinter{rules: rules}
}

// UnknownRules reports configured rules this linter cannot check
func (l *StyleLinter) UnknownRules(configFile string) []Problem {
	return unknownRules(configFile, l.rules, StyleRules)
}

type cssToken struct {
	tt   tcss.TokenType
	data string
	line int
	col  int
}

func (t cssToken) trivia() bool {
	return t.tt == tcss.WhitespaceToken || t.tt == tcss.CommentToken
}

func lexStyles(src []byte) ([]cssToken, error) {
	l := tcss.NewLexer(parse.NewInputBytes(src))
	var tokens []cssToken
	line, col := 1, 1
	for {
		tt, data := l.Next()
		if tt == tcss.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return tokens, nil
		}
		s := string(data)
		tokens = append(tokens, cssToken{tt: tt, data: s, line: line, col: col})
		if i := strings.LastIndex(s, "\n"); i >= 0 {
			line += strings.Count(s, "\n")
			col = utf8.RuneCountInString(s[i+1:]) + 1
		} else {
			col += utf8.RuneCountInString(s)
		}
	}
}

type styleBlock struct {
	props   map[string]bool
	counted bool
	open    cssToken
}

// Lint checks one stylesheet. Messages carry the rule name in parentheses.
func (l *StyleLinter) Lint(file string, src []byte) []Problem {
	var problems []Problem
	report := func(line, col int, rule, msg string) {
		problems = append(problems, Problem{
			File:     file,
			Line:     line,
			Column:   col,
			Rule:     rule,
			Message:  fmt.Sprintf("%s (%s)", msg, rule),
			Severity: l.rules[rule].Severity,
		})
	}
	fatal := func(t cssToken, msg string) []Problem {
		return []Problem{{
			File:     file,
			Line:     t.line,
			Column:   t.col,
			Message:  msg + " (CssSyntaxError)",
			Severity: SeverityError,
			Fatal:    true,
		}}
	}
	enabled := func(rule string) bool {
		_, ok := l.rules[rule]
		return ok
	}

	tokens, err := lexStyles(src)
	if err != nil {
		return []Problem{{File: file, Line: 1, Column: 1, Message: err.Error() + " (CssSyntaxError)", Severity: SeverityError, Fatal: true}}
	}

	maxDepth := -1
	if cfg, ok := l.rules["max-nesting-depth"]; ok {
		maxDepth = cfg.IntOption(0, 0)
	}
	hexCase := ""
	if cfg, ok := l.rules["color-hex-case"]; ok {
		hexCase = cfg.StringOption(0, "lower")
	}

	checkDeclaration := func(stmt []cssToken, block *styleBlock) {
		i := 0
		for i < len(stmt) && stmt[i].trivia() {
			i++
		}
		if i >= len(stmt) || (stmt[i].tt != tcss.IdentToken && stmt[i].tt != tcss.CustomPropertyNameToken) {
			return
		}
		prop := stmt[i]
		j := i + 1
		for j < len(stmt) && stmt[j].trivia() {
			j++
		}
		if j >= len(stmt) || stmt[j].tt != tcss.ColonToken {
			return
		}

		name := prop.data
		if !strings.HasPrefix(name, "--") {
			name = strings.ToLower(name)
		}
		if enabled("declaration-block-no-duplicate-properties") {
			if block.props[name] {
				report(prop.line, prop.col, "declaration-block-no-duplicate-properties", fmt.Sprintf("Unexpected duplicate %q", name))
			}
			block.props[name] = true
		}

		for _, t := range stmt[j+1:] {
			switch t.tt {
			case tcss.HashToken:
				if !validHex(t.data) {
					if enabled("color-no-invalid-hex") {
						report(t.line, t.col, "color-no-invalid-hex", fmt.Sprintf("Unexpected invalid hex color %q", t.data))
					}
					continue
				}
				want := t.data
				switch hexCase {
				case "lower":
					want = strings.ToLower(t.data)
				case "upper":
					want = strings.ToUpper(t.data)
				}
				if want != t.data {
					report(t.line, t.col, "color-hex-case", fmt.Sprintf("Expected %q to be %q", t.data, want))
				}
			case tcss.DimensionToken:
				if unit := dimensionUnit(t.data); enabled("unit-no-unknown") && !knownUnits[strings.ToLower(unit)] {
					report(t.line, t.col, "unit-no-unknown", fmt.Sprintf("Unexpected unknown unit %q", unit))
				}
			}
		}
	}

	var blocks []*styleBlock
	stmtStart := 0
	for i, t := range tokens {
		switch t.tt {
		case tcss.CommentToken:
			if enabled("comment-no-empty") && strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t.data, "/*"), "*/")) == "" {
				report(t.line, t.col, "comment-no-empty", "Unexpected empty comment")
			}
		case tcss.LeftBraceToken:
			stmt := tokens[stmtStart:i]
			first := t
			for _, s := range stmt {
				if !s.trivia() {
					first = s
					break
				}
			}
			atRule := first.tt == tcss.AtKeywordToken

			depth := 0
			for _, b := range blocks {
				if b.counted {
					depth++
				}
			}
			if maxDepth >= 0 && depth > maxDepth {
				report(first.line, first.col, "max-nesting-depth", fmt.Sprintf("Expected nesting depth to be no more than %d", maxDepth))
			}

			if enabled("block-no-empty") {
				k := i + 1
				for k < len(tokens) && tokens[k].tt == tcss.WhitespaceToken {
					k++
				}
				if k < len(tokens) && tokens[k].tt == tcss.RightBraceToken {
					report(t.line, t.col, "block-no-empty", "Unexpected empty block")
				}
			}

			// root-level at-rules do not count towards nesting depth
			blocks = append(blocks, &styleBlock{
				props:   map[string]bool{},
				counted: !(atRule && len(blocks) == 0),
				open:    t,
			})
			stmtStart = i + 1
		case tcss.RightBraceToken:
			if len(blocks) == 0 {
				return fatal(t, "Unexpected }")
			}
			checkDeclaration(tokens[stmtStart:i], blocks[len(blocks)-1])
			blocks = blocks[:len(blocks)-1]
			stmtStart = i + 1
		case tcss.SemicolonToken:
			if len(blocks) > 0 {
				checkDeclaration(tokens[stmtStart:i], blocks[len(blocks)-1])
			}
			stmtStart = i + 1
		}
	}
	if len(blocks) > 0 {
		return fatal(blocks[len(blocks)-1].open, "Unclosed block")
	}

	if enabled("no-eol-whitespace") {
		lc := lineChecker{file: file, lines: splitLines(src), report: report}
		lc.trailingWhitespace("no-eol-whitespace", false, "Unexpected whitespace at end of line")
	}

	SortProblems(problems)
	return problems
}

func validHex(hash string) bool {
	hex := strings.TrimPrefix(hash, "#")
	switch len(hex) {
	case 3, 4, 6, 8:
	default:
		return false
	}
	for _, c := range hex {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// dimensionUnit strips the numeric part of a dimension such as "1.5e2px"
func dimensionUnit(dim string) string {
	i := 0
	if i < len(dim) && (dim[i] == '+' || dim[i] == '-') {
		i++
	}
	for i < len(dim) && (dim[i] >= '0' && dim[i] <= '9' || dim[i] == '.') {
		i++
	}
	if i+1 < len(dim) && (dim[i] == 'e' || dim[i] == 'E') {
		j := i + 1
		if dim[j] == '+' || dim[j] == '-' {
			j++
		}
		if j < len(dim) && dim[j] >= '0' && dim[j] <= '9' {
			i = j
			for i < len(dim) && dim[i] >= '0' && dim[i] <= '9' {
				i++
			}
		}
	}
	return dim[i:]
}
