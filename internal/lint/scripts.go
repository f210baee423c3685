package lint

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// ScriptRules lists the script rules understood by ScriptLinter
var ScriptRules = map[string]bool{
	"no-debugger":             true,
	"no-console":              true,
	"no-var":                  true,
	"eqeqeq":                  true,
	"quotes":                  true,
	"semi":                    true,
	"no-trailing-spaces":      true,
	"max-len":                 true,
	"no-multiple-empty-lines": true,
}

// ScriptLinter checks JavaScript sources
type ScriptLinter struct {
	rules RuleSet
}

// NewScriptLinter creates a linter for the given rules
func NewScriptLinter(rules RuleSet) *ScriptLinter {
	return &ScriptLinter{rules: rules}
}

// UnknownRules reports configured rules this linter cannot check
func (l *ScriptLinter) UnknownRules(configFile string) []Problem {
	return unknownRules(configFile, l.rules, ScriptRules)
}

type jsToken struct {
	tt   js.TokenType
	data string
	line int
	col  int
}

func (t jsToken) trivia() bool {
	switch t.tt {
	case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
		return true
	}
	return false
}

func (t jsToken) newline() bool {
	return t.tt == js.LineTerminatorToken || t.tt == js.CommentLineTerminatorToken
}

func (t jsToken) literal() bool {
	switch t.tt {
	case js.StringToken, js.RegExpToken, js.TemplateToken, js.TemplateStartToken,
		js.TemplateMiddleToken, js.TemplateEndToken:
		return true
	}
	return false
}

func (t jsToken) numeric() bool {
	if t.literal() || t.data == "" {
		return false
	}
	c := t.data[0]
	return c >= '0' && c <= '9' || (c == '.' && len(t.data) > 1 && t.data[1] >= '0' && t.data[1] <= '9')
}

// keyword matches reserved words without depending on their token types
func (t jsToken) keyword(word string) bool {
	return t.tt != js.IdentifierToken && !t.literal() && !t.trivia() && t.data == word
}

// endPos returns the position just after the token
func (t jsToken) endPos() (int, int) {
	if i := strings.LastIndex(t.data, "\n"); i >= 0 {
		return t.line + strings.Count(t.data, "\n"), utf8.RuneCountInString(t.data[i+1:]) + 1
	}
	return t.line, t.col + utf8.RuneCountInString(t.data)
}

// Lint checks one file. Syntax errors produce a single fatal problem.
func (l *ScriptLinter) Lint(file string, src []byte) []Problem {
	var problems []Problem
	report := func(line, col int, rule, msg string) {
		problems = append(problems, Problem{
			File:     file,
			Line:     line,
			Column:   col,
			Rule:     rule,
			Message:  msg,
			Severity: l.rules[rule].Severity,
		})
	}

	if p, ok := syntaxError(file, src); ok {
		return []Problem{p}
	}

	tokens, err := lexScript(src)
	if err != nil {
		return []Problem{{File: file, Line: 1, Column: 1, Message: "Parsing error: " + err.Error(), Severity: SeverityError, Fatal: true}}
	}

	var sig []jsToken
	for _, t := range tokens {
		if !t.trivia() {
			sig = append(sig, t)
		}
	}

	if _, ok := l.rules["no-debugger"]; ok {
		for i, t := range sig {
			if t.keyword("debugger") && !afterDot(sig, i) {
				report(t.line, t.col, "no-debugger", "Unexpected 'debugger' statement.")
			}
		}
	}

	if cfg, ok := l.rules["no-console"]; ok {
		allowed := map[string]bool{}
		if obj := cfg.ObjectOption(); obj != nil {
			if list, ok := obj["allow"].([]interface{}); ok {
				for _, a := range list {
					if s, ok := a.(string); ok {
						allowed[s] = true
					}
				}
			}
		}
		for i, t := range sig {
			if t.tt != js.IdentifierToken || t.data != "console" || afterDot(sig, i) {
				continue
			}
			if i+2 < len(sig) && sig[i+1].tt == js.DotToken && !allowed[sig[i+2].data] {
				report(t.line, t.col, "no-console", "Unexpected console statement.")
			}
		}
	}

	if _, ok := l.rules["no-var"]; ok {
		for i, t := range sig {
			if t.keyword("var") && !afterDot(sig, i) {
				report(t.line, t.col, "no-var", "Unexpected var, use let or const instead.")
			}
		}
	}

	if cfg, ok := l.rules["eqeqeq"]; ok {
		mode := cfg.StringOption(0, "always")
		ignoreNull := mode == "smart"
		if obj := cfg.ObjectOption(); obj != nil && obj["null"] == "ignore" {
			ignoreNull = true
		}
		for i, t := range sig {
			var want string
			switch t.tt {
			case js.EqEqToken:
				want = "==="
			case js.NotEqToken:
				want = "!=="
			default:
				continue
			}
			if ignoreNull && ((i > 0 && sig[i-1].data == "null") || (i+1 < len(sig) && sig[i+1].data == "null")) {
				continue
			}
			report(t.line, t.col, "eqeqeq", fmt.Sprintf("Expected '%s' and instead saw '%s'.", want, t.data))
		}
	}

	if cfg, ok := l.rules["quotes"]; ok {
		checkQuotes(sig, cfg, report)
	}

	if cfg, ok := l.rules["semi"]; ok {
		checkSemi(tokens, cfg.StringOption(0, "always"), report)
	}

	lc := lineChecker{file: file, lines: splitLines(src), report: report}

	if cfg, ok := l.rules["no-trailing-spaces"]; ok {
		skip := false
		if obj := cfg.ObjectOption(); obj != nil {
			skip, _ = obj["skipBlankLines"].(bool)
		}
		lc.trailingWhitespace("no-trailing-spaces", skip, "Trailing spaces not allowed.")
	}

	if cfg, ok := l.rules["max-len"]; ok {
		limit := cfg.IntOption(0, 80)
		if obj := cfg.ObjectOption(); obj != nil {
			if code, ok := obj["code"].(float64); ok {
				limit = int(code)
			}
		}
		for i, line := range lc.lines {
			if n := utf8.RuneCountInString(line); n > limit {
				report(i+1, 1, "max-len", fmt.Sprintf("This line has a length of %d. Maximum allowed is %d.", n, limit))
			}
		}
	}

	if cfg, ok := l.rules["no-multiple-empty-lines"]; ok {
		maxBlank := 2
		if obj := cfg.ObjectOption(); obj != nil {
			if m, ok := obj["max"].(float64); ok {
				maxBlank = int(m)
			}
		}
		lines := lc.lines
		// a trailing newline does not count as an empty line
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		blank := 0
		for i, line := range lines {
			if strings.TrimSpace(line) != "" {
				blank = 0
				continue
			}
			blank++
			if blank == maxBlank+1 {
				noun := "lines"
				if maxBlank == 1 {
					noun = "line"
				}
				report(i+1, 1, "no-multiple-empty-lines", fmt.Sprintf("More than %d blank %s not allowed.", maxBlank, noun))
			}
		}
	}

	SortProblems(problems)
	return problems
}

func syntaxError(file string, src []byte) (Problem, bool) {
	result := api.Transform(string(src), api.TransformOptions{
		Loader:     api.LoaderJS,
		Sourcefile: file,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) == 0 {
		return Problem{}, false
	}

	msg := result.Errors[0]
	p := Problem{
		File:     file,
		Line:     1,
		Column:   1,
		Message:  "Parsing error: " + msg.Text,
		Severity: SeverityError,
		Fatal:    true,
	}
	if msg.Location != nil {
		p.Line = msg.Location.Line
		p.Column = msg.Location.Column + 1
	}
	return p, true
}

// lexScript tokenizes src, deciding between division and regular
// expression literals from the previous significant token
func lexScript(src []byte) ([]jsToken, error) {
	l := js.NewLexer(parse.NewInputBytes(src))
	var tokens []jsToken
	var prev *jsToken
	line, col := 1, 1

	for {
		tt, data := l.Next()
		if tt == js.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return tokens, nil
		}
		if (tt == js.DivToken || tt == js.DivEqToken) && regexpAllowed(prev) {
			tt, data = l.RegExp()
			if tt == js.ErrorToken {
				return nil, fmt.Errorf("%d:%d: invalid regular expression", line, col)
			}
		}

		t := jsToken{tt: tt, data: string(data), line: line, col: col}
		tokens = append(tokens, t)
		if !t.trivia() {
			prev = &tokens[len(tokens)-1]
		}

		if t.tt == js.LineTerminatorToken {
			line++
			col = 1
			continue
		}
		line, col = t.endPos()
	}
}

func regexpAllowed(prev *jsToken) bool {
	if prev == nil {
		return true
	}
	switch prev.tt {
	case js.IdentifierToken, js.StringToken, js.RegExpToken, js.TemplateToken, js.TemplateEndToken,
		js.CloseParenToken, js.CloseBracketToken, js.CloseBraceToken:
		return false
	}
	if prev.numeric() {
		return false
	}
	switch prev.data {
	case "this", "super", "null", "true", "false":
		return false
	}
	return true
}

func afterDot(sig []jsToken, i int) bool {
	return i > 0 && sig[i-1].tt == js.DotToken
}

func checkQuotes(sig []jsToken, cfg RuleConfig, report func(int, int, string, string)) {
	pref := cfg.StringOption(0, "double")
	avoidEscape := false
	if obj := cfg.ObjectOption(); obj != nil {
		avoidEscape, _ = obj["avoidEscape"].(bool)
	}

	var want byte
	var name string
	switch pref {
	case "single":
		want, name = '\'', "singlequote"
	case "backtick":
		want, name = '`', "backtick"
	default:
		want, name = '"', "doublequote"
	}

	for _, t := range sig {
		if t.tt != js.StringToken || len(t.data) < 2 || t.data[0] == want {
			continue
		}
		if avoidEscape && want != '`' && strings.IndexByte(t.data[1:len(t.data)-1], want) >= 0 {
			continue
		}
		report(t.line, t.col, "quotes", fmt.Sprintf("Strings must use %s.", name))
	}
}

type braceContext struct {
	object bool
	// body is a function body opened in expression position; its closing
	// brace ends the enclosing statement
	body   bool
	parens int
}

// objectOpeners are tokens after which "{" starts an object literal
var objectOpeners = map[string]bool{
	"=": true, "(": true, ",": true, ":": true, "[": true, "?": true,
	"return": true, "||": true, "&&": true, "??": true, "+=": true,
	"default": true,
}

// functionExpression reports whether a function keyword after prev is an
// expression rather than a declaration
func functionExpression(prev string) bool {
	return prev != "default" && objectOpeners[prev]
}

// continuations are tokens that, at the start of a line, continue the
// previous statement
var continuations = map[string]bool{
	".": true, "?.": true, "(": true, "[": true, "?": true, ":": true, ",": true,
	")": true, "]": true, "{": true, "=>": true, "+": true, "-": true, "*": true,
	"/": true, "%": true, "**": true, "=": true, "==": true, "===": true, "!=": true,
	"!==": true, "<": true, ">": true, "<=": true, ">=": true, "&&": true, "||": true,
	"??": true, "&": true, "|": true, "^": true, "+=": true, "-=": true, "*=": true,
	"/=": true, "instanceof": true, "in": true, "of": true, "else": true,
	"catch": true, "finally": true,
}

var controlHeads = map[string]bool{
	"if": true, "for": true, "while": true, "with": true, "switch": true, "catch": true,
}

// checkSemi applies the semi rule. Statement ends are found heuristically:
// a line break at parenthesis depth zero inside a block, preceded by a token
// that can end an expression and followed by one that cannot continue it.
func checkSemi(tokens []jsToken, mode string, report func(int, int, string, string)) {
	stack := []*braceContext{{}}
	headEnds := map[int]bool{}
	objectEnds := map[int]bool{}
	var headStack []int
	awaitingHead := false
	lastSig := -1
	pending := false
	// funcParens is the parenthesis depth of a function expression whose
	// body has not opened yet, or -1
	funcParens := -1

	nextSig := func(i int) int {
		for j := i + 1; j < len(tokens); j++ {
			if !tokens[j].trivia() {
				return j
			}
		}
		return -1
	}

	endsStatement := func(i int) bool {
		t := tokens[i]
		if headEnds[i] {
			return false
		}
		if objectEnds[i] {
			return true
		}
		switch t.tt {
		case js.IdentifierToken, js.StringToken, js.RegExpToken, js.TemplateToken, js.TemplateEndToken,
			js.CloseParenToken, js.CloseBracketToken:
			return true
		}
		if t.numeric() {
			return true
		}
		switch t.data {
		case "this", "super", "null", "true", "false", "undefined", "break", "continue", "return", "debugger", "++", "--":
			return true
		}
		return false
	}

	continues := func(j int, top *braceContext) bool {
		if j < 0 {
			return false
		}
		if tokens[j].tt == js.CloseBraceToken {
			return top.object
		}
		return continuations[tokens[j].data]
	}

	checkBoundary := func(boundary int) {
		top := stack[len(stack)-1]
		if mode == "never" || top.object || top.parens > 0 || lastSig < 0 {
			return
		}
		if !endsStatement(lastSig) {
			return
		}
		next := nextSig(boundary)
		if continues(next, top) {
			return
		}
		line, col := tokens[lastSig].endPos()
		report(line, col, "semi", "Missing semicolon.")
	}

	for i, t := range tokens {
		if t.newline() {
			// only the first line break after a token matters
			if pending {
				checkBoundary(i)
				pending = false
			}
			continue
		}
		if t.trivia() {
			continue
		}

		top := stack[len(stack)-1]
		switch t.tt {
		case js.OpenBraceToken:
			object := lastSig >= 0 && objectOpeners[tokens[lastSig].data]
			body := lastSig >= 0 && tokens[lastSig].data == "=>"
			if funcParens >= 0 && funcParens == top.parens {
				body = true
				funcParens = -1
			}
			stack = append(stack, &braceContext{object: object, body: body})
		case js.CloseBraceToken:
			// a statement directly before "}" still needs its semicolon
			if mode != "never" && !top.object && top.parens == 0 && lastSig >= 0 &&
				tokens[lastSig].tt != js.SemicolonToken && tokens[lastSig].tt != js.OpenBraceToken &&
				tokens[lastSig].tt != js.CloseBraceToken && endsStatement(lastSig) && !lineBreakBetween(tokens, lastSig, i) {
				line, col := tokens[lastSig].endPos()
				report(line, col, "semi", "Missing semicolon.")
			}
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			if top.object || top.body {
				objectEnds[i] = true
			}
		case js.OpenParenToken, js.OpenBracketToken:
			top.parens++
			if t.tt == js.OpenParenToken && awaitingHead {
				headStack = append(headStack, top.parens)
				awaitingHead = false
			}
		case js.CloseParenToken, js.CloseBracketToken:
			if t.tt == js.CloseParenToken && len(headStack) > 0 && headStack[len(headStack)-1] == top.parens {
				headEnds[i] = true
				headStack = headStack[:len(headStack)-1]
			}
			top.parens--
		case js.SemicolonToken:
			if mode == "never" && !top.object && top.parens == 0 {
				next := nextSig(i)
				if next < 0 || tokens[next].tt == js.CloseBraceToken || lineBreakBetween(tokens, i, next) {
					if next < 0 || !continuations[tokens[next].data] {
						report(t.line, t.col, "semi", "Extra semicolon.")
					}
				}
			}
		default:
			if !t.literal() && controlHeads[t.data] && t.tt != js.IdentifierToken {
				awaitingHead = true
			}
			if t.data == "function" && t.tt != js.IdentifierToken && lastSig >= 0 && functionExpression(tokens[lastSig].data) {
				funcParens = top.parens
			}
		}
		lastSig = i
		pending = true
	}

	if pending {
		checkBoundary(len(tokens))
	}
}

func lineBreakBetween(tokens []jsToken, a, b int) bool {
	for k := a + 1; k < b; k++ {
		if tokens[k].newline() {
			return true
		}
	}
	return false
}
