package css

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tcss "github.com/tdewolff/parse/v2/css"

	"github.com/poltergeist/haunt/pkg/types"
)

const maxVarDepth = 16

// PresetEnv implements the custom properties and custom media parts of
// postcss-preset-env. Definitions come from the importFrom files and from
// the stylesheet itself:
//
//	:root { --brand: #c00; }
//	@custom-media --small (max-width: 30em);
//
// Declarations using a resolvable var() gain a static fallback declared
// just before them, "@media (--small)" is replaced by its query and the
// @custom-media rules are removed.
type PresetEnv struct {
	root       string
	importFrom []string
}

// NewPresetEnv creates the plugin
func NewPresetEnv(root string, cfg types.PresetEnvConfig) *PresetEnv {
	return &PresetEnv{root: root, importFrom: cfg.ImportFrom}
}

// Name implements Plugin
func (p *PresetEnv) Name() string { return "preset-env" }

type definitions struct {
	props map[string]string
	media map[string]string
}

func newDefinitions() *definitions {
	return &definitions{props: map[string]string{}, media: map[string]string{}}
}

// Process implements Plugin
func (p *PresetEnv) Process(file string, src []byte) ([]byte, error) {
	defs := newDefinitions()
	for _, f := range p.importFrom {
		data, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(f)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("importFrom %s: %w", f, err)
		}
		imported, err := lex(data)
		if err != nil {
			return nil, fmt.Errorf("importFrom %s: %w", f, err)
		}
		collectDefinitions(imported, defs)
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	collectDefinitions(tokens, defs)

	tokens = removeCustomMedia(tokens)
	tokens = replaceCustomMedia(tokens, defs.media)

	out, err := rewriteDeclarations(tokens, func(d declaration) (string, bool, error) {
		if strings.HasPrefix(d.Property, "--") || !strings.Contains(d.Value, "var(") {
			return "", false, nil
		}
		resolved, ok := resolveVars(d.Value, defs.props, 0)
		if !ok || resolved == d.Value {
			return "", false, nil
		}
		return d.Property + ": " + resolved + ";" + d.Joiner + d.Property + ": " + d.Value, true, nil
	})
	if err != nil {
		return nil, err
	}
	return render(out), nil
}

// collectDefinitions records custom properties declared directly inside
// :root rules and every @custom-media rule
func collectDefinitions(tokens []token, defs *definitions) {
	depth := 0
	pendingRoot := false
	rootDepth := -1

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.tt {
		case tcss.LeftBraceToken:
			depth++
			if pendingRoot {
				rootDepth = depth
				pendingRoot = false
			}
		case tcss.RightBraceToken:
			if depth == rootDepth {
				rootDepth = -1
			}
			depth--
			pendingRoot = false
		case tcss.SemicolonToken:
			pendingRoot = false
		case tcss.ColonToken:
			if depth == 0 && i+1 < len(tokens) && tokens[i+1].tt == tcss.IdentToken &&
				strings.EqualFold(tokens[i+1].data, "root") {
				pendingRoot = true
			}
		case tcss.AtKeywordToken:
			if strings.EqualFold(t.data, "@custom-media") {
				name, query, end := parseCustomMedia(tokens, i)
				if name != "" {
					defs.media[name] = query
				}
				i = end
			}
		case tcss.IdentToken, tcss.CustomPropertyNameToken:
			if depth == rootDepth && strings.HasPrefix(t.data, "--") {
				if end, colon, ok := scanDeclaration(tokens, i); ok {
					defs.props[t.data] = strings.TrimSpace(text(tokens[colon+1 : end]))
					i = end - 1
				}
			}
		}
	}
}

// parseCustomMedia reads "@custom-media --name query;" starting at i and
// returns the index of the terminating semicolon
func parseCustomMedia(tokens []token, i int) (name, query string, end int) {
	j := i + 1
	for j < len(tokens) && tokens[j].trivia() {
		j++
	}
	if j >= len(tokens) || !tokens[j].ident() {
		return "", "", i
	}
	name = tokens[j].data

	var q strings.Builder
	for j++; j < len(tokens); j++ {
		if tokens[j].tt == tcss.SemicolonToken {
			break
		}
		q.WriteString(tokens[j].data)
	}
	return name, strings.TrimSpace(q.String()), j
}

func removeCustomMedia(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.tt == tcss.AtKeywordToken && strings.EqualFold(t.data, "@custom-media") {
			_, _, end := parseCustomMedia(tokens, i)
			i = end
			// swallow the line break that followed the rule
			if i+1 < len(tokens) && tokens[i+1].tt == tcss.WhitespaceToken && strings.Contains(tokens[i+1].data, "\n") {
				i++
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// replaceCustomMedia substitutes "(--name)" in @media preludes
func replaceCustomMedia(tokens []token, media map[string]string) []token {
	if len(media) == 0 {
		return tokens
	}

	out := make([]token, 0, len(tokens))
	inPrelude := false
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t.tt == tcss.AtKeywordToken && strings.EqualFold(t.data, "@media"):
			inPrelude = true
		case t.tt == tcss.LeftBraceToken || t.tt == tcss.SemicolonToken:
			inPrelude = false
		case inPrelude && t.tt == tcss.LeftParenthesisToken:
			j := i + 1
			for j < len(tokens) && tokens[j].trivia() {
				j++
			}
			if j < len(tokens) && tokens[j].ident() {
				if query, ok := media[tokens[j].data]; ok {
					k := j + 1
					for k < len(tokens) && tokens[k].trivia() {
						k++
					}
					if k < len(tokens) && tokens[k].tt == tcss.RightParenthesisToken {
						out = append(out, token{tt: tcss.IdentToken, data: query})
						i = k
						continue
					}
				}
			}
		}
		out = append(out, t)
	}
	return out
}

// resolveVars replaces every var(--name[, fallback]) in value. ok is false
// when some variable has neither a definition nor a fallback.
func resolveVars(value string, props map[string]string, depth int) (string, bool) {
	if depth > maxVarDepth {
		return "", false
	}

	var sb strings.Builder
	rest := value
	for {
		idx := indexVar(rest)
		if idx < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:idx])

		open := idx + len("var(")
		closeIdx := matchParen(rest, open)
		if closeIdx < 0 {
			return "", false
		}

		name, fallback, hasFallback := splitVarArgs(rest[open:closeIdx])
		var replacement string
		if v, ok := props[name]; ok {
			replacement = v
		} else if hasFallback {
			replacement = fallback
		} else {
			return "", false
		}

		resolved, ok := resolveVars(replacement, props, depth+1)
		if !ok {
			return "", false
		}
		sb.WriteString(resolved)
		rest = rest[closeIdx+1:]
	}
	return sb.String(), true
}

// indexVar finds "var(" not preceded by an identifier character
func indexVar(s string) int {
	offset := 0
	for {
		idx := strings.Index(strings.ToLower(s[offset:]), "var(")
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		if abs == 0 || !isIdentByte(s[abs-1]) {
			return abs
		}
		offset = abs + 4
	}
}

func isIdentByte(c byte) bool {
	return c == '-' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// matchParen returns the index of the parenthesis closing the group that
// starts right before s[start]
func matchParen(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitVarArgs(args string) (name, fallback string, hasFallback bool) {
	depth := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+1:]), true
			}
		}
	}
	return strings.TrimSpace(args), "", false
}
