package lint

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finding struct {
	Line int
	Col  int
	Rule string
}

func findings(problems []Problem) []finding {
	out := make([]finding, len(problems))
	for i, p := range problems {
		out[i] = finding{p.Line, p.Column, p.Rule}
	}
	return out
}

func TestParseESLintConfig(t *testing.T) {
	rules, err := ParseESLintConfig([]byte(`{
		"rules": {
			"semi": ["error", "always"],
			"no-console": "warn",
			"no-var": 2,
			"eqeqeq": 0,
			"quotes": ["off", "single"]
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"no-console", "no-var", "semi"}, rules.Names())
	assert.Equal(t, SeverityError, rules["semi"].Severity)
	assert.Equal(t, "always", rules["semi"].StringOption(0, ""))
	assert.Equal(t, SeverityWarning, rules["no-console"].Severity)

	_, err = ParseESLintConfig([]byte(`{"rules": {"semi": "loud"}}`))
	assert.Error(t, err)
}

func TestParseStylelintConfig(t *testing.T) {
	rules, err := ParseStylelintConfig([]byte(`{
		"defaultSeverity": "warning",
		"rules": {
			"block-no-empty": true,
			"color-hex-case": ["upper", {"severity": "error"}],
			"max-nesting-depth": 3,
			"comment-no-empty": null,
			"unit-no-unknown": false
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"block-no-empty", "color-hex-case", "max-nesting-depth"}, rules.Names())
	assert.Equal(t, SeverityWarning, rules["block-no-empty"].Severity)
	assert.Equal(t, SeverityError, rules["color-hex-case"].Severity)
	assert.Equal(t, "upper", rules["color-hex-case"].StringOption(0, ""))
	assert.Equal(t, 3, rules["max-nesting-depth"].IntOption(0, 0))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	rules, found, err := LoadRules(filepath.Join(dir, ".eslintrc.json"), ParseESLintConfig)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, rules)

	path := filepath.Join(dir, ".eslintrc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rules":{"semi":"error"}}`), 0644))
	rules, found, err = LoadRules(path, ParseESLintConfig)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, rules, "semi")

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	_, _, err = LoadRules(path, ParseESLintConfig)
	assert.Error(t, err)
}

func mustESLint(t *testing.T, doc string) RuleSet {
	t.Helper()
	rules, err := ParseESLintConfig([]byte(doc))
	require.NoError(t, err)
	return rules
}

func TestScriptLinter(t *testing.T) {
	rules := mustESLint(t, `{"rules": {
		"no-var": "error",
		"no-console": "warn",
		"no-debugger": 2,
		"eqeqeq": ["error", "always"],
		"quotes": ["error", "single"],
		"semi": ["error", "always"]
	}}`)
	src := "var a = 1\nconsole.log(a);\ndebugger;\nif (a == 2) { a = \"x\"; }\n"

	problems := NewScriptLinter(rules).Lint("src/js/main.js", []byte(src))
	assert.Equal(t, []finding{
		{1, 1, "no-var"},
		{1, 10, "semi"},
		{2, 1, "no-console"},
		{3, 1, "no-debugger"},
		{4, 7, "eqeqeq"},
		{4, 19, "quotes"},
	}, findings(problems))

	assert.Equal(t, SeverityWarning, problems[2].Severity)
	assert.Equal(t, "Missing semicolon.", problems[1].Message)
	assert.Equal(t, "Expected '===' and instead saw '=='.", problems[4].Message)
	assert.Equal(t, "Strings must use singlequote.", problems[5].Message)
}

func TestScriptLinter_Semi(t *testing.T) {
	always := mustESLint(t, `{"rules": {"semi": ["error", "always"]}}`)
	never := mustESLint(t, `{"rules": {"semi": ["error", "never"]}}`)

	tests := []struct {
		name  string
		rules RuleSet
		src   string
		want  []finding
	}{
		{
			name:  "terminated statements",
			rules: always,
			src:   "const a = 1;\nfunction f(x) {\n  return x * 2;\n}\nif (a) {\n  f(a);\n}\n",
			want:  []finding{},
		},
		{
			name:  "object literal needs semicolon after closing brace",
			rules: always,
			src:   "const o = {\n  a: 1,\n  b: 2\n}\n",
			want:  []finding{{4, 2, "semi"}},
		},
		{
			name:  "return inside block",
			rules: always,
			src:   "function f() {\n  return 1\n}\n",
			want:  []finding{{2, 11, "semi"}},
		},
		{
			name:  "chained call across lines",
			rules: always,
			src:   "foo()\n  .bar();\n",
			want:  []finding{},
		},
		{
			name:  "missing at end of file",
			rules: always,
			src:   "let x = 2",
			want:  []finding{{1, 10, "semi"}},
		},
		{
			name:  "assigned function expression",
			rules: always,
			src:   "const f = function () {\n  return 1;\n}\nf();\n",
			want:  []finding{{3, 2, "semi"}},
		},
		{
			name:  "assigned arrow body",
			rules: always,
			src:   "const g = () => {\n  return 1;\n}\n",
			want:  []finding{{3, 2, "semi"}},
		},
		{
			name:  "terminated function expression and callback",
			rules: always,
			src:   "const f = function () {\n  return 1;\n};\nlist.forEach((x) => {\n  use(x);\n});\n",
			want:  []finding{},
		},
		{
			name:  "export default object",
			rules: always,
			src:   "export default {\n  a: 1\n};\n",
			want:  []finding{},
		},
		{
			name:  "export default function declaration",
			rules: always,
			src:   "export default function () {\n  return 1;\n}\n",
			want:  []finding{},
		},
		{
			name:  "never reports extra semicolons",
			rules: never,
			src:   "let a = 1;\nfor (let i = 0; i < 2; i++) {}\n",
			want:  []finding{{1, 10, "semi"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := NewScriptLinter(tt.rules).Lint("a.js", []byte(tt.src))
			assert.Equal(t, tt.want, findings(problems))
		})
	}
}

func TestScriptLinter_LineRules(t *testing.T) {
	rules := mustESLint(t, `{"rules": {
		"no-trailing-spaces": "error",
		"max-len": ["warn", {"code": 20}],
		"no-multiple-empty-lines": ["error", {"max": 1}]
	}}`)
	src := "let a = 1; \n\n\nlet veryLongName = 'abcdefghij';\n"

	problems := NewScriptLinter(rules).Lint("a.js", []byte(src))
	assert.Equal(t, []finding{
		{1, 11, "no-trailing-spaces"},
		{3, 1, "no-multiple-empty-lines"},
		{4, 1, "max-len"},
	}, findings(problems))
	assert.Equal(t, "More than 1 blank line not allowed.", problems[1].Message)
	assert.Equal(t, "This line has a length of 32. Maximum allowed is 20.", problems[2].Message)
}

func TestScriptLinter_Options(t *testing.T) {
	rules := mustESLint(t, `{"rules": {
		"no-console": ["error", {"allow": ["warn"]}],
		"eqeqeq": ["error", "smart"],
		"quotes": ["error", "double", {"avoidEscape": true}]
	}}`)
	src := "console.warn(\"x\");\nif (a == null) {}\nconst s = 'say \"hi\"';\n"

	problems := NewScriptLinter(rules).Lint("a.js", []byte(src))
	assert.Empty(t, problems)
}

func TestScriptLinter_RegExpIsNotDivision(t *testing.T) {
	rules := mustESLint(t, `{"rules": {"quotes": ["error", "double"]}}`)
	src := "const re = /'/g;\nconst half = 4 / 2;\n"

	problems := NewScriptLinter(rules).Lint("a.js", []byte(src))
	assert.Empty(t, problems)
}

func TestScriptLinter_SyntaxError(t *testing.T) {
	rules := mustESLint(t, `{"rules": {"semi": "error"}}`)

	problems := NewScriptLinter(rules).Lint("a.js", []byte("function (\n"))
	require.Len(t, problems, 1)
	assert.True(t, problems[0].Fatal)
	assert.Equal(t, SeverityError, problems[0].Severity)
	assert.True(t, strings.HasPrefix(problems[0].Message, "Parsing error: "))
}

func TestScriptLinter_UnknownRules(t *testing.T) {
	rules := mustESLint(t, `{"rules": {"semi": "error", "no-magic": "warn"}}`)

	problems := NewScriptLinter(rules).UnknownRules(".eslintrc.json")
	require.Len(t, problems, 1)
	assert.Equal(t, ".eslintrc.json", problems[0].File)
	assert.Equal(t, "Definition for rule 'no-magic' was not found.", problems[0].Message)
	assert.Equal(t, SeverityWarning, problems[0].Severity)
}

func mustStylelint(t *testing.T, doc string) RuleSet {
	t.Helper()
	rules, err := ParseStylelintConfig([]byte(doc))
	require.NoError(t, err)
	return rules
}

func TestStyleLinter(t *testing.T) {
	rules := mustStylelint(t, `{"rules": {
		"color-no-invalid-hex": true,
		"color-hex-case": "lower",
		"block-no-empty": true,
		"declaration-block-no-duplicate-properties": true,
		"unit-no-unknown": true,
		"comment-no-empty": true
	}}`)
	src := ".a {\n  color: #ab;\n  color: #FFF;\n}\n.b {}\n/* */\n.c { width: 10pixels; }\n#main { color: #fff; }\n"

	problems := NewStyleLinter(rules).Lint("src/css/main.css", []byte(src))
	assert.Equal(t, []finding{
		{2, 10, "color-no-invalid-hex"},
		{3, 3, "declaration-block-no-duplicate-properties"},
		{3, 10, "color-hex-case"},
		{5, 4, "block-no-empty"},
		{6, 1, "comment-no-empty"},
		{7, 13, "unit-no-unknown"},
	}, findings(problems))

	assert.Equal(t, `Unexpected invalid hex color "#ab" (color-no-invalid-hex)`, problems[0].Message)
	assert.Equal(t, `Unexpected duplicate "color" (declaration-block-no-duplicate-properties)`, problems[1].Message)
	assert.Equal(t, `Expected "#FFF" to be "#fff" (color-hex-case)`, problems[2].Message)
	assert.Equal(t, `Unexpected unknown unit "pixels" (unit-no-unknown)`, problems[5].Message)
}

func TestStyleLinter_NestingDepth(t *testing.T) {
	rules := mustStylelint(t, `{"rules": {"max-nesting-depth": 1}}`)
	src := "@media print {\n  .a {\n    .b {\n      .c {}\n    }\n  }\n}\n"

	problems := NewStyleLinter(rules).Lint("a.css", []byte(src))
	assert.Equal(t, []finding{{4, 7, "max-nesting-depth"}}, findings(problems))
	assert.Equal(t, "Expected nesting depth to be no more than 1 (max-nesting-depth)", problems[0].Message)
}

func TestStyleLinter_SyntaxErrors(t *testing.T) {
	rules := mustStylelint(t, `{"rules": {"block-no-empty": true}}`)

	problems := NewStyleLinter(rules).Lint("a.css", []byte(".a {\n  color: red;\n"))
	require.Len(t, problems, 1)
	assert.True(t, problems[0].Fatal)
	assert.Equal(t, "Unclosed block (CssSyntaxError)", problems[0].Message)
	assert.Equal(t, 1, problems[0].Line)
	assert.Equal(t, 4, problems[0].Column)

	problems = NewStyleLinter(rules).Lint("a.css", []byte("}"))
	require.Len(t, problems, 1)
	assert.True(t, problems[0].Fatal)
}

func TestStyleLinter_EOLWhitespace(t *testing.T) {
	rules := mustStylelint(t, `{"rules": {"no-eol-whitespace": true}}`)

	problems := NewStyleLinter(rules).Lint("a.css", []byte(".a { color: red; }  \n"))
	assert.Equal(t, []finding{{1, 19, "no-eol-whitespace"}}, findings(problems))
}

func TestFormatStylish(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	summary := FormatStylish(&buf, []Problem{
		{File: "src/js/main.js", Line: 3, Column: 5, Rule: "no-console", Message: "Unexpected console statement.", Severity: SeverityWarning},
		{File: "src/js/main.js", Line: 1, Column: 10, Rule: "semi", Message: "Missing semicolon.", Severity: SeverityError},
	})

	assert.Equal(t, Summary{Errors: 1, Warnings: 1}, summary)
	out := buf.String()
	assert.Contains(t, out, "src/js/main.js\n")
	assert.Contains(t, out, "Missing semicolon.")
	assert.Contains(t, out, "✖ 2 problems (1 error, 1 warning)")
	assert.Less(t, strings.Index(out, "1:10"), strings.Index(out, "3:5"))

	buf.Reset()
	FormatStylish(&buf, nil)
	assert.Empty(t, buf.String())
}
