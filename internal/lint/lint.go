// Package lint checks scripts and stylesheets against eslint- and
// stylelint-style JSON rule files. Findings are data: linting never returns
// an error for a problem in the linted source.
package lint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Severity of a finding
type Severity int

const (
	SeverityOff Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "off"
	}
}

// ParseSeverity accepts eslint and stylelint spellings
func ParseSeverity(v interface{}) (Severity, error) {
	switch val := v.(type) {
	case float64:
		switch val {
		case 0:
			return SeverityOff, nil
		case 1:
			return SeverityWarning, nil
		case 2:
			return SeverityError, nil
		}
	case string:
		switch strings.ToLower(val) {
		case "off":
			return SeverityOff, nil
		case "warn", "warning":
			return SeverityWarning, nil
		case "error":
			return SeverityError, nil
		}
	}
	return SeverityOff, fmt.Errorf("invalid severity %v", v)
}

// Problem is a single finding
type Problem struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Rule     string   `json:"rule,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Fatal    bool     `json:"fatal,omitempty"`
}

// RuleConfig is the resolved configuration of one rule
type RuleConfig struct {
	Severity Severity
	Options  []interface{}
}

// Option returns the i-th option or nil
func (r RuleConfig) Option(i int) interface{} {
	if i < len(r.Options) {
		return r.Options[i]
	}
	return nil
}

// StringOption returns the i-th option as a string, or def
func (r RuleConfig) StringOption(i int, def string) string {
	if s, ok := r.Option(i).(string); ok {
		return s
	}
	return def
}

// IntOption returns the i-th option as an int, or def
func (r RuleConfig) IntOption(i int, def int) int {
	if f, ok := r.Option(i).(float64); ok {
		return int(f)
	}
	return def
}

// ObjectOption returns the first object among the options
func (r RuleConfig) ObjectOption() map[string]interface{} {
	for _, o := range r.Options {
		if m, ok := o.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// RuleSet maps rule names to their configuration. Rules set to off are
// not present.
type RuleSet map[string]RuleConfig

// Names returns the enabled rule names, sorted
func (rs RuleSet) Names() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type rulesFile struct {
	DefaultSeverity string                     `json:"defaultSeverity"`
	Rules           map[string]json.RawMessage `json:"rules"`
}

// ParseESLintConfig parses an .eslintrc.json document. A rule value is a
// severity or an array whose first element is the severity.
func ParseESLintConfig(data []byte) (RuleSet, error) {
	var f rulesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse eslint config: %w", err)
	}

	rules := RuleSet{}
	for name, raw := range f.Rules {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		var cfg RuleConfig
		switch val := v.(type) {
		case []interface{}:
			if len(val) == 0 {
				return nil, fmt.Errorf("rule %s: empty configuration", name)
			}
			sev, err := ParseSeverity(val[0])
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
			cfg = RuleConfig{Severity: sev, Options: val[1:]}
		default:
			sev, err := ParseSeverity(val)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
			cfg = RuleConfig{Severity: sev}
		}

		if cfg.Severity != SeverityOff {
			rules[name] = cfg
		}
	}
	return rules, nil
}

// ParseStylelintConfig parses a .stylelintrc.json document. A rule value is
// null/false (disabled), true, a primary option, or [primary, secondary]
// where secondary may carry a "severity".
func ParseStylelintConfig(data []byte) (RuleSet, error) {
	var f rulesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stylelint config: %w", err)
	}

	defaultSeverity := SeverityError
	if f.DefaultSeverity != "" {
		sev, err := ParseSeverity(f.DefaultSeverity)
		if err != nil {
			return nil, fmt.Errorf("defaultSeverity: %w", err)
		}
		defaultSeverity = sev
	}

	rules := RuleSet{}
	for name, raw := range f.Rules {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		cfg := RuleConfig{Severity: defaultSeverity}
		switch val := v.(type) {
		case nil:
			continue
		case bool:
			if !val {
				continue
			}
		case []interface{}:
			if len(val) == 0 || val[0] == nil {
				continue
			}
			cfg.Options = []interface{}{val[0]}
			if len(val) > 1 {
				if secondary, ok := val[1].(map[string]interface{}); ok {
					if s, ok := secondary["severity"]; ok {
						sev, err := ParseSeverity(s)
						if err != nil {
							return nil, fmt.Errorf("rule %s: %w", name, err)
						}
						cfg.Severity = sev
					}
				}
				cfg.Options = append(cfg.Options, val[1:]...)
			}
		default:
			cfg.Options = []interface{}{val}
		}

		if cfg.Severity != SeverityOff {
			rules[name] = cfg
		}
	}
	return rules, nil
}

// LoadRules reads a rule file with parse. A missing file yields an empty
// rule set and found=false.
func LoadRules(path string, parse func([]byte) (RuleSet, error)) (rules RuleSet, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RuleSet{}, false, nil
		}
		return nil, false, err
	}
	rules, err = parse(data)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", path, err)
	}
	return rules, true, nil
}

// unknownRules returns a warning for every configured rule not in known.
// They are attributed to the rule file itself so each is reported once.
func unknownRules(configFile string, rules RuleSet, known map[string]bool) []Problem {
	var problems []Problem
	for _, name := range rules.Names() {
		if known[name] {
			continue
		}
		problems = append(problems, Problem{
			File:     configFile,
			Line:     1,
			Column:   1,
			Rule:     name,
			Message:  fmt.Sprintf("Definition for rule '%s' was not found.", name),
			Severity: SeverityWarning,
		})
	}
	return problems
}

// Summary counts problems by severity
type Summary struct {
	Errors   int
	Warnings int
}

// Total returns the number of problems
func (s Summary) Total() int { return s.Errors + s.Warnings }

// Summarize counts problems by severity
func Summarize(problems []Problem) Summary {
	var s Summary
	for _, p := range problems {
		switch p.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
	}
	return s
}

// SortProblems orders problems by file, line and column
func SortProblems(problems []Problem) {
	sort.SliceStable(problems, func(i, j int) bool {
		a, b := problems[i], problems[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

// lineChecker implements the rules that only need raw lines
type lineChecker struct {
	file   string
	lines  []string
	report func(line, col int, rule, msg string)
}

func splitLines(src []byte) []string {
	s := strings.ReplaceAll(string(src), "\r\n", "\n")
	return strings.Split(s, "\n")
}

func (lc lineChecker) trailingWhitespace(rule string, skipBlank bool, msg string) {
	for i, line := range lc.lines {
		trimmed := strings.TrimRight(line, " \t")
		if len(trimmed) == len(line) {
			continue
		}
		if skipBlank && trimmed == "" {
			continue
		}
		lc.report(i+1, len(trimmed)+1, rule, msg)
	}
}
