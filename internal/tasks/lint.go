package tasks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/poltergeist/haunt/internal/lint"
	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
)

// LintError is returned by lint tasks in strict mode
type LintError struct {
	Task    string
	Summary lint.Summary
}

func (e *LintError) Error() string {
	return fmt.Sprintf("%s: %d errors, %d warnings", e.Task, e.Summary.Errors, e.Summary.Warnings)
}

type linter interface {
	UnknownRules(configFile string) []lint.Problem
	Lint(file string, src []byte) []lint.Problem
}

func (e *Env) runESLint(ctx context.Context) error {
	cfg := e.Config()
	return e.lintFiles(ctx, "eslint", cfg.Lint.ScriptRules, cfg.Paths.Lint.Scripts, lint.ParseESLintConfig,
		func(rules lint.RuleSet) linter { return lint.NewScriptLinter(rules) })
}

func (e *Env) runStylelint(ctx context.Context) error {
	cfg := e.Config()
	return e.lintFiles(ctx, "stylelint", cfg.Lint.StyleRules, cfg.Paths.Lint.Styles, lint.ParseStylelintConfig,
		func(rules lint.RuleSet) linter { return lint.NewStyleLinter(rules) })
}

// lintFiles checks every file matched by patterns against the rule file and
// prints a stylish report. Problems only fail the task in strict mode.
func (e *Env) lintFiles(ctx context.Context, task, ruleFile string, patterns []string,
	parse func([]byte) (lint.RuleSet, error), newLinter func(lint.RuleSet) linter) error {
	log := e.log(ctx)

	rules, found, err := lint.LoadRules(filepath.Join(e.Root, filepath.FromSlash(ruleFile)), parse)
	if err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}
	if !found {
		log.Warn("No rule file found, skipping", logger.WithField("rules", ruleFile))
		return nil
	}

	files, err := pipeline.Src(e.Root, patterns...)
	if err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}

	l := newLinter(rules)
	problems := l.UnknownRules(ruleFile)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		problems = append(problems, l.Lint(f.Path, f.Contents)...)
	}

	summary := lint.FormatStylish(e.output(), problems)
	e.recorder().IncLintProblems(task, "error", summary.Errors)
	e.recorder().IncLintProblems(task, "warning", summary.Warnings)
	e.Notifier.NotifyLintProblems(task, summary.Errors, summary.Warnings)

	log.Info("Linted files",
		logger.WithField("files", len(files)),
		logger.WithField("errors", summary.Errors),
		logger.WithField("warnings", summary.Warnings))

	if e.Strict && summary.Errors > 0 {
		return &LintError{Task: task, Summary: summary}
	}
	return nil
}
