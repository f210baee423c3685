package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
	minhtml "github.com/tdewolff/minify/v2/html"
	minjs "github.com/tdewolff/minify/v2/js"
	minsvg "github.com/tdewolff/minify/v2/svg"

	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
)

// bundleSeparator joins concatenated sources
const bundleSeparator = "\n"

// BuildError is a transform failure located in one of the source files
type BuildError struct {
	Task   string
	File   string
	Line   int
	Column int
	Text   string
	// More counts further errors reported in the same run
	More int
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Task, e.File)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
	}
	fmt.Fprintf(&b, ": %s", e.Text)
	if e.More > 0 {
		fmt.Fprintf(&b, " (and %d more)", e.More)
	}
	return b.String()
}

// origin maps a line of a concatenated bundle back to the file it came from
type origin struct {
	files []*pipeline.File
	start []int
}

func newOrigin(files []*pipeline.File, sep string) *origin {
	o := &origin{files: files, start: make([]int, len(files))}
	line := 1
	for i, f := range files {
		o.start[i] = line
		line += strings.Count(string(f.Contents), "\n") + strings.Count(sep, "\n")
	}
	return o
}

func (o *origin) locate(line int) (string, int) {
	for i := len(o.files) - 1; i >= 0; i-- {
		if line >= o.start[i] {
			return o.files[i].Path, line - o.start[i] + 1
		}
	}
	return "", line
}

// transformBundle runs esbuild over a concatenated bundle and reports errors
// against the original source files
func (e *Env) transformBundle(ctx context.Context, task string, bundle *pipeline.File, sources []*pipeline.File, opts api.TransformOptions) ([]byte, error) {
	opts.Sourcefile = bundle.Rel
	opts.LogLevel = api.LogLevelSilent

	result := api.Transform(string(bundle.Contents), opts)
	for _, w := range result.Warnings {
		e.log(ctx).Debug("Transform warning",
			logger.WithField("task", task),
			logger.WithField("warning", w.Text))
	}
	if len(result.Errors) == 0 {
		return result.Code, nil
	}

	first := result.Errors[0]
	buildErr := &BuildError{Task: task, File: bundle.Rel, Text: first.Text, More: len(result.Errors) - 1}
	if first.Location != nil {
		buildErr.File, buildErr.Line = newOrigin(sources, bundleSeparator).locate(first.Location.Line)
		buildErr.Column = first.Location.Column + 1
	}
	return nil, buildErr
}

// minifyCode enables every esbuild minify switch
func minifyCode(opts *api.TransformOptions) {
	opts.MinifyWhitespace = true
	opts.MinifySyntax = true
	opts.MinifyIdentifiers = true
}

// newMinifier returns a minifier for the markup haunt writes
func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", mincss.Minify)
	m.AddFunc("text/html", minhtml.Minify)
	m.AddFunc("image/svg+xml", minsvg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), minjs.Minify)
	return m
}
