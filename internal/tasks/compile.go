package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
)

const templateExt = ".hbs"

var partialRef = regexp.MustCompile(`\{\{~?#?>\s*("[^"]+"|'[^']+'|[^\s}()~]+)`)

// PartialNames assigns partial names to templates. Every directory holding a
// template is a partial root; a template is named by its path below a root
// without the extension. The first root to claim a name wins.
func PartialNames(templates []*pipeline.File) map[string]*pipeline.File {
	var roots []string
	seenRoot := make(map[string]bool)
	for _, f := range templates {
		dir := path.Dir(f.Path)
		if !seenRoot[dir] {
			seenRoot[dir] = true
			roots = append(roots, dir)
		}
	}

	names := make(map[string]*pipeline.File)
	for _, root := range roots {
		for _, f := range templates {
			rel := f.Path
			if root != "." {
				if !strings.HasPrefix(f.Path, root+"/") {
					continue
				}
				rel = strings.TrimPrefix(f.Path, root+"/")
			}
			name := strings.TrimSuffix(rel, path.Ext(rel))
			if _, taken := names[name]; !taken {
				names[name] = f
			}
		}
	}
	return names
}

// referencedPartials lists the static partial names used by a template
func referencedPartials(src []byte) []string {
	var names []string
	for _, m := range partialRef.FindAllSubmatch(src, -1) {
		name := strings.Trim(string(m[1]), `"'`)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func templateHelpers(md goldmark.Markdown) map[string]interface{} {
	return map[string]interface{}{
		"markdown": func(text interface{}) raymond.SafeString {
			var buf bytes.Buffer
			if err := md.Convert([]byte(raymond.Str(text)), &buf); err != nil {
				return raymond.SafeString(raymond.Escape(raymond.Str(text)))
			}
			return raymond.SafeString(buf.String())
		},
		"json": func(v interface{}) raymond.SafeString {
			data, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return raymond.SafeString(data)
		},
	}
}

// loadTemplateData reads the render context; a missing data file renders
// against an empty context
func (e *Env) loadTemplateData(ctx context.Context, name string) (map[string]interface{}, error) {
	data := make(map[string]interface{})
	if name == "" {
		return data, nil
	}

	raw, err := os.ReadFile(filepath.Join(e.Root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.log(ctx).Warn("Template data not found, rendering with an empty context",
				logger.WithField("data", name))
			return data, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return data, nil
}

// runCompile renders the entry template with its partials and data
func (e *Env) runCompile(ctx context.Context) error {
	cfg := e.Config()
	log := e.log(ctx)

	entries, err := pipeline.Src(e.Root, cfg.Templates.Entry)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	entry := entries[0]

	templates, err := pipeline.Src(e.Root, cfg.Paths.Templates)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	data, err := e.loadTemplateData(ctx, cfg.Templates.Data)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	tpl, err := raymond.Parse(string(entry.Contents))
	if err != nil {
		return fmt.Errorf("compile: %s: %w", entry.Path, err)
	}

	partials := PartialNames(templates)
	for name, f := range partials {
		tpl.RegisterPartial(name, string(f.Contents))
	}
	if cfg.Templates.IgnorePartials {
		sources := [][]byte{entry.Contents}
		for _, f := range templates {
			sources = append(sources, f.Contents)
		}
		registered := make(map[string]bool)
		for _, src := range sources {
			for _, name := range referencedPartials(src) {
				if _, ok := partials[name]; ok || registered[name] {
					continue
				}
				log.Debug("Rendering missing partial as empty", logger.WithField("partial", name))
				tpl.RegisterPartial(name, "")
				registered[name] = true
			}
		}
	}
	tpl.RegisterHelpers(templateHelpers(goldmark.New(goldmark.WithExtensions(extension.GFM))))

	html, err := tpl.Exec(data)
	if err != nil {
		return fmt.Errorf("compile: %s: %w", entry.Path, err)
	}

	if e.production() {
		html, err = newMinifier().String("text/html", html)
		if err != nil {
			return fmt.Errorf("compile: minify: %w", err)
		}
	}

	out := pipeline.Rename(entry, cfg.Templates.Output)
	out.Contents = []byte(html)
	written, err := pipeline.Dest(e.Root, cfg.Paths.Dest.Dir, out)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	log.Info("Rendered template",
		logger.WithField("template", entry.Path),
		logger.WithField("partials", len(partials)),
		logger.WithField("output", written[0]))
	return nil
}
