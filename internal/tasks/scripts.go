package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
)

var scriptTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// ParseTarget resolves a language level name such as "es2015"
func ParseTarget(name string) (api.Target, error) {
	if name == "" {
		return api.ES2015, nil
	}
	target, ok := scriptTargets[strings.ToLower(name)]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unknown script target %q", name)
	}
	return target, nil
}

// runScripts concatenates the scripts and transpiles the bundle down to the
// configured language level
func (e *Env) runScripts(ctx context.Context) error {
	cfg := e.Config()
	log := e.log(ctx)

	target, err := ParseTarget(cfg.Scripts.Target)
	if err != nil {
		return fmt.Errorf("js: %w", err)
	}

	files, err := pipeline.Src(e.Root, cfg.Paths.Src.Scripts)
	if err != nil {
		return fmt.Errorf("js: %w", err)
	}
	if len(files) == 0 {
		log.Warn("No scripts matched", logger.WithField("pattern", cfg.Paths.Src.Scripts))
		return nil
	}

	bundle := pipeline.Concat(cfg.Paths.Names.Scripts, files, bundleSeparator)
	opts := api.TransformOptions{
		Loader: api.LoaderJS,
		Target: target,
	}
	if e.production() {
		minifyCode(&opts)
	}
	if cfg.Scripts.Sourcemap {
		opts.Sourcemap = api.SourceMapInline
		originals := make([][]byte, len(files))
		for i, f := range files {
			originals[i] = f.Contents
		}
		if err := withSourceMap("js", bundle, files, originals); err != nil {
			return err
		}
	}

	code, err := e.transformBundle(ctx, "js", bundle, files, opts)
	if err != nil {
		return err
	}
	bundle.Contents = code

	written, err := pipeline.Dest(e.Root, cfg.Paths.Dest.Scripts, bundle)
	if err != nil {
		return fmt.Errorf("js: %w", err)
	}
	log.Info("Wrote script bundle",
		logger.WithField("sources", len(files)),
		logger.WithField("output", written[0]))
	return nil
}
