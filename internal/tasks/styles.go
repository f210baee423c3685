package tasks

import (
	"context"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/poltergeist/haunt/internal/css"
	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
)

// runStyles processes each stylesheet through the plugin chain, concatenates
// the results and lowers the bundle for the configured browsers
func (e *Env) runStyles(ctx context.Context) error {
	cfg := e.Config()
	log := e.log(ctx)

	files, err := pipeline.Src(e.Root, cfg.Paths.Src.Styles)
	if err != nil {
		return fmt.Errorf("css: %w", err)
	}
	if len(files) == 0 {
		log.Warn("No stylesheets matched", logger.WithField("pattern", cfg.Paths.Src.Styles))
		return nil
	}

	proc := css.DefaultProcessor(e.Root, cfg.Styles)
	originals := make([][]byte, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		originals[i] = f.Contents
		out, err := proc.Process(f.Path, f.Contents)
		if err != nil {
			return fmt.Errorf("css: %w", err)
		}
		f.Contents = out
	}

	engines, err := css.Engines(cfg.Styles.Browsers)
	if err != nil {
		return fmt.Errorf("css: %w", err)
	}

	bundle := pipeline.Concat(cfg.Paths.Names.Styles, files, bundleSeparator)
	opts := api.TransformOptions{
		Loader:  api.LoaderCSS,
		Engines: engines,
		// nesting is already unwrapped; keep esbuild from passing any through
		Supported: map[string]bool{"nesting": false},
	}
	if e.production() {
		minifyCode(&opts)
	}
	if cfg.Styles.Sourcemap {
		opts.Sourcemap = api.SourceMapInline
		if err := withSourceMap("css", bundle, files, originals); err != nil {
			return err
		}
	}

	code, err := e.transformBundle(ctx, "css", bundle, files, opts)
	if err != nil {
		return err
	}
	bundle.Contents = code

	written, err := pipeline.Dest(e.Root, cfg.Paths.Dest.Styles, bundle)
	if err != nil {
		return fmt.Errorf("css: %w", err)
	}
	log.Info("Wrote stylesheet",
		logger.WithField("sources", len(files)),
		logger.WithField("output", written[0]))
	return nil
}
