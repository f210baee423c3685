// Package css implements the stylesheet transforms applied to each source
// file before concatenation: nesting, shorthand expansion, asset helpers and
// custom property / custom media lowering. Vendor prefixes are handled later
// by the bundler.
package css

import (
	"fmt"

	"github.com/poltergeist/haunt/pkg/types"
)

// Plugin transforms one stylesheet. file is the project-relative path of
// the stylesheet being processed.
type Plugin interface {
	Name() string
	Process(file string, src []byte) ([]byte, error)
}

// Processor applies plugins in order
type Processor struct {
	plugins []Plugin
}

// NewProcessor creates a processor running the given plugins in order
func NewProcessor(plugins ...Plugin) *Processor {
	return &Processor{plugins: plugins}
}

// DefaultProcessor returns the standard plugin chain for a project
func DefaultProcessor(root string, cfg types.StylesConfig) *Processor {
	return NewProcessor(
		Nested{},
		Short{},
		NewAssets(root, cfg.Assets),
		NewPresetEnv(root, cfg.PresetEnv),
	)
}

// Plugins returns the plugin names in execution order
func (p *Processor) Plugins() []string {
	names := make([]string, len(p.plugins))
	for i, pl := range p.plugins {
		names[i] = pl.Name()
	}
	return names
}

// Process runs every plugin over src
func (p *Processor) Process(file string, src []byte) ([]byte, error) {
	out := src
	for _, pl := range p.plugins {
		next, err := pl.Process(file, out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pl.Name(), err)
		}
		out = next
	}
	return out, nil
}
