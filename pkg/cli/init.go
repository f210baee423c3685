package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/poltergeist/haunt/pkg/config"
	"github.com/poltergeist/haunt/pkg/types"
	"github.com/poltergeist/haunt/pkg/utils"
)

// starter rule files written by init --rules
var (
	starterScriptRules = map[string]interface{}{
		"rules": map[string]interface{}{
			"no-debugger":             "error",
			"no-var":                  "warn",
			"eqeqeq":                  "error",
			"semi":                    []interface{}{"error", "always"},
			"quotes":                  []interface{}{"warn", "single"},
			"no-trailing-spaces":      "warn",
			"no-multiple-empty-lines": []interface{}{"warn", map[string]interface{}{"max": 2}},
		},
	}
	starterStyleRules = map[string]interface{}{
		"rules": map[string]interface{}{
			"color-no-invalid-hex":                      true,
			"color-hex-case":                            "lower",
			"block-no-empty":                            true,
			"declaration-block-no-duplicate-properties": true,
			"unit-no-unknown":                           true,
			"no-eol-whitespace":                         true,
		},
	}
)

func (c *CLI) newInitCmd() *cobra.Command {
	var format string
	var force bool
	var rules bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new haunt configuration",
		Long: `Write a configuration file with the default project layout to the project
root. With --rules, also write starter .eslintrc.json and .stylelintrc.json
files where none exist.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipProject: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(format, force, rules)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "config format (json, yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().BoolVar(&rules, "rules", false, "also write starter lint rule files")

	return cmd
}

func (c *CLI) runInit(format string, force, rules bool) error {
	var configPath string
	switch {
	case c.config.ConfigFile != "":
		configPath = resolve(c.root, c.config.ConfigFile)
	case format == "json":
		configPath = filepath.Join(c.root, "haunt.config.json")
	case format == "yaml":
		configPath = filepath.Join(c.root, "haunt.config.yaml")
	default:
		return fmt.Errorf("unknown config format: %s", format)
	}

	existing := configPath
	if !utils.FileExists(existing) {
		existing = config.FindConfig(c.root)
	}
	if existing != "" && !force {
		return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
	}

	if err := utils.EnsureDirectory(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m := config.NewManager()
	cfg := m.GetDefaultConfig()
	if err := m.WriteConfig(configPath, cfg); err != nil {
		return err
	}
	c.printSuccess(fmt.Sprintf("Created configuration at %s", configPath))

	if rules {
		if err := c.writeStarterRules(cfg); err != nil {
			return err
		}
	}

	c.printInfo("Edit the configuration to match your project layout")
	return nil
}

func (c *CLI) writeStarterRules(cfg *types.Config) error {
	for _, f := range []struct {
		path  string
		rules map[string]interface{}
	}{
		{cfg.Lint.ScriptRules, starterScriptRules},
		{cfg.Lint.StyleRules, starterStyleRules},
	} {
		path := resolve(c.root, f.path)
		if utils.FileExists(path) {
			c.printInfo(fmt.Sprintf("Keeping existing %s", f.path))
			continue
		}
		data, err := json.MarshalIndent(f.rules, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", f.path, err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		c.printSuccess(fmt.Sprintf("Created %s", f.path))
	}
	return nil
}
