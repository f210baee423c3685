// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/haunt/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. HAUNT_SERVER_PORT=4000
const EnvPrefix = "HAUNT"

// DefaultConfigNames are the file names tried by FindConfig, in order
var DefaultConfigNames = []string{
	"haunt.config.json",
	"haunt.config.yaml",
	"haunt.config.yml",
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns the first default config file present in dir, or ""
func FindConfig(dir string) string {
	for _, name := range DefaultConfigNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadConfig loads configuration from a file. A missing file (or an empty
// path) yields the defaults. HAUNT_* environment variables override both.
func (m *Manager) LoadConfig(path string) (*types.Config, error) {
	v := viper.New()
	if err := setDefaults(v, m.GetDefaultConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
				v.SetConfigType("yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg.Version != types.ConfigVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	required := []struct {
		name  string
		value string
	}{
		{"paths.src.dir", cfg.Paths.Src.Dir},
		{"paths.src.styles", cfg.Paths.Src.Styles},
		{"paths.src.scripts", cfg.Paths.Src.Scripts},
		{"paths.src.images", cfg.Paths.Src.Images},
		{"paths.src.fonts", cfg.Paths.Src.Fonts},
		{"paths.dest.dir", cfg.Paths.Dest.Dir},
		{"paths.dest.styles", cfg.Paths.Dest.Styles},
		{"paths.dest.scripts", cfg.Paths.Dest.Scripts},
		{"paths.dest.images", cfg.Paths.Dest.Images},
		{"paths.dest.fonts", cfg.Paths.Dest.Fonts},
		{"paths.names.styles", cfg.Paths.Names.Styles},
		{"paths.names.scripts", cfg.Paths.Names.Scripts},
		{"paths.templates", cfg.Paths.Templates},
		{"templates.entry", cfg.Templates.Entry},
		{"templates.output", cfg.Templates.Output},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s must not be empty", r.name)
		}
	}

	if filepath.Clean(cfg.Paths.Dest.Dir) == filepath.Clean(cfg.Paths.Src.Dir) {
		return fmt.Errorf("paths.dest.dir must differ from paths.src.dir (%s)", cfg.Paths.Src.Dir)
	}
	if cfg.Paths.Names.Styles == cfg.Paths.Names.Scripts {
		return fmt.Errorf("paths.names.styles and paths.names.scripts must differ")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Images.JPEGQuality < 0 || cfg.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpegQuality must be 0 (lossless) or between 1 and 100, got %d", cfg.Images.JPEGQuality)
	}
	if cfg.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if cfg.Watch.SettlingDelay < 0 {
		return fmt.Errorf("watch.settlingDelay must not be negative")
	}

	switch cfg.Logging.Level {
	case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
	default:
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}

	return nil
}

// GetDefaultConfig returns the configuration used when no file is present.
// It mirrors the conventional src/ -> build/ project layout.
func (m *Manager) GetDefaultConfig() *types.Config {
	return &types.Config{
		Version: types.ConfigVersion,
		Paths: types.Paths{
			Src: types.SourcePaths{
				Dir:     "src",
				Styles:  "src/css/**/*.css",
				Scripts: "src/js/**/*.js",
				Images:  "src/images/*",
				Fonts:   "src/fonts/*",
			},
			Dest: types.DestPaths{
				Dir:     "build",
				Styles:  "build/css",
				Scripts: "build/js",
				Images:  "build/images",
				Fonts:   "build/fonts",
			},
			Names: types.OutputNames{
				Styles:  "index.min.css",
				Scripts: "index.min.js",
			},
			Templates: "src/templates/**/*.hbs",
			Lint: types.LintPaths{
				Styles:  []string{"**/*.css", "!node_modules/**/*", "!build/**/*"},
				Scripts: []string{"**/*.js", "!node_modules/**/*", "!build/**/*"},
			},
		},
		Styles: types.StylesConfig{
			Browsers: []string{"last 2 versions"},
			Assets: types.AssetsConfig{
				LoadPaths:  []string{"src/images/"},
				RelativeTo: "src/css/",
			},
			PresetEnv: types.PresetEnvConfig{
				ImportFrom: []string{"src/css/main.css"},
			},
			Sourcemap: true,
		},
		Scripts: types.ScriptsConfig{
			Target:    "es2015",
			Sourcemap: true,
		},
		Templates: types.TemplatesConfig{
			Entry:          "src/templates/index.hbs",
			Output:         "index.html",
			Data:           "src/templates/data/data.json",
			IgnorePartials: true,
		},
		Lint: types.LintConfig{
			StyleRules:  ".stylelintrc.json",
			ScriptRules: ".eslintrc.json",
		},
		Server: types.ServerConfig{
			Host:       "localhost",
			Port:       3000,
			BaseDir:    "build",
			LiveReload: true,
			Notify:     false,
		},
		Watch: types.WatchConfig{
			SettlingDelay: 100,
			Exclude:       getDefaultExclusions(),
		},
		Notifications: types.NotificationConfig{
			Enabled: false,
		},
		Logging: types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Parallelism: 0,
	}
}

// WriteConfig serialises cfg to path as JSON or YAML, chosen by extension
func (m *Manager) WriteConfig(path string, cfg *types.Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults registers every leaf of cfg as a viper default so that env
// overrides and partial config files both resolve against it.
func setDefaults(v *viper.Viper, cfg *types.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	flatten("", tree, func(key string, value interface{}) {
		v.SetDefault(key, value)
	})
	return nil
}

func flatten(prefix string, tree map[string]interface{}, set func(string, interface{})) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

func getDefaultExclusions() []string {
	return []string{
		"node_modules",
		".git",
		".haunt",
		".cache",
		".vscode",
		".idea",
		"*.log",
		"tmp",
		"vendor",
	}
}
