// Package types provides core types and configuration for haunt
package types

import (
	"time"
)

// ConfigVersion is the only configuration schema version understood by haunt
const ConfigVersion = "1.0"

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusIdle      TaskStatus = "idle"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// ChangeType represents the classification of file changes
type ChangeType string

const (
	ChangeTypeCreated  ChangeType = "created"
	ChangeTypeModified ChangeType = "modified"
	ChangeTypeRemoved  ChangeType = "removed"
	ChangeTypeRenamed  ChangeType = "renamed"
)

// SourcePaths holds the source globs for each pipeline
type SourcePaths struct {
	Dir     string `json:"dir" yaml:"dir" mapstructure:"dir"`
	Styles  string `json:"styles" yaml:"styles" mapstructure:"styles"`
	Scripts string `json:"scripts" yaml:"scripts" mapstructure:"scripts"`
	Images  string `json:"images" yaml:"images" mapstructure:"images"`
	Fonts   string `json:"fonts" yaml:"fonts" mapstructure:"fonts"`
}

// DestPaths holds the output directories for each pipeline
type DestPaths struct {
	Dir     string `json:"dir" yaml:"dir" mapstructure:"dir"`
	Styles  string `json:"styles" yaml:"styles" mapstructure:"styles"`
	Scripts string `json:"scripts" yaml:"scripts" mapstructure:"scripts"`
	Images  string `json:"images" yaml:"images" mapstructure:"images"`
	Fonts   string `json:"fonts" yaml:"fonts" mapstructure:"fonts"`
}

// OutputNames holds the concatenated bundle filenames
type OutputNames struct {
	Styles  string `json:"styles" yaml:"styles" mapstructure:"styles"`
	Scripts string `json:"scripts" yaml:"scripts" mapstructure:"scripts"`
}

// LintPaths holds the globs checked by the linters; entries starting with
// "!" exclude
type LintPaths struct {
	Styles  []string `json:"styles" yaml:"styles" mapstructure:"styles"`
	Scripts []string `json:"scripts" yaml:"scripts" mapstructure:"scripts"`
}

// Paths mirrors the project layout
type Paths struct {
	Src       SourcePaths `json:"src" yaml:"src" mapstructure:"src"`
	Dest      DestPaths   `json:"dest" yaml:"dest" mapstructure:"dest"`
	Names     OutputNames `json:"names" yaml:"names" mapstructure:"names"`
	Templates string      `json:"templates" yaml:"templates" mapstructure:"templates"`
	Lint      LintPaths   `json:"lint" yaml:"lint" mapstructure:"lint"`
}

// AssetsConfig configures asset resolution inside stylesheets
type AssetsConfig struct {
	LoadPaths  []string `json:"loadPaths" yaml:"loadPaths" mapstructure:"loadPaths"`
	RelativeTo string   `json:"relativeTo" yaml:"relativeTo" mapstructure:"relativeTo"`
}

// PresetEnvConfig configures custom property and custom media imports
type PresetEnvConfig struct {
	ImportFrom []string `json:"importFrom" yaml:"importFrom" mapstructure:"importFrom"`
}

// StylesConfig configures the css pipeline
type StylesConfig struct {
	Browsers  []string        `json:"browsers" yaml:"browsers" mapstructure:"browsers"`
	Assets    AssetsConfig    `json:"assets" yaml:"assets" mapstructure:"assets"`
	PresetEnv PresetEnvConfig `json:"presetEnv" yaml:"presetEnv" mapstructure:"presetEnv"`
	Sourcemap bool            `json:"sourcemap" yaml:"sourcemap" mapstructure:"sourcemap"`
}

// ScriptsConfig configures the js pipeline
type ScriptsConfig struct {
	Target    string `json:"target" yaml:"target" mapstructure:"target"`
	Sourcemap bool   `json:"sourcemap" yaml:"sourcemap" mapstructure:"sourcemap"`
}

// TemplatesConfig configures the compile pipeline
type TemplatesConfig struct {
	Entry          string `json:"entry" yaml:"entry" mapstructure:"entry"`
	Output         string `json:"output" yaml:"output" mapstructure:"output"`
	Data           string `json:"data" yaml:"data" mapstructure:"data"`
	IgnorePartials bool   `json:"ignorePartials" yaml:"ignorePartials" mapstructure:"ignorePartials"`
}

// ImagesConfig configures image optimisation
type ImagesConfig struct {
	// JPEGQuality re-encodes JPEGs lossily at this quality; 0 only strips
	// metadata
	JPEGQuality int `json:"jpegQuality" yaml:"jpegQuality" mapstructure:"jpegQuality"`
}

// LintConfig points at the rule files consumed by the linters
type LintConfig struct {
	StyleRules  string `json:"styleRules" yaml:"styleRules" mapstructure:"styleRules"`
	ScriptRules string `json:"scriptRules" yaml:"scriptRules" mapstructure:"scriptRules"`
}

// ServerConfig configures the development server
type ServerConfig struct {
	Host       string `json:"host" yaml:"host" mapstructure:"host"`
	Port       int    `json:"port" yaml:"port" mapstructure:"port"`
	BaseDir    string `json:"baseDir" yaml:"baseDir" mapstructure:"baseDir"`
	LiveReload bool   `json:"liveReload" yaml:"liveReload" mapstructure:"liveReload"`
	Notify     bool   `json:"notify" yaml:"notify" mapstructure:"notify"`
}

// WatchConfig configures file watching
type WatchConfig struct {
	SettlingDelay int      `json:"settlingDelay" yaml:"settlingDelay" mapstructure:"settlingDelay"`
	Exclude       []string `json:"exclude" yaml:"exclude" mapstructure:"exclude"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Success bool `json:"success" yaml:"success" mapstructure:"success"`
	Sound   bool `json:"sound" yaml:"sound" mapstructure:"sound"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file" mapstructure:"file"`
	Level LogLevel `json:"level" yaml:"level" mapstructure:"level"`
}

// Config represents the main configuration
type Config struct {
	Version       string             `json:"version" yaml:"version" mapstructure:"version"`
	Paths         Paths              `json:"paths" yaml:"paths" mapstructure:"paths"`
	Styles        StylesConfig       `json:"styles" yaml:"styles" mapstructure:"styles"`
	Scripts       ScriptsConfig      `json:"scripts" yaml:"scripts" mapstructure:"scripts"`
	Templates     TemplatesConfig    `json:"templates" yaml:"templates" mapstructure:"templates"`
	Images        ImagesConfig       `json:"images" yaml:"images" mapstructure:"images"`
	Lint          LintConfig         `json:"lint" yaml:"lint" mapstructure:"lint"`
	Server        ServerConfig       `json:"server" yaml:"server" mapstructure:"server"`
	Watch         WatchConfig        `json:"watch" yaml:"watch" mapstructure:"watch"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications" mapstructure:"notifications"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging" mapstructure:"logging"`
	Parallelism   int                `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Path      string     `json:"path"`
	Rel       string     `json:"rel"`
	Timestamp time.Time  `json:"timestamp"`
	Type      ChangeType `json:"type"`
}
