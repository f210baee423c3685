// Package cli provides the command-line interface for haunt
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/haunt/internal/tasks"
	"github.com/poltergeist/haunt/pkg/config"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/types"
)

// skipProject marks commands that run without loading the project config
const skipProject = "haunt/skip-project"

// CLI holds everything a single invocation needs, so tests can run
// commands side by side
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
	// logOutput replaces stdout and the log file for the logger
	logOutput io.Writer

	root       string
	configPath string
	project    *types.Config
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		output:   os.Stdout,
		errorOut: os.Stderr,
		logger:   logger.Nop(),
	}

	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.logOutput = output
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "haunt",
		Short: "Build, lint and serve a static front-end project",
		Long: `👻 haunt - the build pipeline for small front-end projects

haunt turns src/ (stylesheets, scripts, Handlebars templates, images and
fonts) into a deployable build/ directory, lints sources against
.eslintrc.json and .stylelintrc.json, and serves build/ with live reload
while rebuilding on change.

Running haunt without a command runs the default task.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTasks(cmd.Context(), []string{tasks.TaskDefault}, false)
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("👻 haunt v{{.Version}}\n")

	for _, cmd := range c.newTaskCmds() {
		c.rootCmd.AddCommand(cmd)
	}
	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newTasksCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: haunt.config.json in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "project root directory")
	flags.StringVar(&c.config.EnvFile, "env-file", "", "extra env file loaded after <root>/.env, overriding it")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error); overrides logging.level")
	flags.BoolVar(&c.config.Production, "production", false, "build for production (same as NODE_ENV=production)")
	flags.BoolVar(&c.config.Strict, "strict", false, "fail lint tasks on error-severity problems")
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	c.root = root

	level := c.config.Verbosity
	c.logger = c.newLogger(level, "")

	envFiles := []string{filepath.Join(root, ".env"), resolve(root, c.config.EnvFile)}
	loaded, err := config.LoadEnv(envFiles...)
	if err != nil {
		return err
	}
	if c.config.Production {
		if err := config.ForceProduction(); err != nil {
			return fmt.Errorf("failed to set production mode: %w", err)
		}
	}

	if cmd.Annotations[skipProject] != "" {
		return nil
	}

	c.configPath = c.findConfig()
	cfg, err := config.NewManager().LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.project = cfg

	if !cmd.Flags().Changed("verbosity") {
		level = string(cfg.Logging.Level)
	}
	c.logger = c.newLogger(level, resolve(root, cfg.Logging.File))

	for _, f := range loaded {
		c.logger.Debug("Loaded env file", logger.WithField("file", f))
	}
	if c.configPath != "" {
		c.logger.Debug("Using config file", logger.WithField("file", c.configPath))
	} else {
		c.logger.Debug("No config file found, using defaults")
	}
	return nil
}

func (c *CLI) newLogger(level, file string) logger.Logger {
	if c.logOutput != nil {
		return logger.CreateLoggerWithOutput(level, c.logOutput)
	}
	return logger.CreateLogger(file, level)
}

// findConfig returns the --config file, or the first default config file
// in the project root, or "" when there is none
func (c *CLI) findConfig() string {
	if c.config.ConfigFile != "" {
		return resolve(c.root, c.config.ConfigFile)
	}
	return config.FindConfig(c.root)
}

// Helper methods for structured output

func (c *CLI) printSuccess(message string) {
	c.logger.Success(message)
}

func (c *CLI) printInfo(message string) {
	c.logger.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.logger.Warn(message)
}

// ExecuteWithVersion runs the CLI against os.Args and reports a failure on
// stderr
func ExecuteWithVersion(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)
	err := c.Execute(os.Args[1:])
	if err != nil {
		fmt.Fprintf(c.errorOut, "%s %v\n", color.RedString("👻 Error:"), err)
	}
	return err
}
