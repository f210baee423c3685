package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/haunt/internal/engine"
	"github.com/poltergeist/haunt/internal/state"
	"github.com/poltergeist/haunt/internal/tasks"
	"github.com/poltergeist/haunt/pkg/config"
	"github.com/poltergeist/haunt/pkg/notifier"
	"github.com/poltergeist/haunt/pkg/process"
	"github.com/poltergeist/haunt/pkg/types"
)

// catalog returns a registry holding every task, for listing and for
// building commands; its tasks are never run
func (c *CLI) catalog() *engine.Registry {
	reg := engine.NewRegistry()
	env := tasks.NewEnv(c.root, nil, c.logger)
	serve := func(context.Context) error { return nil }
	if err := tasks.Register(reg, env, serve); err != nil {
		panic(fmt.Sprintf("invalid task graph: %v", err))
	}
	return reg
}

// newTaskCmds creates one command per registered task
func (c *CLI) newTaskCmds() []*cobra.Command {
	reg := c.catalog()

	aliases := make(map[string][]string)
	for alias, target := range reg.Aliases() {
		aliases[target] = append(aliases[target], alias)
	}

	var cmds []*cobra.Command
	for _, name := range reg.Names() {
		task, _ := reg.Lookup(name)
		cmd := &cobra.Command{
			Use:     name,
			Short:   task.Description(),
			Aliases: aliases[name],
			Args:    cobra.NoArgs,
		}
		if deps := task.Deps(); len(deps) > 0 {
			cmd.Long = fmt.Sprintf("%s.\n\nRuns: %s", task.Description(), strings.Join(deps, ", "))
		}

		switch name {
		case tasks.TaskClean:
			var withState bool
			cmd.Flags().BoolVar(&withState, "state", false, "also remove haunt's state directory")
			cmd.RunE = func(cmd *cobra.Command, args []string) error {
				return c.runTasks(cmd.Context(), []string{name}, withState)
			}
		default:
			cmd.RunE = func(cmd *cobra.Command, args []string) error {
				return c.runTasks(cmd.Context(), []string{name}, false)
			}
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (c *CLI) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>...",
		Short: "Run tasks one after another",
		Long: `Run the named tasks in order. Each task runs after its dependencies,
and a task shared by several of them runs only once.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTasks(cmd.Context(), args, false)
		},
	}
}

func (c *CLI) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Build, then serve and rebuild on change",
		Long: `Build everything, serve the build directory with live reload and
re-run the matching task whenever a source file changes. Same as the
dev task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTasks(cmd.Context(), []string{tasks.TaskDev}, false)
		},
	}
}

func (c *CLI) newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "tasks",
		Short:       "List all tasks",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipProject: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList()
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Show the last run of every task",
		Long:        `Display the recorded state of every task that has run in this project.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipProject: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Long:        `Check that the configuration is valid and the files it points at exist.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipProject: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number of haunt",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipProject: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "👻 haunt v%s\n", c.config.Version)
		},
	}
}

// Implementation functions

func (c *CLI) runList() error {
	reg := c.catalog()

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tRUNS\tDESCRIPTION")
	fmt.Fprintln(w, "----\t----\t-----------")
	for _, name := range reg.Names() {
		task, _ := reg.Lookup(name)
		deps := "-"
		if len(task.Deps()) > 0 {
			deps = strings.Join(task.Deps(), ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, deps, task.Description())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	aliases := reg.Aliases()
	if len(aliases) == 0 {
		return nil
	}
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	fmt.Fprintln(c.output)
	for _, alias := range names {
		fmt.Fprintf(c.output, "%s → %s\n", alias, aliases[alias])
	}
	return nil
}

func (c *CLI) runStatus() error {
	sm := state.NewStateManager(c.root, c.logger)

	states, err := sm.DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}
	if len(states) == 0 {
		fmt.Fprintln(c.output, "No task runs recorded yet")
		return nil
	}

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tLAST RUN\tRUNS\tFAILURES\tDURATION\tTRIGGER")
	fmt.Fprintln(w, "----\t------\t--------\t----\t--------\t--------\t-------")

	var failed []*state.TaskState
	for _, name := range names {
		s := states[name]

		lastRun := "-"
		if !s.LastRunTime.IsZero() {
			lastRun = s.LastRunTime.Format("2006-01-02 15:04:05")
		}
		duration := "-"
		if s.Duration > 0 {
			duration = notifier.FormatDuration(s.Duration)
		}
		trigger := s.Trigger
		if trigger == "" {
			trigger = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			name,
			colorStatus(s),
			lastRun,
			s.RunCount,
			s.FailureCount,
			duration,
			trigger,
		)

		if s.Status == types.TaskStatusFailed && s.LastError != "" {
			failed = append(failed, s)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, s := range failed {
		fmt.Fprintf(c.output, "\n%s %s\n", color.RedString(s.TaskName+":"), s.LastError)
	}
	return nil
}

// colorStatus renders a status; a running state whose process is gone is
// shown as stale
func colorStatus(s *state.TaskState) string {
	status := string(s.Status)
	switch s.Status {
	case types.TaskStatusSucceeded:
		return color.GreenString(status)
	case types.TaskStatusFailed:
		return color.RedString(status)
	case types.TaskStatusRunning:
		if s.ProcessID != os.Getpid() && !process.IsAlive(s.ProcessID) {
			return color.New(color.FgWhite, color.Faint).Sprint("stale")
		}
		return color.YellowString(status)
	default:
		return color.WhiteString(status)
	}
}

func (c *CLI) runValidate() error {
	path := c.findConfig()
	if path == "" {
		c.printInfo("No configuration file found, checking the defaults")
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.catalog().Validate(); err != nil {
		return err
	}

	for _, check := range []struct {
		what string
		path string
	}{
		{"template entry", cfg.Templates.Entry},
		{"template data", cfg.Templates.Data},
		{"script lint rules", cfg.Lint.ScriptRules},
		{"style lint rules", cfg.Lint.StyleRules},
	} {
		if check.path == "" {
			continue
		}
		if _, err := os.Stat(resolve(c.root, check.path)); err != nil {
			c.printWarning(fmt.Sprintf("%s %s not found", check.what, check.path))
		}
	}

	if path == "" {
		c.printSuccess("Default configuration is valid")
	} else {
		c.printSuccess(fmt.Sprintf("Configuration is valid: %s", path))
	}
	return nil
}
