package cli

import (
	"context"
	"errors"

	"github.com/poltergeist/haunt/internal/devloop"
	"github.com/poltergeist/haunt/internal/engine"
	"github.com/poltergeist/haunt/internal/tasks"
	pctx "github.com/poltergeist/haunt/pkg/context"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/process"
)

// TriggerCLI marks runs started from the command line
const TriggerCLI = "cli"

// session wires the task graph for one command
type session struct {
	env    *tasks.Env
	deps   engine.Dependencies
	runner *engine.Runner
	loop   *devloop.Loop
}

func (c *CLI) newSession(cleanState bool) (*session, error) {
	cfg := c.project

	env := tasks.NewEnv(c.root, cfg, c.logger)
	env.Output = c.output
	env.Strict = c.config.Strict
	env.CleanState = cleanState

	factory := engine.NewDependencyFactory(c.root, c.logger, cfg)
	deps := factory.CreateDefaults()
	if cleanState {
		// clean removes the state directory out from under the runner
		deps.State = nil
	}
	env.Recorder = deps.Metrics
	env.Notifier = deps.Notifier

	reg := engine.NewRegistry()
	runner := factory.NewRunner(reg, deps)

	loop := devloop.New(devloop.Options{
		Root:           c.root,
		ConfigPath:     c.configPath,
		Env:            env,
		Run:            runner.Run,
		Logger:         c.logger,
		Recorder:       deps.Metrics,
		MetricsHandler: deps.Metrics.Handler(),
		State:          deps.State,
	})

	if err := tasks.Register(reg, env, loop.Serve); err != nil {
		return nil, err
	}

	return &session{env: env, deps: deps, runner: runner, loop: loop}, nil
}

// runTasks runs names one after another until the first failure. The
// first interrupt cancels the run; a second one exits immediately.
func (c *CLI) runTasks(ctx context.Context, names []string, cleanState bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := c.newSession(cleanState)
	if err != nil {
		return err
	}

	pm := process.NewManager(c.logger)
	ctx, stop := pm.WithSignals(ctx)
	defer stop()

	if sm := s.deps.State; sm != nil {
		pm.RegisterShutdownHandler(func() {
			if err := sm.Cleanup(); err != nil {
				c.logger.Debug("Failed to clean up task state", logger.WithError(err))
			}
		})
	}
	defer pm.Shutdown()

	ctx = pctx.WithTrigger(ctx, TriggerCLI)
	err = s.runner.Run(ctx, names...)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// stopping the dev server is the normal way out of dev
		select {
		case <-s.loop.Ready():
			c.printInfo("Stopped")
			return nil
		default:
		}
		c.printWarning("Interrupted")
	}
	return err
}
