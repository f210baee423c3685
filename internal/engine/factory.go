package engine

import (
	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/internal/state"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/notifier"
	"github.com/poltergeist/haunt/pkg/types"
)

// Dependencies are the collaborators a Runner records runs with
type Dependencies struct {
	State    *state.StateManager
	Metrics  *metrics.PrometheusRecorder
	Notifier *notifier.TaskNotifier
}

// DependencyFactory creates the default runner dependencies for a project
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	config      *types.Config
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, config *types.Config) *DependencyFactory {
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		config:      config,
	}
}

// CreateDefaults creates all default dependencies
func (f *DependencyFactory) CreateDefaults() Dependencies {
	return Dependencies{
		State:    state.NewStateManager(f.projectRoot, f.logger),
		Metrics:  metrics.NewPrometheusRecorder(nil),
		Notifier: f.createNotifier(),
	}
}

// CreateWithOverrides creates the defaults and replaces every non-nil
// field of overrides
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Dependencies {
	deps := f.CreateDefaults()
	if overrides.State != nil {
		deps.State = overrides.State
	}
	if overrides.Metrics != nil {
		deps.Metrics = overrides.Metrics
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	return deps
}

// NewRunner creates a runner over reg wired to deps
func (f *DependencyFactory) NewRunner(reg *Registry, deps Dependencies) *Runner {
	opts := []RunnerOption{
		WithState(deps.State),
		WithNotifier(deps.Notifier),
		WithParallelism(f.config.Parallelism),
	}
	if deps.Metrics != nil {
		opts = append(opts, WithRecorder(deps.Metrics))
	}
	return NewRunner(reg, f.logger, opts...)
}

func (f *DependencyFactory) createNotifier() *notifier.TaskNotifier {
	return notifier.New(notifier.Config{
		Enabled:       f.config.Notifications.Enabled,
		NotifySuccess: f.config.Notifications.Success,
		Sound:         f.config.Notifications.Sound,
	}, f.logger)
}
