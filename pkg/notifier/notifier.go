// Package notifier provides desktop notifications for task results
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/haunt/pkg/logger"
)

// notify is replaced in tests
var notify = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

var beep = func() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// TaskNotifier sends task notifications
type TaskNotifier struct {
	enabled       bool
	notifySuccess bool
	sound         bool
	logger        logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// NotifySuccess also announces successful runs; failures always notify
	NotifySuccess bool
	Sound         bool
}

// New creates a new task notifier
func New(config Config, log logger.Logger) *TaskNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &TaskNotifier{
		enabled:       config.Enabled,
		notifySuccess: config.NotifySuccess,
		sound:         config.Sound,
		logger:        log,
	}
}

// Enabled reports whether notifications are sent
func (n *TaskNotifier) Enabled() bool {
	return n != nil && n.enabled
}

// NotifyTaskSuccess notifies that a task finished
func (n *TaskNotifier) NotifyTaskSuccess(task string, duration time.Duration) {
	if !n.Enabled() || !n.notifySuccess {
		return
	}
	n.send("✅ haunt", fmt.Sprintf("%s finished in %s", task, FormatDuration(duration)), false)
}

// NotifyTaskFailure notifies that a task failed
func (n *TaskNotifier) NotifyTaskFailure(task string, err error) {
	if !n.Enabled() {
		return
	}
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	n.send("❌ haunt: "+task+" failed", message, n.sound)
}

// NotifyLintProblems announces lint findings
func (n *TaskNotifier) NotifyLintProblems(task string, errors, warnings int) {
	if !n.Enabled() || errors+warnings == 0 {
		return
	}
	n.send("👻 haunt: "+task, fmt.Sprintf("%d errors, %d warnings", errors, warnings), false)
}

func (n *TaskNotifier) send(title, message string, withSound bool) {
	if err := notify(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
	}
	if withSound {
		if err := beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

// FormatDuration renders a duration the way task logs show it
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
