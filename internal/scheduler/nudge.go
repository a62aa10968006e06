package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/tasks"
)

// Nudge service defaults.
const (
	// DefaultNudgeCron scans for stalled tasks every 15 minutes.
	DefaultNudgeCron = "*/15 * * * *"
	// DefaultIdleThreshold is how long a task may sit untouched before the
	// actor is nudged.
	DefaultIdleThreshold = time.Hour
	// DefaultScanTimeout bounds a single scan run.
	DefaultScanTimeout = 2 * time.Minute
)

// Notifier sends outbound messages to actors. The messaging service satisfies
// this.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
}

// NudgeOpts holds nudge service configuration.
type NudgeOpts struct {
	CronExpr      string
	IdleThreshold time.Duration
}

// NudgeOption configures the nudge service.
type NudgeOption func(*NudgeOpts)

// WithNudgeCron overrides the scan schedule.
func WithNudgeCron(expr string) NudgeOption {
	return func(o *NudgeOpts) { o.CronExpr = expr }
}

// WithIdleThreshold overrides how long a task may idle before a nudge.
func WithIdleThreshold(d time.Duration) NudgeOption {
	return func(o *NudgeOpts) { o.IdleThreshold = d }
}

// NudgeService re-surfaces running tasks whose actors have gone quiet. Each
// nudge offers the actor a choice between resuming and abandoning the task;
// the button IDs are understood by the message router.
type NudgeService struct {
	tasks    *tasks.Store
	notifier Notifier
	opts     NudgeOpts
}

// NewNudgeService creates a nudge service over the task store.
func NewNudgeService(taskStore *tasks.Store, notifier Notifier, options ...NudgeOption) *NudgeService {
	opts := NudgeOpts{
		CronExpr:      DefaultNudgeCron,
		IdleThreshold: DefaultIdleThreshold,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &NudgeService{tasks: taskStore, notifier: notifier, opts: opts}
}

// Schedule registers the periodic scan with the scheduler.
func (n *NudgeService) Schedule(s *Scheduler) error {
	if err := s.AddJob(n.opts.CronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultScanTimeout)
		defer cancel()
		if _, err := n.NudgeStalled(ctx, n.opts.IdleThreshold); err != nil {
			slog.Error("NudgeService scan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule nudge scan: %w", err)
	}
	slog.Info("NudgeService scheduled", "cron", n.opts.CronExpr, "idleThreshold", n.opts.IdleThreshold)
	return nil
}

// NudgeStalled nudges every running task idle for longer than the given
// duration and reports how many actors were reached. A nudge counts as
// activity on the task, so each task is reminded at most once per idle
// window. Send failures are logged and skipped; the scan keeps going.
func (n *NudgeService) NudgeStalled(ctx context.Context, idle time.Duration) (int, error) {
	stalled, err := n.tasks.ListStalled(ctx, idle)
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled tasks: %w", err)
	}

	nudged := 0
	for i := range stalled {
		task := &stalled[i]
		if err := n.nudge(ctx, task); err != nil {
			slog.Error("NudgeService nudge failed", "error", err, "taskID", task.ID, "actor", task.Actor)
			continue
		}
		nudged++
	}
	if nudged > 0 {
		slog.Info("NudgeService scan complete", "stalled", len(stalled), "nudged", nudged)
	}
	return nudged, nil
}

func (n *NudgeService) nudge(ctx context.Context, task *models.Task) error {
	body := fmt.Sprintf("You were in the middle of %s. Want to pick up where you left off?", flowDescription(task.Type))
	buttons := []models.Button{
		{ID: "resume_task_" + task.ID, Label: "Resume"},
		{ID: "abandon_task_" + task.ID, Label: "Abandon"},
	}
	if err := n.notifier.SendButtons(ctx, task.Actor, body, buttons); err != nil {
		return fmt.Errorf("failed to send nudge: %w", err)
	}
	// Refresh the task timestamp so the next scan does not nudge it again
	// until it has idled for another full window.
	if err := n.tasks.Advance(ctx, task.ID, task.Role, task.Step, nil); err != nil {
		return fmt.Errorf("failed to touch nudged task: %w", err)
	}
	slog.Debug("NudgeService actor nudged", "taskID", task.ID, "actor", task.Actor, "type", task.Type)
	return nil
}

// flowDescription renders a task type as a human phrase for nudge messages.
func flowDescription(t models.FlowType) string {
	switch t {
	case models.FlowTypeRegistration:
		return "your registration"
	case models.FlowTypeLogin:
		return "choosing your role"
	case models.FlowTypeClientCreation:
		return "adding a client"
	case models.FlowTypeCoachInvitation:
		return "inviting a coach"
	case models.FlowTypeRemoval:
		return "confirming a removal"
	default:
		return "something"
	}
}
