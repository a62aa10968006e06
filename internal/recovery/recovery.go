// Package recovery restores conversation state after an application restart.
//
// CoachLink keeps all task state in the store, so a restart loses nothing;
// what it does lose is momentum. Components register themselves with the
// Manager and are given a chance at boot to re-surface whatever they left
// hanging, such as tasks whose actors never saw a reply to their last
// message.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Recoverable is a component that can restore its state at startup.
type Recoverable interface {
	// RecoverState is called once during application startup.
	RecoverState(ctx context.Context) error
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component to recover at startup.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll runs recovery for every registered component. A component
// failure is logged and counted but does not stop the others.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))

	recovered := 0
	failed := 0
	for _, r := range m.recoverables {
		if err := r.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", r))
			failed++
			continue
		}
		recovered++
	}

	slog.Info("Application recovery completed", "recovered", recovered, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d failures out of %d components", failed, len(m.recoverables))
	}
	return nil
}

// TaskNudger re-surfaces running tasks that have idled past a threshold. The
// scheduler's nudge service satisfies this.
type TaskNudger interface {
	NudgeStalled(ctx context.Context, idle time.Duration) (int, error)
}

// TaskRecovery re-offers every task that was running when the process went
// down. The zero idle threshold means any running task qualifies: if the
// process restarted, the actor's last message may never have been answered.
type TaskRecovery struct {
	nudger TaskNudger
}

// NewTaskRecovery creates a task recovery component over the given nudger.
func NewTaskRecovery(nudger TaskNudger) *TaskRecovery {
	return &TaskRecovery{nudger: nudger}
}

// RecoverState nudges every running task, regardless of how recently it was
// touched.
func (t *TaskRecovery) RecoverState(ctx context.Context) error {
	nudged, err := t.nudger.NudgeStalled(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to recover running tasks: %w", err)
	}
	slog.Info("Task recovery complete", "nudged", nudged)
	return nil
}
