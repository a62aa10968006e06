// Package tasks manages the lifecycle of persisted multi-step activities.
//
// A task suspends a multi-turn conversation flow between inbound events; all
// continuation state lives in the store, never in memory. The package enforces
// the invariant that at most one task is running per (actor, role).
package tasks

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/store"
)

// lockStripes is the size of the advisory lock stripe. Collisions between
// distinct (actor, role) pairs only cost contention, never correctness.
const lockStripes = 64

// Store owns task lifecycle on top of a storage backend. Creation runs under a
// per-(actor, role) advisory lock so the check-then-create is atomic within
// the process; the storage layer's partial unique index backstops it across
// processes.
type Store struct {
	store store.Store
	locks [lockStripes]sync.Mutex
}

// NewStore creates a task store backed by the given storage backend.
func NewStore(st store.Store) *Store {
	slog.Debug("Creating task store")
	return &Store{store: st}
}

func (s *Store) lockFor(actor string, role models.Role) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(actor))
	h.Write([]byte("|"))
	h.Write([]byte(role))
	return &s.locks[h.Sum32()%lockStripes]
}

// Create starts a new running task for (actor, role). It returns
// models.ErrTaskRunning if one is already running.
func (s *Store) Create(ctx context.Context, actor string, role models.Role, flowType models.FlowType, payload models.Payload) (*models.Task, error) {
	mu := s.lockFor(actor, role)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.store.GetRunningTask(actor, role)
	if err != nil {
		slog.Error("TaskStore Create running-task check failed", "error", err, "actor", actor, "role", role)
		return nil, fmt.Errorf("failed to check running task: %w", err)
	}
	if existing != nil {
		slog.Debug("TaskStore Create rejected, task already running", "actor", actor, "role", role, "existing", existing.ID)
		return nil, fmt.Errorf("%w: %s", models.ErrTaskRunning, existing.Type)
	}

	now := time.Now()
	task := models.Task{
		ID:        uuid.NewString(),
		Actor:     actor,
		Role:      role,
		Type:      flowType,
		Status:    models.TaskStatusRunning,
		Payload:   payload.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveTask(task); err != nil {
		slog.Error("TaskStore Create save failed", "error", err, "actor", actor, "role", role, "type", flowType)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	slog.Info("TaskStore task created", "id", task.ID, "actor", actor, "role", role, "type", flowType)
	return &task, nil
}

// CreateIfAbsent atomically returns the running task for (actor, role) or
// creates a new one. The second return value reports whether a task was
// created.
func (s *Store) CreateIfAbsent(ctx context.Context, actor string, role models.Role, flowType models.FlowType, payload models.Payload) (*models.Task, bool, error) {
	mu := s.lockFor(actor, role)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.store.GetRunningTask(actor, role)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check running task: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	task := models.Task{
		ID:        uuid.NewString(),
		Actor:     actor,
		Role:      role,
		Type:      flowType,
		Status:    models.TaskStatusRunning,
		Payload:   payload.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveTask(task); err != nil {
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}
	slog.Info("TaskStore task created", "id", task.ID, "actor", actor, "role", role, "type", flowType)
	return &task, true, nil
}

// GetRunning returns the single running task for (actor, role), or nil.
func (s *Store) GetRunning(ctx context.Context, actor string, role models.Role) (*models.Task, error) {
	task, err := s.store.GetRunningTask(actor, role)
	if err != nil {
		slog.Error("TaskStore GetRunning failed", "error", err, "actor", actor, "role", role)
		return nil, fmt.Errorf("failed to get running task: %w", err)
	}
	return task, nil
}

// Advance merges payload into the task, moves it to the given step, and
// persists it. The task's status is untouched.
func (s *Store) Advance(ctx context.Context, taskID string, role models.Role, step models.Step, payload models.Payload) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		slog.Error("TaskStore Advance get failed", "error", err, "id", taskID)
		return fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if task.Role != role {
		return fmt.Errorf("task %s belongs to role %s, not %s: %w", taskID, task.Role, role, models.ErrState)
	}

	task.Step = step
	task.Payload = task.Payload.Clone().Merge(payload)
	task.UpdatedAt = time.Now()
	if err := s.store.SaveTask(*task); err != nil {
		slog.Error("TaskStore Advance save failed", "error", err, "id", taskID, "step", step)
		return fmt.Errorf("failed to advance task %s: %w", taskID, err)
	}
	slog.Debug("TaskStore task advanced", "id", taskID, "step", step)
	return nil
}

// Complete terminates a task normally. Calling it on an already-terminal task
// is a no-op.
func (s *Store) Complete(ctx context.Context, taskID string, role models.Role) error {
	return s.terminate(ctx, taskID, role, models.TaskStatusCompleted)
}

// Stop terminates a task abnormally (cancel or failure). Calling it on an
// already-terminal task is a no-op.
func (s *Store) Stop(ctx context.Context, taskID string, role models.Role) error {
	return s.terminate(ctx, taskID, role, models.TaskStatusStopped)
}

func (s *Store) terminate(ctx context.Context, taskID string, role models.Role, status models.TaskStatus) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		slog.Error("TaskStore terminate get failed", "error", err, "id", taskID)
		return fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if task.Status.IsTerminal() {
		slog.Debug("TaskStore terminate no-op, task already terminal", "id", taskID, "status", task.Status)
		return nil
	}
	if task.Role != role {
		return fmt.Errorf("task %s belongs to role %s, not %s: %w", taskID, task.Role, role, models.ErrState)
	}

	task.Status = status
	task.UpdatedAt = time.Now()
	if err := s.store.SaveTask(*task); err != nil {
		slog.Error("TaskStore terminate save failed", "error", err, "id", taskID, "status", status)
		return fmt.Errorf("failed to terminate task %s: %w", taskID, err)
	}
	slog.Info("TaskStore task terminated", "id", taskID, "status", status)
	return nil
}

// StopRunning stops whatever task is running for (actor, role), if any. It
// returns the stopped task, or nil when nothing was running. Used by the
// universal cancel command.
func (s *Store) StopRunning(ctx context.Context, actor string, role models.Role) (*models.Task, error) {
	task, err := s.GetRunning(ctx, actor, role)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	if err := s.Stop(ctx, task.ID, role); err != nil {
		return nil, err
	}
	return task, nil
}

// ListStalled returns running tasks that have been idle longer than the given
// duration. The nudge scheduler uses this to re-surface stuck flows.
func (s *Store) ListStalled(ctx context.Context, idle time.Duration) ([]models.Task, error) {
	stalled, err := s.store.ListRunningTasksBefore(time.Now().Add(-idle))
	if err != nil {
		slog.Error("TaskStore ListStalled failed", "error", err)
		return nil, fmt.Errorf("failed to list stalled tasks: %w", err)
	}
	return stalled, nil
}
