package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
	"github.com/coachlinkhq/coachlink/internal/testutil"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("AddJob() error: %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("AddJob() accepted an invalid expression")
	}
}

// saveStalledTask writes a running task whose last activity is idle ago.
func saveStalledTask(t *testing.T, st store.Store, actor string, flowType models.FlowType, idle time.Duration) models.Task {
	t.Helper()
	now := time.Now()
	task := models.Task{
		ID:        uuid.NewString(),
		Actor:     actor,
		Role:      models.RoleCoach,
		Type:      flowType,
		Status:    models.TaskStatusRunning,
		Step:      "ask_client_name",
		Payload:   models.Payload{"client_name": "Ana"},
		CreatedAt: now.Add(-idle),
		UpdatedAt: now.Add(-idle),
	}
	if err := st.SaveTask(task); err != nil {
		t.Fatalf("SaveTask() error: %v", err)
	}
	return task
}

func TestNudgeStalled(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	taskStore := tasks.NewStore(st)
	rec := testutil.NewMessageRecorder()
	nudger := NewNudgeService(taskStore, rec)

	task := saveStalledTask(t, st, "+15550001111", models.FlowTypeClientCreation, 2*time.Hour)

	nudged, err := nudger.NudgeStalled(ctx, time.Hour)
	if err != nil {
		t.Fatalf("NudgeStalled() error: %v", err)
	}
	if nudged != 1 {
		t.Fatalf("nudged = %d, want 1", nudged)
	}

	msg := rec.LastTo("+15550001111")
	if msg == nil {
		t.Fatal("no nudge message sent")
	}
	if len(msg.Buttons) != 2 {
		t.Fatalf("nudge has %d buttons, want 2", len(msg.Buttons))
	}
	if got := msg.Buttons[0].ID; got != "resume_task_"+task.ID {
		t.Errorf("first button = %q, want resume_task_%s", got, task.ID)
	}
	if got := msg.Buttons[1].ID; got != "abandon_task_"+task.ID {
		t.Errorf("second button = %q, want abandon_task_%s", got, task.ID)
	}

	// The nudge refreshed the task, so neither its step nor its payload
	// changed and it is not picked up again within the same idle window.
	saved, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if saved.Step != task.Step {
		t.Errorf("step changed to %q after nudge", saved.Step)
	}
	if saved.Payload["client_name"] != "Ana" {
		t.Errorf("payload changed after nudge: %v", saved.Payload)
	}

	nudged, err = nudger.NudgeStalled(ctx, time.Hour)
	if err != nil {
		t.Fatalf("NudgeStalled() second scan error: %v", err)
	}
	if nudged != 0 {
		t.Errorf("second scan nudged %d tasks, want 0", nudged)
	}
}

func TestNudgeStalledIgnoresFreshTasks(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	taskStore := tasks.NewStore(st)
	rec := testutil.NewMessageRecorder()
	nudger := NewNudgeService(taskStore, rec)

	if _, err := taskStore.Create(ctx, "+15550002222", models.RoleClient, models.FlowTypeRegistration, nil); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	nudged, err := nudger.NudgeStalled(ctx, time.Hour)
	if err != nil {
		t.Fatalf("NudgeStalled() error: %v", err)
	}
	if nudged != 0 {
		t.Errorf("nudged = %d, want 0", nudged)
	}
	if len(rec.Sent()) != 0 {
		t.Errorf("messages sent for a fresh task: %v", rec.Sent())
	}
}

func TestNudgeStalledSkipsFailedSends(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	taskStore := tasks.NewStore(st)
	rec := testutil.NewMessageRecorder()
	nudger := NewNudgeService(taskStore, rec)

	saveStalledTask(t, st, "+15550003333", models.FlowTypeRegistration, 2*time.Hour)
	saveStalledTask(t, st, "+15550004444", models.FlowTypeCoachInvitation, 2*time.Hour)

	rec.FailNext = errors.New("transport down")
	nudged, err := nudger.NudgeStalled(ctx, time.Hour)
	if err != nil {
		t.Fatalf("NudgeStalled() error: %v", err)
	}
	if nudged != 1 {
		t.Errorf("nudged = %d, want 1 (one send failed)", nudged)
	}
	if len(rec.Sent()) != 1 {
		t.Errorf("recorded %d sends, want 1", len(rec.Sent()))
	}
}
