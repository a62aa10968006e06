// Package flow implements the per-domain conversation state machines. Each
// flow is a named task type with an enumerated step set and a continuation
// entry point; suspension between turns lives entirely in the persisted task,
// never in memory.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
)

// Input is one inbound event forwarded to a flow: free text, an opaque button
// identifier, or both.
type Input struct {
	Text     string
	ButtonID string
}

// Choice returns the button id when present, otherwise the trimmed text.
func (in Input) Choice() string {
	if in.ButtonID != "" {
		return in.ButtonID
	}
	return in.Text
}

// Result is what a flow hands back for the actor's own conversation. Messages
// to third parties (an invited client, a notified coach) go out through the
// Notifier instead. Failed marks results the engine synthesized from an
// error; the response text is still user-facing, but the operation did not
// do what the actor asked.
type Result struct {
	Response string
	Buttons  []models.Button
	Failed   bool
}

// Notifier sends outbound messages to actors other than the one whose event
// is being processed. Delivery is not awaited beyond the transport call.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
}

// Deps bundles the collaborators every flow works against.
type Deps struct {
	Store         store.Store
	Tasks         *tasks.Store
	Relationships *relationship.Service
	Notifier      Notifier
}

// Flow is the continuation logic for one task type.
type Flow interface {
	Type() models.FlowType
	// RestartCommand is the command the user is told to re-run after a flow
	// terminates on an error.
	RestartCommand() string
	// Start creates the running task and returns the opening prompt. The seed
	// payload carries context the initiator already resolved, such as a
	// removal target or an invitation token.
	Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error)
	// Continue advances the running task by one inbound event.
	Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error)
}

// Engine owns the flow registry and the error boundary. No error from a flow
// escapes Engine; everything is normalized into a Result and the task is
// never left running after a failure.
type Engine struct {
	deps  Deps
	flows map[models.FlowType]Flow
}

// NewEngine builds an engine with all default flows registered.
func NewEngine(deps Deps) *Engine {
	e := &Engine{deps: deps, flows: make(map[models.FlowType]Flow)}
	e.Register(NewRegistrationFlow(deps))
	e.Register(NewLoginFlow(deps))
	e.Register(NewClientCreationFlow(deps))
	e.Register(NewCoachInvitationFlow(deps))
	e.Register(NewRemovalFlow(deps))
	return e
}

// Register associates a flow with its task type.
func (e *Engine) Register(f Flow) {
	e.flows[f.Type()] = f
}

// Get retrieves the flow for a task type.
func (e *Engine) Get(ft models.FlowType) (Flow, bool) {
	f, ok := e.flows[ft]
	return f, ok
}

// Start launches a flow for the actor. A running task for (actor, role) makes
// the launch fail with a message pointing at the cancel command.
func (e *Engine) Start(ctx context.Context, ft models.FlowType, actor string, role models.Role, seed models.Payload) Result {
	f, ok := e.Get(ft)
	if !ok {
		slog.Error("Flow Start unknown flow type", "flowType", ft, "actor", actor)
		return Result{Response: msgUnknownState, Failed: true}
	}
	res, err := f.Start(ctx, actor, role, seed)
	if err != nil {
		if errors.Is(err, models.ErrTaskRunning) {
			slog.Debug("Flow Start blocked by running task", "flowType", ft, "actor", actor, "role", role)
			return Result{Response: msgTaskAlreadyRunning, Failed: true}
		}
		slog.Error("Flow Start failed", "flowType", ft, "actor", actor, "error", err)
		return e.failed(ctx, actor, role, f)
	}
	return res
}

// Continue forwards the event to the task's flow and applies the common
// failure semantics: any error terminates the task and the user is asked to
// restart; an unrecognized task type stops the task and falls back.
func (e *Engine) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) Result {
	f, ok := e.Get(task.Type)
	if !ok {
		slog.Error("Flow Continue unrecognized task type, stopping task",
			"flowType", task.Type, "taskID", task.ID, "actor", actor, "error", models.ErrState)
		if err := e.deps.Tasks.Stop(ctx, task.ID, role); err != nil {
			slog.Error("Flow Continue failed to stop orphaned task", "taskID", task.ID, "error", err)
		}
		return Result{Response: msgUnknownState, Failed: true}
	}
	res, err := f.Continue(ctx, actor, role, input, task)
	if err != nil {
		slog.Error("Flow Continue failed, terminating task",
			"flowType", task.Type, "taskID", task.ID, "step", task.Step, "actor", actor, "error", err)
		if stopErr := e.deps.Tasks.Stop(ctx, task.ID, role); stopErr != nil {
			slog.Error("Flow Continue failed to stop task after error", "taskID", task.ID, "error", stopErr)
		}
		return Result{Response: apology(f.RestartCommand()), Failed: true}
	}
	return res
}

func (e *Engine) failed(ctx context.Context, actor string, role models.Role, f Flow) Result {
	if task, err := e.deps.Tasks.StopRunning(ctx, actor, role); err != nil {
		slog.Error("Flow cleanup after failure could not stop task", "actor", actor, "role", role, "error", err)
	} else if task != nil {
		slog.Debug("Flow cleanup stopped task after failure", "taskID", task.ID)
	}
	return Result{Response: apology(f.RestartCommand()), Failed: true}
}

// Shared user-facing strings. Flow-specific catalogs live in each flow file.
const (
	msgUnknownState       = "Something went wrong with your current conversation. Please try your last command again."
	msgTaskAlreadyRunning = "You already have something in progress. Send /cancel to abandon it first."
)

func apology(restartCommand string) string {
	return fmt.Sprintf("Sorry, something went wrong on our side. Please start again with %s.", restartCommand)
}
