// Package router is the single entry point for inbound conversation events.
// It classifies each event (button tap, universal command, task continuation,
// onboarding, fresh intent) and dispatches it to exactly one handler,
// normalizing every outcome into a RouteResult.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/flow"
	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
)

// IntentClassifier resolves free-form text into a command-shaped intent when
// no task is running. It is an external collaborator; the router treats a
// failure as "no intent".
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, actor, text string) (string, error)
}

// Router dispatches inbound events. All paths return a RouteResult; no error
// escapes to the transport layer.
type Router struct {
	store    store.Store
	tasks    *tasks.Store
	engine   *flow.Engine
	rels     *relationship.Service
	notifier flow.Notifier
	intents  IntentClassifier
}

// NewRouter creates a router. The intent classifier may be nil, in which case
// unmatched free text gets the help response.
func NewRouter(st store.Store, ts *tasks.Store, engine *flow.Engine, rels *relationship.Service, notifier flow.Notifier, intents IntentClassifier) *Router {
	slog.Debug("Creating router")
	return &Router{store: st, tasks: ts, engine: engine, rels: rels, notifier: notifier, intents: intents}
}

// Handler labels carried in RouteResult for diagnostics.
const (
	HandlerButton       = "button"
	HandlerCommand      = "command"
	HandlerRegistration = "registration"
	HandlerOnboarding   = "onboarding"
	HandlerLogin        = "login"
	HandlerFlow         = "flow"
	HandlerIntent       = "intent"
	HandlerHelp         = "help"
)

// Router message catalog.
const (
	msgCancelled      = "Okay, I've cancelled that. Send /menu to see your options."
	msgNothingRunning = "There's nothing in progress to cancel."
	msgHelp           = "Here's what you can send me:\n/register — create your account\n/login — switch between your roles\n/addclient — add or invite a client (coaches)\n/addcoach — invite your coach (clients)\n/cancel — abandon what we're doing\n/menu — see this again"
	msgMenuCoach      = "What would you like to do?\n/addclient — add or invite a client\n/cancel — abandon the current conversation\n/help — all commands"
	msgMenuClient     = "What would you like to do?\n/addcoach — invite your coach\n/cancel — abandon the current conversation\n/help — all commands"
	msgNotUnderstood  = "I didn't catch that. Send /help to see what I can do."
	msgWrongRoleCoach = "That's a coach command. Send /login to switch roles if you're also a coach."
	msgWrongRoleClient = "That's a client command. Send /login to switch roles if you're also a client."
)

// Route classifies one inbound event. Exactly one branch runs; first match
// wins.
func (r *Router) Route(ctx context.Context, actor, text, buttonID string) models.RouteResult {
	slog.Debug("Router Route invoked", "actor", actor, "hasText", text != "", "buttonID", buttonID)

	// 1. Button taps resolve through the dispatcher, which carries its own
	// prefix table.
	if buttonID != "" {
		return r.dispatchButton(ctx, actor, buttonID)
	}

	trimmed := strings.TrimSpace(text)

	// 2. Universal commands work regardless of state.
	if res, ok := r.universalCommand(ctx, actor, trimmed); ok {
		return res
	}

	// 3. A running registration task wins over everything else because the
	// actor may not exist as a user yet. Either role is checked.
	if task := r.runningRegistration(ctx, actor); task != nil {
		res := r.engine.Continue(ctx, actor, task.Role, flow.Input{Text: trimmed}, task)
		return routed(HandlerRegistration, res)
	}

	user, err := r.store.GetUser(actor)
	if err != nil {
		slog.Error("Router user lookup failed", "actor", actor, "error", err)
		return models.RouteResult{Success: false, Response: msgNotUnderstood, Handler: HandlerHelp}
	}

	// 4. Unknown actors go straight to onboarding.
	if user == nil {
		res := r.engine.Start(ctx, models.FlowTypeRegistration, actor, models.RoleClient, nil)
		return routed(HandlerOnboarding, res)
	}

	// 5. A known actor with no active role picks one first. A login task may
	// already be waiting on the role answer, so continue it rather than
	// colliding with a fresh start.
	if !models.IsValidRole(user.ActiveRole) {
		if task := r.runningTask(ctx, actor); task != nil {
			res := r.engine.Continue(ctx, actor, task.Role, flow.Input{Text: trimmed}, task)
			return routed(HandlerLogin, res)
		}
		res := r.engine.Start(ctx, models.FlowTypeLogin, actor, models.RoleClient, nil)
		return routed(HandlerLogin, res)
	}

	// 6. Running task under the active role continues; otherwise the text is
	// a command or a fresh intent.
	role := user.ActiveRole
	task, err := r.tasks.GetRunning(ctx, actor, role)
	if err != nil {
		slog.Error("Router running-task lookup failed", "actor", actor, "role", role, "error", err)
		return models.RouteResult{Success: false, Response: msgNotUnderstood, Handler: HandlerHelp}
	}
	if task != nil {
		res := r.engine.Continue(ctx, actor, role, flow.Input{Text: trimmed}, task)
		return routed(HandlerFlow, res)
	}

	if strings.HasPrefix(trimmed, "/") {
		return r.command(ctx, actor, user, trimmed)
	}
	return r.freeForm(ctx, actor, user, trimmed)
}

// universalCommand handles the commands that apply in any state.
func (r *Router) universalCommand(ctx context.Context, actor, text string) (models.RouteResult, bool) {
	switch strings.ToLower(text) {
	case "/cancel":
		return r.cancel(ctx, actor), true
	case "/help":
		return models.RouteResult{Success: true, Response: msgHelp, Handler: HandlerCommand}, true
	case "/menu":
		return r.menu(ctx, actor), true
	default:
		return models.RouteResult{}, false
	}
}

// cancel stops whatever is running, under either role.
func (r *Router) cancel(ctx context.Context, actor string) models.RouteResult {
	stopped := false
	for _, role := range []models.Role{models.RoleCoach, models.RoleClient} {
		task, err := r.tasks.StopRunning(ctx, actor, role)
		if err != nil {
			slog.Error("Router cancel failed", "actor", actor, "role", role, "error", err)
			continue
		}
		if task != nil {
			stopped = true
			slog.Info("Router cancelled task", "actor", actor, "taskID", task.ID, "flowType", task.Type)
		}
	}
	if !stopped {
		return models.RouteResult{Success: true, Response: msgNothingRunning, Handler: HandlerCommand}
	}
	return models.RouteResult{Success: true, Response: msgCancelled, Handler: HandlerCommand}
}

func (r *Router) menu(ctx context.Context, actor string) models.RouteResult {
	user, err := r.store.GetUser(actor)
	if err != nil {
		slog.Error("Router menu user lookup failed", "actor", actor, "error", err)
	}
	if user == nil || user.ActiveRole != models.RoleCoach {
		return models.RouteResult{Success: true, Response: msgMenuClient, Handler: HandlerCommand}
	}
	return models.RouteResult{Success: true, Response: msgMenuCoach, Handler: HandlerCommand}
}

// runningRegistration finds a running registration task under either role.
func (r *Router) runningRegistration(ctx context.Context, actor string) *models.Task {
	for _, role := range []models.Role{models.RoleCoach, models.RoleClient} {
		task, err := r.tasks.GetRunning(ctx, actor, role)
		if err != nil {
			slog.Error("Router registration lookup failed", "actor", actor, "role", role, "error", err)
			continue
		}
		if task != nil && task.Type == models.FlowTypeRegistration {
			return task
		}
	}
	return nil
}

// runningTask finds any running task under either role.
func (r *Router) runningTask(ctx context.Context, actor string) *models.Task {
	for _, role := range []models.Role{models.RoleCoach, models.RoleClient} {
		task, err := r.tasks.GetRunning(ctx, actor, role)
		if err != nil {
			slog.Error("Router task lookup failed", "actor", actor, "role", role, "error", err)
			continue
		}
		if task != nil {
			return task
		}
	}
	return nil
}

// command dispatches slash commands for a logged-in actor with no running
// task.
func (r *Router) command(ctx context.Context, actor string, user *models.User, text string) models.RouteResult {
	switch strings.ToLower(text) {
	case "/register":
		res := r.engine.Start(ctx, models.FlowTypeRegistration, actor, models.RoleClient, nil)
		return routed(HandlerCommand, res)
	case "/login":
		res := r.engine.Start(ctx, models.FlowTypeLogin, actor, user.ActiveRole, nil)
		return routed(HandlerCommand, res)
	case "/addclient":
		if !user.HasRole(models.RoleCoach) || user.ActiveRole != models.RoleCoach {
			return models.RouteResult{Success: false, Response: msgWrongRoleCoach, Handler: HandlerCommand}
		}
		res := r.engine.Start(ctx, models.FlowTypeClientCreation, actor, models.RoleCoach, nil)
		return routed(HandlerCommand, res)
	case "/addcoach":
		if !user.HasRole(models.RoleClient) || user.ActiveRole != models.RoleClient {
			return models.RouteResult{Success: false, Response: msgWrongRoleClient, Handler: HandlerCommand}
		}
		res := r.engine.Start(ctx, models.FlowTypeCoachInvitation, actor, models.RoleClient, nil)
		return routed(HandlerCommand, res)
	default:
		return models.RouteResult{Success: false, Response: msgNotUnderstood, Handler: HandlerHelp}
	}
}

// freeForm asks the intent classifier for a command-shaped reading of the
// text and re-enters command dispatch. Classifier absence or failure falls
// back to the help response.
func (r *Router) freeForm(ctx context.Context, actor string, user *models.User, text string) models.RouteResult {
	if r.intents == nil {
		return models.RouteResult{Success: true, Response: msgNotUnderstood, Handler: HandlerHelp}
	}
	intent, err := r.intents.ClassifyIntent(ctx, actor, text)
	if err != nil {
		slog.Error("Router intent classification failed", "actor", actor, "error", err)
		return models.RouteResult{Success: true, Response: msgNotUnderstood, Handler: HandlerHelp}
	}
	slog.Debug("Router intent classified", "actor", actor, "intent", intent)

	switch intent {
	case "add_client":
		res := r.command(ctx, actor, user, "/addclient")
		res.Handler = HandlerIntent
		return res
	case "add_coach":
		res := r.command(ctx, actor, user, "/addcoach")
		res.Handler = HandlerIntent
		return res
	case "cancel":
		res := r.cancel(ctx, actor)
		res.Handler = HandlerIntent
		return res
	case "menu", "help":
		return models.RouteResult{Success: true, Response: msgHelp, Handler: HandlerIntent}
	default:
		return models.RouteResult{Success: true, Response: msgNotUnderstood, Handler: HandlerHelp}
	}
}

// routed adapts a flow result into the uniform route shape. Results the
// engine synthesized from an error surface as failures.
func routed(handler string, res flow.Result) models.RouteResult {
	return models.RouteResult{
		Success:  !res.Failed,
		Response: res.Response,
		Handler:  handler,
		Buttons:  res.Buttons,
	}
}

// errResult logs and normalizes an internal error.
func errResult(handler string, err error) models.RouteResult {
	slog.Error("Router handler failed", "handler", handler, "error", err)
	return models.RouteResult{Success: false, Response: msgNotUnderstood, Handler: handler}
}
