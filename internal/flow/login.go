package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// Login steps.
const (
	StepLoginAwaitRole models.Step = "await_role_choice"
)

// Login buttons.
const (
	BtnLoginCoach  = "login_coach"
	BtnLoginClient = "login_client"
)

// Login message catalog.
const (
	msgLoginAskRole    = "You're registered as both a coach and a client. Which role do you want to use right now?"
	msgLoginBadChoice  = "Please pick one of the two roles."
	msgLoginDone       = "You're now acting as a %s. Send /menu to see your options."
	msgLoginSingleRole = "You're now acting as a %s."
)

// LoginFlow lets a dual-role actor choose which role their messages apply
// to. Actors holding a single role are switched without a question.
type LoginFlow struct {
	deps Deps
}

// NewLoginFlow creates the login flow.
func NewLoginFlow(deps Deps) *LoginFlow {
	return &LoginFlow{deps: deps}
}

// Type implements Flow.
func (f *LoginFlow) Type() models.FlowType { return models.FlowTypeLogin }

// RestartCommand implements Flow.
func (f *LoginFlow) RestartCommand() string { return "/login" }

// Start implements Flow. For single-role actors it resolves immediately
// without creating a task.
func (f *LoginFlow) Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error) {
	user, err := f.deps.Store.GetUser(actor)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get user %s: %w", actor, err)
	}
	if user == nil {
		return Result{}, fmt.Errorf("user %s: %w", actor, models.ErrNotFound)
	}

	switch {
	case user.HasRole(models.RoleCoach) && user.HasRole(models.RoleClient):
		task, err := f.deps.Tasks.Create(ctx, actor, role, models.FlowTypeLogin, seed.Clone())
		if err != nil {
			return Result{}, err
		}
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepLoginAwaitRole, nil); err != nil {
			return Result{}, err
		}
		return Result{
			Response: msgLoginAskRole,
			Buttons: []models.Button{
				{ID: BtnLoginCoach, Label: "Coach"},
				{ID: BtnLoginClient, Label: "Client"},
			},
		}, nil
	case user.HasRole(models.RoleCoach):
		if err := f.activate(ctx, user, models.RoleCoach); err != nil {
			return Result{}, err
		}
		return Result{Response: fmt.Sprintf(msgLoginSingleRole, models.RoleCoach)}, nil
	case user.HasRole(models.RoleClient):
		if err := f.activate(ctx, user, models.RoleClient); err != nil {
			return Result{}, err
		}
		return Result{Response: fmt.Sprintf(msgLoginSingleRole, models.RoleClient)}, nil
	default:
		return Result{}, fmt.Errorf("user %s holds no role: %w", actor, models.ErrDataIntegrity)
	}
}

// Continue implements Flow.
func (f *LoginFlow) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	if task.Step != StepLoginAwaitRole {
		return Result{}, fmt.Errorf("login step %q: %w", task.Step, models.ErrState)
	}

	var chosen models.Role
	switch strings.ToLower(strings.TrimSpace(input.Choice())) {
	case BtnLoginCoach, string(models.RoleCoach):
		chosen = models.RoleCoach
	case BtnLoginClient, string(models.RoleClient):
		chosen = models.RoleClient
	default:
		return Result{
			Response: msgLoginBadChoice,
			Buttons: []models.Button{
				{ID: BtnLoginCoach, Label: "Coach"},
				{ID: BtnLoginClient, Label: "Client"},
			},
		}, nil
	}

	user, err := f.deps.Store.GetUser(actor)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get user %s: %w", actor, err)
	}
	if user == nil {
		return Result{}, fmt.Errorf("user %s: %w", actor, models.ErrNotFound)
	}
	if !user.HasRole(chosen) {
		return Result{}, fmt.Errorf("user %s does not hold role %s: %w", actor, chosen, models.ErrDataIntegrity)
	}
	if err := f.activate(ctx, user, chosen); err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgLoginDone, chosen)}, nil
}

func (f *LoginFlow) activate(ctx context.Context, user *models.User, role models.Role) error {
	user.ActiveRole = role
	user.UpdatedAt = time.Now()
	if err := f.deps.Store.SaveUser(*user); err != nil {
		return fmt.Errorf("failed to save active role for %s: %w", user.Phone, err)
	}
	return nil
}
