package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// Removal steps.
const (
	StepRMConfirm models.Step = "confirm_removal"
)

// Removal payload keys. The target is seeded by the button dispatcher, which
// resolved it from the remove_client_/remove_coach_ button identifier.
const (
	keyRMTargetID   = "target_id"
	keyRMTargetRole = "target_role"
)

// Removal buttons.
const (
	BtnRemovalYes = "confirm_removal_yes"
	BtnRemovalNo  = "confirm_removal_no"
)

// Removal message catalog.
const (
	msgRMConfirm      = "This will end your connection with %s. Are you sure?"
	msgRMDone         = "Done. You're no longer connected with %s."
	msgRMCancelled    = "No changes made."
	msgRMNotifyOther  = "%s ended your connection on CoachLink."
	msgRMNotConnected = "You're not connected with them, so there's nothing to remove."
)

// RemovalFlow ends an active relationship from either side, behind a confirm
// step. Both mirror records are deleted together.
type RemovalFlow struct {
	deps Deps
}

// NewRemovalFlow creates the removal flow.
func NewRemovalFlow(deps Deps) *RemovalFlow {
	return &RemovalFlow{deps: deps}
}

// Type implements Flow.
func (f *RemovalFlow) Type() models.FlowType { return models.FlowTypeRemoval }

// RestartCommand implements Flow.
func (f *RemovalFlow) RestartCommand() string { return "/remove" }

// Start implements Flow. The seed payload must carry the removal target.
func (f *RemovalFlow) Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error) {
	targetID := seed[keyRMTargetID]
	targetRole := models.Role(seed[keyRMTargetRole])
	if targetID == "" || !models.IsValidRole(targetRole) {
		return Result{}, fmt.Errorf("removal target missing from seed: %w", models.ErrValidation)
	}

	name, err := f.targetName(ctx, targetID, targetRole)
	if err != nil {
		return Result{}, err
	}

	task, err := f.deps.Tasks.Create(ctx, actor, role, models.FlowTypeRemoval, seed.Clone())
	if err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRMConfirm, nil); err != nil {
		return Result{}, err
	}
	return Result{
		Response: fmt.Sprintf(msgRMConfirm, name),
		Buttons: []models.Button{
			{ID: BtnRemovalYes, Label: "Yes, remove"},
			{ID: BtnRemovalNo, Label: "Keep it"},
		},
	}, nil
}

// Continue implements Flow.
func (f *RemovalFlow) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	if task.Step != StepRMConfirm {
		return Result{}, fmt.Errorf("removal step %q: %w", task.Step, models.ErrState)
	}

	switch input.Choice() {
	case BtnRemovalNo:
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgRMCancelled}, nil
	case BtnRemovalYes:
		return f.remove(ctx, actor, role, task)
	default:
		name, err := f.targetName(ctx, task.Payload[keyRMTargetID], models.Role(task.Payload[keyRMTargetRole]))
		if err != nil {
			return Result{}, err
		}
		return Result{
			Response: fmt.Sprintf(msgRMConfirm, name),
			Buttons: []models.Button{
				{ID: BtnRemovalYes, Label: "Yes, remove"},
				{ID: BtnRemovalNo, Label: "Keep it"},
			},
		}, nil
	}
}

func (f *RemovalFlow) remove(ctx context.Context, actor string, role models.Role, task *models.Task) (Result, error) {
	targetID := task.Payload[keyRMTargetID]
	targetRole := models.Role(task.Payload[keyRMTargetRole])

	user, err := f.deps.Store.GetUser(actor)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get user %s: %w", actor, err)
	}
	if user == nil {
		return Result{}, fmt.Errorf("user %s: %w", actor, models.ErrNotFound)
	}

	// Orient the mirror pair: the target role tells us which side the actor
	// holds.
	var coachID, clientID string
	switch targetRole {
	case models.RoleClient:
		coachID, clientID = user.CoachID, targetID
	case models.RoleCoach:
		coachID, clientID = targetID, user.ClientID
	}

	rel, err := f.deps.Relationships.CheckAnyRelationship(ctx, coachID, clientID)
	if err != nil {
		return Result{}, err
	}
	if rel == nil {
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgRMNotConnected}, nil
	}

	if err := f.deps.Relationships.Remove(ctx, coachID, clientID); err != nil {
		return Result{}, err
	}

	name, err := f.targetName(ctx, targetID, targetRole)
	if err != nil {
		return Result{}, err
	}
	f.notifyRemoved(ctx, user, targetID, targetRole)

	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgRMDone, name)}, nil
}

// notifyRemoved tells the other side. A failed notification does not undo
// the removal; it is logged and the flow completes.
func (f *RemovalFlow) notifyRemoved(ctx context.Context, user *models.User, targetID string, targetRole models.Role) {
	var phone, actorName string
	switch targetRole {
	case models.RoleClient:
		client, err := f.deps.Store.GetClient(targetID)
		if err != nil || client == nil {
			slog.Error("Removal could not load client for notification", "clientID", targetID, "error", err)
			return
		}
		phone = client.Phone
		if coach, err := f.deps.Store.GetCoach(user.CoachID); err == nil && coach != nil {
			actorName = coach.Name
		}
	case models.RoleCoach:
		coach, err := f.deps.Store.GetCoach(targetID)
		if err != nil || coach == nil {
			slog.Error("Removal could not load coach for notification", "coachID", targetID, "error", err)
			return
		}
		phone = coach.Phone
		if client, err := f.deps.Store.GetClient(user.ClientID); err == nil && client != nil {
			actorName = client.Name
		}
	}
	if actorName == "" {
		actorName = user.Phone
	}
	if err := f.deps.Notifier.SendText(ctx, phone, fmt.Sprintf(msgRMNotifyOther, actorName)); err != nil {
		slog.Error("Removal notification send failed", "to", phone, "error", err)
	}
}

func (f *RemovalFlow) targetName(ctx context.Context, targetID string, targetRole models.Role) (string, error) {
	switch targetRole {
	case models.RoleClient:
		client, err := f.deps.Store.GetClient(targetID)
		if err != nil {
			return "", fmt.Errorf("failed to get client %s: %w", targetID, err)
		}
		if client == nil {
			return "", fmt.Errorf("client %s: %w", targetID, models.ErrNotFound)
		}
		return client.Name, nil
	case models.RoleCoach:
		coach, err := f.deps.Store.GetCoach(targetID)
		if err != nil {
			return "", fmt.Errorf("failed to get coach %s: %w", targetID, err)
		}
		if coach == nil {
			return "", fmt.Errorf("coach %s: %w", targetID, models.ErrNotFound)
		}
		return coach.Name, nil
	default:
		return "", fmt.Errorf("removal target role %q: %w", targetRole, models.ErrState)
	}
}
