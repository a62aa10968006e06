package flow

import (
	"context"
	"fmt"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
)

// Coach-invitation steps.
const (
	StepCIAskCoachPhone models.Step = "ask_coach_phone"
	StepCIConfirmInvite models.Step = "confirm_invite_coach"
)

// Coach-invitation payload keys.
const (
	keyCICoachPhone = "coach_phone"
	keyCICoachID    = "coach_id"
)

// Coach-invitation buttons.
const (
	BtnInviteCoachYes = "invite_coach_yes"
	BtnInviteCoachNo  = "invite_coach_no"
)

// Coach-invitation message catalog.
const (
	msgCIAskPhone       = "What's your coach's phone number? Include the country code, like +5511999990000."
	msgCIBadPhone       = "That phone number doesn't look right. Please include the country code, like +5511999990000."
	msgCITooManyRetries = "Let's start over. Send /addcoach when you're ready to try again."
	msgCINotFound       = "We couldn't find a coach with that number on CoachLink. Ask them to register first, then try again."
	msgCIAlreadyLinked  = "You're already connected with %s."
	msgCIConfirm        = "We found %s. Send them a connection request?"
	msgCISent           = "Request sent to %s. You'll hear from us when they respond."
	msgCICancelled      = "No problem, nothing was sent."
	msgCINotifyCoach    = "%s wants to connect with you on CoachLink as your client."
)

// CoachInvitationFlow lets a client invite a coach by phone number. The
// coach answers through accept/decline buttons delivered out of band.
type CoachInvitationFlow struct {
	deps Deps
}

// NewCoachInvitationFlow creates the coach-invitation flow.
func NewCoachInvitationFlow(deps Deps) *CoachInvitationFlow {
	return &CoachInvitationFlow{deps: deps}
}

// Type implements Flow.
func (f *CoachInvitationFlow) Type() models.FlowType { return models.FlowTypeCoachInvitation }

// RestartCommand implements Flow.
func (f *CoachInvitationFlow) RestartCommand() string { return "/addcoach" }

// Start implements Flow.
func (f *CoachInvitationFlow) Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error) {
	task, err := f.deps.Tasks.Create(ctx, actor, role, models.FlowTypeCoachInvitation, seed.Clone())
	if err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCIAskCoachPhone, nil); err != nil {
		return Result{}, err
	}
	return Result{Response: msgCIAskPhone}, nil
}

// Continue implements Flow.
func (f *CoachInvitationFlow) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch task.Step {
	case StepCIAskCoachPhone:
		return f.handlePhone(ctx, actor, role, input, task)
	case StepCIConfirmInvite:
		return f.handleConfirm(ctx, actor, role, input, task)
	default:
		return Result{}, fmt.Errorf("coach invitation step %q: %w", task.Step, models.ErrState)
	}
}

func (f *CoachInvitationFlow) handlePhone(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	phone, err := CanonicalPhone(input.Text)
	if err != nil {
		payload := task.Payload.Clone()
		if bumpRetry(payload, keyCICoachPhone) > models.MaxFieldRetries {
			if err := f.deps.Tasks.Stop(ctx, task.ID, role); err != nil {
				return Result{}, err
			}
			return Result{Response: msgCITooManyRetries}, nil
		}
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, task.Step, payload); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCIBadPhone}, nil
	}

	coach, err := f.deps.Store.GetCoachByPhone(phone)
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up coach by phone: %w", err)
	}
	if coach == nil {
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCINotFound}, nil
	}

	client, err := f.clientFor(ctx, actor)
	if err != nil {
		return Result{}, err
	}
	existing, err := f.deps.Relationships.CheckRelationship(ctx, coach.ID, client.ID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil && existing.Status == models.ConnectionActive {
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: fmt.Sprintf(msgCIAlreadyLinked, coach.Name)}, nil
	}

	payload := task.Payload.Clone()
	clearRetry(payload, keyCICoachPhone)
	payload[keyCICoachPhone] = phone
	payload[keyCICoachID] = coach.ID
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCIConfirmInvite, payload); err != nil {
		return Result{}, err
	}
	return Result{
		Response: fmt.Sprintf(msgCIConfirm, coach.Name),
		Buttons: []models.Button{
			{ID: BtnInviteCoachYes, Label: "Yes, send it"},
			{ID: BtnInviteCoachNo, Label: "No"},
		},
	}, nil
}

func (f *CoachInvitationFlow) handleConfirm(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch input.Choice() {
	case BtnInviteCoachNo:
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCICancelled}, nil
	case BtnInviteCoachYes:
		// fall through below
	default:
		return Result{
			Response: msgCIConfirm,
			Buttons: []models.Button{
				{ID: BtnInviteCoachYes, Label: "Yes, send it"},
				{ID: BtnInviteCoachNo, Label: "No"},
			},
		}, nil
	}

	coach, err := f.deps.Store.GetCoach(task.Payload[keyCICoachID])
	if err != nil {
		return Result{}, fmt.Errorf("failed to get coach %s: %w", task.Payload[keyCICoachID], err)
	}
	if coach == nil {
		return Result{}, fmt.Errorf("coach %s: %w", task.Payload[keyCICoachID], models.ErrNotFound)
	}
	client, err := f.clientFor(ctx, actor)
	if err != nil {
		return Result{}, err
	}

	token, err := relationship.GenerateInvitationToken()
	if err != nil {
		return Result{}, err
	}
	// Send first: if the transport fails there must be no pending pair left
	// behind for the stopped task.
	if err := f.deps.Notifier.SendButtons(ctx, coach.Phone,
		fmt.Sprintf(msgCINotifyCoach, client.Name),
		[]models.Button{
			{ID: "accept_client_" + client.ID, Label: "Accept"},
			{ID: "decline_client_" + client.ID, Label: "Decline"},
		}); err != nil {
		return Result{}, fmt.Errorf("failed to send connection request: %w", models.ErrTransport)
	}
	if err := f.deps.Relationships.CreateOrUpdateRelationship(ctx, coach.ID, client.ID, models.RoleClient, token); err != nil {
		return Result{}, err
	}

	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgCISent, coach.Name)}, nil
}

func (f *CoachInvitationFlow) clientFor(ctx context.Context, actor string) (*models.Client, error) {
	user, err := f.deps.Store.GetUser(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", actor, err)
	}
	if user == nil || !user.HasRole(models.RoleClient) {
		return nil, fmt.Errorf("user %s is not a client: %w", actor, models.ErrState)
	}
	return f.deps.Relationships.LookupClientForUser(ctx, user)
}
