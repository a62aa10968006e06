package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// Registration steps.
const (
	StepRegAskRole         models.Step = "ask_role"
	StepRegAskName         models.Step = "ask_name"
	StepRegAskEmail        models.Step = "ask_email"
	StepRegAskDefaultPrice models.Step = "ask_default_price"
)

// Registration payload keys. keyInvitationToken is seeded by the button
// dispatcher when registration is entered through an invitation link.
const (
	keyRegRole         = "role"
	keyRegName         = "name"
	keyRegEmail        = "email"
	keyRegDefaultPrice = "default_price"
	keyInvitationToken = "invitation_token"
)

// Registration message catalog.
const (
	msgRegAskRole = "Welcome to CoachLink! Are you joining as a coach or as a client?"
	msgRegAskName = "Great. What's your full name?"
	msgRegAskEmail = "Thanks, %s. What's your email address? Send \"skip\" if you'd rather not share one."
	msgRegAskDefaultPrice = "Almost done. What's your default session price? Send a plain number, like 150 or 99.90."
	msgRegBadRole         = "Please pick one of the two options: coach or client."
	msgRegBadName         = "That name doesn't look right. Please send your full name (up to %d characters)."
	msgRegBadEmail        = "That doesn't look like a valid email. Please try again, or send \"skip\"."
	msgRegBadPrice        = "That doesn't look like a valid price. Please send a plain number, like 150."
	msgRegTooManyRetries  = "Let's start over. Send /register when you're ready to try again."
	msgRegDoneCoach       = "You're all set, %s! Your coach ID is %s. Send /menu to see what you can do."
	msgRegDoneClient      = "You're all set, %s! Your client ID is %s. Send /menu to see what you can do."
	msgRegInviteAccepted  = "You're now connected with your coach. They've been notified."
	msgRegNotifyCoach     = "%s accepted your invitation and is now your client."
)

// Registration role buttons.
const (
	BtnRoleCoach  = "role_coach"
	BtnRoleClient = "role_client"
)

// RegistrationFlow onboards a new actor into either role, collecting the
// profile answers turn by turn. Registration started through an invitation
// carries the token in its payload and closes the invitation on completion.
type RegistrationFlow struct {
	deps Deps
}

// NewRegistrationFlow creates the registration flow.
func NewRegistrationFlow(deps Deps) *RegistrationFlow {
	return &RegistrationFlow{deps: deps}
}

// Type implements Flow.
func (f *RegistrationFlow) Type() models.FlowType { return models.FlowTypeRegistration }

// RestartCommand implements Flow.
func (f *RegistrationFlow) RestartCommand() string { return "/register" }

// Start implements Flow. Registration is keyed under the client role until
// the actor picks one; the chosen role lives in the payload and the router
// checks both roles when looking for a running registration.
func (f *RegistrationFlow) Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error) {
	payload := seed.Clone()
	if payload == nil {
		payload = models.Payload{}
	}
	task, err := f.deps.Tasks.Create(ctx, actor, role, models.FlowTypeRegistration, payload)
	if err != nil {
		return Result{}, err
	}
	if preset, ok := payload[keyRegRole]; ok && models.IsValidRole(models.Role(preset)) {
		// Invitation entry already knows the role; skip straight to the name.
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRegAskName, nil); err != nil {
			return Result{}, err
		}
		return Result{Response: msgRegAskName}, nil
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRegAskRole, nil); err != nil {
		return Result{}, err
	}
	return Result{
		Response: msgRegAskRole,
		Buttons: []models.Button{
			{ID: BtnRoleCoach, Label: "Coach"},
			{ID: BtnRoleClient, Label: "Client"},
		},
	}, nil
}

// Continue implements Flow.
func (f *RegistrationFlow) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch task.Step {
	case StepRegAskRole:
		return f.handleRole(ctx, actor, role, input, task)
	case StepRegAskName:
		return f.handleName(ctx, actor, role, input, task)
	case StepRegAskEmail:
		return f.handleEmail(ctx, actor, role, input, task)
	case StepRegAskDefaultPrice:
		return f.handlePrice(ctx, actor, role, input, task)
	default:
		return Result{}, fmt.Errorf("registration step %q: %w", task.Step, models.ErrState)
	}
}

func (f *RegistrationFlow) handleRole(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	var chosen models.Role
	switch strings.ToLower(strings.TrimSpace(input.Choice())) {
	case BtnRoleCoach, string(models.RoleCoach):
		chosen = models.RoleCoach
	case BtnRoleClient, string(models.RoleClient):
		chosen = models.RoleClient
	default:
		return Result{
			Response: msgRegBadRole,
			Buttons: []models.Button{
				{ID: BtnRoleCoach, Label: "Coach"},
				{ID: BtnRoleClient, Label: "Client"},
			},
		}, nil
	}
	payload := models.Payload{keyRegRole: string(chosen)}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRegAskName, payload); err != nil {
		return Result{}, err
	}
	return Result{Response: msgRegAskName}, nil
}

func (f *RegistrationFlow) handleName(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	name, err := ValidateName(input.Text)
	if err != nil {
		return f.reprompt(ctx, role, task, keyRegName,
			fmt.Sprintf(msgRegBadName, models.MaxNameLength))
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyRegName)
	payload[keyRegName] = name
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRegAskEmail, payload); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgRegAskEmail, name)}, nil
}

func (f *RegistrationFlow) handleEmail(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	email := ""
	if !strings.EqualFold(strings.TrimSpace(input.Text), "skip") {
		var err error
		email, err = ValidateEmail(input.Text)
		if err != nil {
			return f.reprompt(ctx, role, task, keyRegEmail, msgRegBadEmail)
		}
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyRegEmail)
	payload[keyRegEmail] = email

	if models.Role(payload[keyRegRole]) == models.RoleCoach {
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepRegAskDefaultPrice, payload); err != nil {
			return Result{}, err
		}
		return Result{Response: msgRegAskDefaultPrice}, nil
	}
	return f.finalize(ctx, actor, role, task, payload)
}

func (f *RegistrationFlow) handlePrice(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	price, err := ValidatePrice(input.Text)
	if err != nil {
		return f.reprompt(ctx, role, task, keyRegDefaultPrice, msgRegBadPrice)
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyRegDefaultPrice)
	payload[keyRegDefaultPrice] = price
	return f.finalize(ctx, actor, role, task, payload)
}

// finalize registers the entity, closes any originating invitation, and
// completes the task.
func (f *RegistrationFlow) finalize(ctx context.Context, actor string, role models.Role, task *models.Task, payload models.Payload) (Result, error) {
	name := payload[keyRegName]
	email := payload[keyRegEmail]

	var response string
	switch models.Role(payload[keyRegRole]) {
	case models.RoleCoach:
		coach, err := f.deps.Relationships.RegisterCoach(ctx, actor, name, email, payload[keyRegDefaultPrice])
		if err != nil {
			return Result{}, err
		}
		response = fmt.Sprintf(msgRegDoneCoach, name, coach.ID)
	case models.RoleClient:
		client, err := f.deps.Relationships.RegisterClient(ctx, actor, name, email)
		if err != nil {
			return Result{}, err
		}
		response = fmt.Sprintf(msgRegDoneClient, name, client.ID)
		if token := payload[keyInvitationToken]; token != "" {
			note, err := f.acceptPendingInvitation(ctx, token, client.ID, name)
			if err != nil {
				return Result{}, err
			}
			response += "\n" + note
		}
	default:
		return Result{}, fmt.Errorf("registration role %q: %w", payload[keyRegRole], models.ErrState)
	}

	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	slog.Info("Registration completed", "actor", actor, "role", payload[keyRegRole])
	return Result{Response: response}, nil
}

func (f *RegistrationFlow) acceptPendingInvitation(ctx context.Context, token, clientID, clientName string) (string, error) {
	inv, err := f.deps.Relationships.AcceptInvitation(ctx, token, clientID)
	if err != nil {
		return "", err
	}
	coach, err := f.deps.Store.GetCoach(inv.CoachID)
	if err != nil {
		return "", fmt.Errorf("failed to load inviting coach %s: %w", inv.CoachID, err)
	}
	if coach != nil {
		if err := f.deps.Notifier.SendText(ctx, coach.Phone, fmt.Sprintf(msgRegNotifyCoach, clientName)); err != nil {
			return "", fmt.Errorf("failed to notify coach %s: %w", coach.ID, models.ErrTransport)
		}
	} else {
		slog.Error("Invitation references missing coach", "token", token, "coachID", inv.CoachID, "error", models.ErrDataIntegrity)
	}
	return msgRegInviteAccepted, nil
}

// reprompt re-asks the current step, bounding retries per field. Exhausting
// the budget stops the task so the user can start clean.
func (f *RegistrationFlow) reprompt(ctx context.Context, role models.Role, task *models.Task, field, message string) (Result, error) {
	payload := task.Payload.Clone()
	if bumpRetry(payload, field) > models.MaxFieldRetries {
		if err := f.deps.Tasks.Stop(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgRegTooManyRetries}, nil
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, task.Step, payload); err != nil {
		return Result{}, err
	}
	return Result{Response: message}, nil
}
