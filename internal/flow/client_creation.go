package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
)

// Client-creation steps. The pricing and profile-completion steps are shared
// between the new-client branch and the secondary-invitation branch, which is
// why steps are named strings and not positions.
const (
	StepCCAskCreateOrLink  models.Step = "ask_create_or_link"
	StepCCAskClientName    models.Step = "ask_client_name"
	StepCCAskClientPhone   models.Step = "ask_client_phone"
	StepCCAskClientEmail   models.Step = "ask_client_email"
	StepCCConfirmExisting  models.Step = "confirm_invite_existing"
	StepCCAwaitSendChoice  models.Step = "await_send_choice"
	StepCCAwaitPricing     models.Step = "await_pricing_choice"
	StepCCAwaitCustomPrice models.Step = "await_custom_price"
	StepCCAwaitProfile     models.Step = "await_profile_completion_choice"
)

// Client-creation payload keys.
const (
	keyCCMode        = "mode"
	keyCCClientName  = "client_name"
	keyCCClientPhone = "client_phone"
	keyCCClientEmail = "client_email"
	keyCCScenario    = "scenario"
	keyCCPrice       = "price"
	keyCCProfileBy   = "profile_by"
	keyCCSecondary   = "secondary"
)

// Client-creation buttons.
const (
	BtnCreateNewClient    = "create_new_client"
	BtnLinkExistingClient = "link_existing_client"
	BtnPricingDefault     = "pricing_default"
	BtnPricingCustom      = "pricing_custom"
	BtnProfileByCoach     = "profile_by_coach"
	BtnProfileByClient    = "profile_by_client"
	BtnInviteExistingYes  = "invite_existing_yes"
	BtnInviteExistingNo   = "invite_existing_no"
	BtnSendAnywayYes      = "send_anyway_yes"
	BtnSendAnywayNo       = "send_anyway_no"
)

// Client-creation message catalog.
const (
	msgCCAskCreateOrLink = "Let's add a client. Do you want to create a brand-new client profile, or link someone who may already be on CoachLink?"
	msgCCAskClientName   = "What's the client's full name?"
	msgCCAskClientPhone  = "What's the client's phone number? Include the country code, like +5511999990000."
	msgCCAskClientEmail  = "What's the client's email? Send \"skip\" if you don't have one."
	msgCCBadName         = "That name doesn't look right. Please send the client's full name (up to %d characters)."
	msgCCBadPhone        = "That phone number doesn't look right. Please include the country code, like +5511999990000."
	msgCCBadEmail        = "That doesn't look like a valid email. Please try again, or send \"skip\"."
	msgCCBadPrice        = "That doesn't look like a valid price. Please send a plain number, like 150."
	msgCCTooManyRetries  = "Let's start over. Send /addclient when you're ready to try again."

	msgCCLinkUnregistered = "That number isn't on CoachLink yet. No problem: we'll send them an invitation to join as your client."
	msgCCAlreadyYours     = "%s is already your client. Nothing to do here."
	msgCCConfirmExisting  = "%s is on CoachLink and has no coach right now. Want to send them a connection request?"
	msgCCOtherCoachWarn   = "Heads up: %s already works with another coach. You can still send an invitation, and they'll choose whether to add you as a second coach. Send it?"

	msgCCAskPricing      = "How should sessions with this client be priced? Your default is %s."
	msgCCAskPricingNoDef = "How should sessions with this client be priced?"
	msgCCAskCustomPrice  = "What price should apply to this client? Send a plain number."
	msgCCAskProfile      = "Who should complete the client's profile: you now, or the client when they accept?"

	msgCCInvitationSent = "Invitation sent to %s. You'll hear from us when they respond."
	msgCCRequestSent    = "Connection request sent to %s. You'll hear from us when they respond."
	msgCCCancelled      = "No problem, nothing was sent. Send /menu to see your options."

	msgCCInviteNewClient = "%s invited you to join CoachLink as their client. Accept to get started."
	msgCCInviteExisting  = "%s wants to connect with you on CoachLink as your coach."
	msgCCInviteSecondary = "%s wants to work with you on CoachLink in addition to your current coach. It's your call."
)

// ClientCreationFlow is the coach-initiated client onboarding machine. The
// scenario resolved from the client's phone decides which branch runs:
// creating a fresh invitation, inviting an existing free client, reporting an
// existing link, or asking consent before approaching someone else's client.
type ClientCreationFlow struct {
	deps Deps
}

// NewClientCreationFlow creates the client-creation flow.
func NewClientCreationFlow(deps Deps) *ClientCreationFlow {
	return &ClientCreationFlow{deps: deps}
}

// Type implements Flow.
func (f *ClientCreationFlow) Type() models.FlowType { return models.FlowTypeClientCreation }

// RestartCommand implements Flow.
func (f *ClientCreationFlow) RestartCommand() string { return "/addclient" }

// Start implements Flow.
func (f *ClientCreationFlow) Start(ctx context.Context, actor string, role models.Role, seed models.Payload) (Result, error) {
	task, err := f.deps.Tasks.Create(ctx, actor, role, models.FlowTypeClientCreation, seed.Clone())
	if err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAskCreateOrLink, nil); err != nil {
		return Result{}, err
	}
	return Result{
		Response: msgCCAskCreateOrLink,
		Buttons: []models.Button{
			{ID: BtnCreateNewClient, Label: "Create new"},
			{ID: BtnLinkExistingClient, Label: "Link existing"},
		},
	}, nil
}

// Continue implements Flow.
func (f *ClientCreationFlow) Continue(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch task.Step {
	case StepCCAskCreateOrLink:
		return f.handleCreateOrLink(ctx, role, input, task)
	case StepCCAskClientName:
		return f.handleClientName(ctx, role, input, task)
	case StepCCAskClientPhone:
		return f.handleClientPhone(ctx, actor, role, input, task)
	case StepCCAskClientEmail:
		return f.handleClientEmail(ctx, actor, role, input, task)
	case StepCCConfirmExisting:
		return f.handleConfirmExisting(ctx, actor, role, input, task)
	case StepCCAwaitSendChoice:
		return f.handleSendChoice(ctx, actor, role, input, task)
	case StepCCAwaitPricing:
		return f.handlePricingChoice(ctx, actor, role, input, task)
	case StepCCAwaitCustomPrice:
		return f.handleCustomPrice(ctx, actor, role, input, task)
	case StepCCAwaitProfile:
		return f.handleProfileChoice(ctx, actor, role, input, task)
	default:
		return Result{}, fmt.Errorf("client creation step %q: %w", task.Step, models.ErrState)
	}
}

func (f *ClientCreationFlow) handleCreateOrLink(ctx context.Context, role models.Role, input Input, task *models.Task) (Result, error) {
	switch input.Choice() {
	case BtnCreateNewClient:
		payload := models.Payload{keyCCMode: "create"}
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAskClientName, payload); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCAskClientName}, nil
	case BtnLinkExistingClient:
		payload := models.Payload{keyCCMode: "link"}
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAskClientPhone, payload); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCAskClientPhone}, nil
	default:
		return Result{
			Response: msgCCAskCreateOrLink,
			Buttons: []models.Button{
				{ID: BtnCreateNewClient, Label: "Create new"},
				{ID: BtnLinkExistingClient, Label: "Link existing"},
			},
		}, nil
	}
}

func (f *ClientCreationFlow) handleClientName(ctx context.Context, role models.Role, input Input, task *models.Task) (Result, error) {
	name, err := ValidateName(input.Text)
	if err != nil {
		return f.reprompt(ctx, role, task, keyCCClientName,
			fmt.Sprintf(msgCCBadName, models.MaxNameLength))
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyCCClientName)
	payload[keyCCClientName] = name
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAskClientPhone, payload); err != nil {
		return Result{}, err
	}
	return Result{Response: msgCCAskClientPhone}, nil
}

func (f *ClientCreationFlow) handleClientPhone(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	phone, err := CanonicalPhone(input.Text)
	if err != nil {
		return f.reprompt(ctx, role, task, keyCCClientPhone, msgCCBadPhone)
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyCCClientPhone)
	payload[keyCCClientPhone] = phone

	if payload[keyCCMode] == "create" {
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAskClientEmail, payload); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCAskClientEmail}, nil
	}
	return f.resolveScenario(ctx, actor, role, task, payload)
}

func (f *ClientCreationFlow) handleClientEmail(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	email := ""
	if !strings.EqualFold(strings.TrimSpace(input.Text), "skip") {
		var err error
		email, err = ValidateEmail(input.Text)
		if err != nil {
			return f.reprompt(ctx, role, task, keyCCClientEmail, msgCCBadEmail)
		}
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyCCClientEmail)
	payload[keyCCClientEmail] = email
	return f.resolveScenario(ctx, actor, role, task, payload)
}

// resolveScenario classifies the collected phone against the coach's ledger
// and branches. The classification is computed fresh every time; it is never
// carried over from a previous attempt.
func (f *ClientCreationFlow) resolveScenario(ctx context.Context, actor string, role models.Role, task *models.Task, payload models.Payload) (Result, error) {
	coach, err := f.coachFor(ctx, actor)
	if err != nil {
		return Result{}, err
	}
	scenario, err := f.deps.Relationships.ResolveClientScenario(ctx, payload[keyCCClientPhone], coach.ID)
	if err != nil {
		return Result{}, err
	}
	payload[keyCCScenario] = string(scenario)
	slog.Debug("Client creation scenario resolved", "coachID", coach.ID, "scenario", scenario)

	display := f.displayName(ctx, payload)

	switch scenario {
	case models.ScenarioNew:
		prefix := ""
		if payload[keyCCMode] == "link" {
			prefix = msgCCLinkUnregistered + "\n"
		}
		res, err := f.askPricing(ctx, role, task, payload, coach.DefaultPrice)
		if err != nil {
			return Result{}, err
		}
		res.Response = prefix + res.Response
		return res, nil

	case models.ScenarioAlreadyYours:
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: fmt.Sprintf(msgCCAlreadyYours, display)}, nil

	case models.ScenarioAvailable:
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCConfirmExisting, payload); err != nil {
			return Result{}, err
		}
		return Result{
			Response: fmt.Sprintf(msgCCConfirmExisting, display),
			Buttons: []models.Button{
				{ID: BtnInviteExistingYes, Label: "Yes, send it"},
				{ID: BtnInviteExistingNo, Label: "No"},
			},
		}, nil

	case models.ScenarioHasOtherCoach:
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAwaitSendChoice, payload); err != nil {
			return Result{}, err
		}
		return Result{
			Response: fmt.Sprintf(msgCCOtherCoachWarn, display),
			Buttons: []models.Button{
				{ID: BtnSendAnywayYes, Label: "Send anyway"},
				{ID: BtnSendAnywayNo, Label: "Don't send"},
			},
		}, nil

	default:
		return Result{}, fmt.Errorf("client scenario %q: %w", scenario, models.ErrState)
	}
}

// handleConfirmExisting finishes the available-client branch: a pending
// relationship pair plus a connection request to the client.
func (f *ClientCreationFlow) handleConfirmExisting(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch input.Choice() {
	case BtnInviteExistingNo:
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCCancelled}, nil
	case BtnInviteExistingYes:
		// fall through below
	default:
		return Result{
			Response: fmt.Sprintf(msgCCConfirmExisting, f.displayName(ctx, task.Payload)),
			Buttons: []models.Button{
				{ID: BtnInviteExistingYes, Label: "Yes, send it"},
				{ID: BtnInviteExistingNo, Label: "No"},
			},
		}, nil
	}

	coach, err := f.coachFor(ctx, actor)
	if err != nil {
		return Result{}, err
	}
	client, err := f.deps.Store.GetClientByPhone(task.Payload[keyCCClientPhone])
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up client: %w", err)
	}
	if client == nil {
		return Result{}, fmt.Errorf("client for phone %s: %w", task.Payload[keyCCClientPhone], models.ErrNotFound)
	}

	token, err := relationship.GenerateInvitationToken()
	if err != nil {
		return Result{}, err
	}
	// Send first: if the transport fails there must be no pending pair left
	// behind for the stopped task.
	if err := f.deps.Notifier.SendButtons(ctx, client.Phone,
		fmt.Sprintf(msgCCInviteExisting, coach.Name),
		[]models.Button{
			{ID: "accept_coach_" + coach.ID, Label: "Accept"},
			{ID: "decline_coach_" + coach.ID, Label: "Decline"},
		}); err != nil {
		return Result{}, fmt.Errorf("failed to send connection request: %w", models.ErrTransport)
	}
	if err := f.deps.Relationships.CreateOrUpdateRelationship(ctx, coach.ID, client.ID, models.RoleCoach, token); err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgCCRequestSent, client.Name)}, nil
}

// handleSendChoice gates the has-other-coach branch behind explicit consent,
// then rejoins the shared pricing steps with the secondary flag set.
func (f *ClientCreationFlow) handleSendChoice(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch input.Choice() {
	case BtnSendAnywayNo:
		if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCCancelled}, nil
	case BtnSendAnywayYes:
		coach, err := f.coachFor(ctx, actor)
		if err != nil {
			return Result{}, err
		}
		payload := task.Payload.Clone()
		payload[keyCCSecondary] = "true"
		return f.askPricing(ctx, role, task, payload, coach.DefaultPrice)
	default:
		return Result{
			Response: fmt.Sprintf(msgCCOtherCoachWarn, f.displayName(ctx, task.Payload)),
			Buttons: []models.Button{
				{ID: BtnSendAnywayYes, Label: "Send anyway"},
				{ID: BtnSendAnywayNo, Label: "Don't send"},
			},
		}, nil
	}
}

func (f *ClientCreationFlow) askPricing(ctx context.Context, role models.Role, task *models.Task, payload models.Payload, defaultPrice string) (Result, error) {
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAwaitPricing, payload); err != nil {
		return Result{}, err
	}
	msg := msgCCAskPricingNoDef
	if defaultPrice != "" {
		msg = fmt.Sprintf(msgCCAskPricing, defaultPrice)
	}
	return Result{
		Response: msg,
		Buttons: []models.Button{
			{ID: BtnPricingDefault, Label: "Use my default"},
			{ID: BtnPricingCustom, Label: "Set a custom price"},
		},
	}, nil
}

func (f *ClientCreationFlow) handlePricingChoice(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	switch input.Choice() {
	case BtnPricingDefault:
		coach, err := f.coachFor(ctx, actor)
		if err != nil {
			return Result{}, err
		}
		payload := task.Payload.Clone()
		payload[keyCCPrice] = coach.DefaultPrice
		return f.askProfileCompletion(ctx, role, task, payload)
	case BtnPricingCustom:
		if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAwaitCustomPrice, nil); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCAskCustomPrice}, nil
	default:
		return Result{
			Response: msgCCAskPricingNoDef,
			Buttons: []models.Button{
				{ID: BtnPricingDefault, Label: "Use my default"},
				{ID: BtnPricingCustom, Label: "Set a custom price"},
			},
		}, nil
	}
}

func (f *ClientCreationFlow) handleCustomPrice(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	price, err := ValidatePrice(input.Text)
	if err != nil {
		return f.reprompt(ctx, role, task, keyCCPrice, msgCCBadPrice)
	}
	payload := task.Payload.Clone()
	clearRetry(payload, keyCCPrice)
	payload[keyCCPrice] = price
	return f.askProfileCompletion(ctx, role, task, payload)
}

func (f *ClientCreationFlow) askProfileCompletion(ctx context.Context, role models.Role, task *models.Task, payload models.Payload) (Result, error) {
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, StepCCAwaitProfile, payload); err != nil {
		return Result{}, err
	}
	return Result{
		Response: msgCCAskProfile,
		Buttons: []models.Button{
			{ID: BtnProfileByCoach, Label: "I'll do it"},
			{ID: BtnProfileByClient, Label: "The client will"},
		},
	}, nil
}

// handleProfileChoice finishes the invitation branches: an Invitation record
// is written and the client is messaged, but no Relationship exists until
// the client responds.
func (f *ClientCreationFlow) handleProfileChoice(ctx context.Context, actor string, role models.Role, input Input, task *models.Task) (Result, error) {
	var status models.InvitationStatus
	switch input.Choice() {
	case BtnProfileByCoach:
		status = models.InvitationPending
	case BtnProfileByClient:
		status = models.InvitationPendingCompletion
	default:
		return Result{
			Response: msgCCAskProfile,
			Buttons: []models.Button{
				{ID: BtnProfileByCoach, Label: "I'll do it"},
				{ID: BtnProfileByClient, Label: "The client will"},
			},
		}, nil
	}

	coach, err := f.coachFor(ctx, actor)
	if err != nil {
		return Result{}, err
	}
	payload := task.Payload.Clone()
	payload[keyCCProfileBy] = input.Choice()

	inv, err := f.deps.Relationships.CreateInvitation(ctx, coach.ID,
		payload[keyCCClientPhone], payload[keyCCClientName], payload[keyCCClientEmail],
		payload[keyCCPrice], status)
	if err != nil {
		return Result{}, err
	}

	body := fmt.Sprintf(msgCCInviteNewClient, coach.Name)
	if payload[keyCCSecondary] == "true" {
		body = fmt.Sprintf(msgCCInviteSecondary, coach.Name)
	}
	if err := f.deps.Notifier.SendButtons(ctx, payload[keyCCClientPhone], body,
		[]models.Button{
			{ID: "accept_invitation_" + inv.Token, Label: "Accept"},
			{ID: "decline_invitation_" + inv.Token, Label: "Decline"},
		}); err != nil {
		return Result{}, fmt.Errorf("failed to send invitation: %w", models.ErrTransport)
	}

	if err := f.deps.Tasks.Advance(ctx, task.ID, role, task.Step, payload); err != nil {
		return Result{}, err
	}
	if err := f.deps.Tasks.Complete(ctx, task.ID, role); err != nil {
		return Result{}, err
	}
	return Result{Response: fmt.Sprintf(msgCCInvitationSent, f.displayName(ctx, payload))}, nil
}

// coachFor resolves the acting coach entity, degrading per the
// data-integrity policy.
func (f *ClientCreationFlow) coachFor(ctx context.Context, actor string) (*models.Coach, error) {
	user, err := f.deps.Store.GetUser(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", actor, err)
	}
	if user == nil || !user.HasRole(models.RoleCoach) {
		return nil, fmt.Errorf("user %s is not a coach: %w", actor, models.ErrState)
	}
	return f.deps.Relationships.LookupCoachForUser(ctx, user)
}

// displayName prefers the collected name, then the registered client's name,
// then the phone number.
func (f *ClientCreationFlow) displayName(ctx context.Context, payload models.Payload) string {
	if name := payload[keyCCClientName]; name != "" {
		return name
	}
	if client, err := f.deps.Store.GetClientByPhone(payload[keyCCClientPhone]); err == nil && client != nil {
		return client.Name
	}
	return payload[keyCCClientPhone]
}

func (f *ClientCreationFlow) reprompt(ctx context.Context, role models.Role, task *models.Task, field, message string) (Result, error) {
	payload := task.Payload.Clone()
	if bumpRetry(payload, field) > models.MaxFieldRetries {
		if err := f.deps.Tasks.Stop(ctx, task.ID, role); err != nil {
			return Result{}, err
		}
		return Result{Response: msgCCTooManyRetries}, nil
	}
	if err := f.deps.Tasks.Advance(ctx, task.ID, role, task.Step, payload); err != nil {
		return Result{}, err
	}
	return Result{Response: message}, nil
}
