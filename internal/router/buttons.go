package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/flow"
	"github.com/coachlinkhq/coachlink/internal/models"
)

// Button id prefixes. The dispatch table below is ordered: longer prefixes
// that would be shadowed by a shorter one must come first
// (accept_invitation_ before accept_client_ would matter if either ever
// gained a common stem, and the ordering is load-bearing for future entries).
const (
	prefixAcceptInvitation  = "accept_invitation_"
	prefixDeclineInvitation = "decline_invitation_"
	prefixAcceptClient      = "accept_client_"
	prefixDeclineClient     = "decline_client_"
	prefixAcceptCoach       = "accept_coach_"
	prefixDeclineCoach      = "decline_coach_"
	prefixRemoveClient      = "remove_client_"
	prefixRemoveCoach       = "remove_coach_"
	prefixResumeTask        = "resume_task_"
	prefixAbandonTask       = "abandon_task_"
)

// Button dispatcher message catalog.
const (
	msgBtnUnknown          = "That button isn't active anymore. Send /menu to see your options."
	msgBtnInvitationGone   = "That invitation is no longer available."
	msgBtnInviteAccepted   = "You're connected! Send /menu to see what you can do."
	msgBtnInviteDeclined   = "Okay, we've declined the invitation."
	msgBtnRequestAccepted  = "You're connected with %s."
	msgBtnRequestDeclined  = "Okay, we've declined the request."
	msgBtnNoPendingRequest = "There's no pending request from them."
	msgBtnResume           = "Picking up where we left off. Just answer my last question."
	msgBtnNothingToResume  = "There's nothing in progress right now. Send /menu to start something."
	msgBtnAbandoned        = "Okay, we've set that aside. Send /menu whenever you're ready."
	msgBtnNotifyAccepted   = "%s accepted your connection request."
	msgBtnNotifyDeclined   = "%s declined your connection request."
)

type buttonHandler func(ctx context.Context, actor, arg string) models.RouteResult

type buttonRoute struct {
	prefix  string
	handler buttonHandler
}

// dispatchButton resolves an opaque button identifier. Command-shaped ids
// re-enter the router; prefixed ids carry their own context; anything else is
// treated as an answer to the running task's current question.
func (r *Router) dispatchButton(ctx context.Context, actor, buttonID string) models.RouteResult {
	slog.Debug("Button dispatch", "actor", actor, "buttonID", buttonID)

	if strings.HasPrefix(buttonID, "/") {
		return r.Route(ctx, actor, buttonID, "")
	}

	table := []buttonRoute{
		{prefixAcceptInvitation, r.acceptInvitation},
		{prefixDeclineInvitation, r.declineInvitation},
		{prefixAcceptClient, r.acceptClient},
		{prefixDeclineClient, r.declineClient},
		{prefixAcceptCoach, r.acceptCoach},
		{prefixDeclineCoach, r.declineCoach},
		{prefixRemoveClient, r.removeClient},
		{prefixRemoveCoach, r.removeCoach},
		{prefixResumeTask, r.resumeTask},
		{prefixAbandonTask, r.abandonTask},
	}
	for _, route := range table {
		if strings.HasPrefix(buttonID, route.prefix) {
			return route.handler(ctx, actor, strings.TrimPrefix(buttonID, route.prefix))
		}
	}

	// Not a table button: forward to whatever task is waiting on an answer.
	if task := r.runningRegistration(ctx, actor); task != nil {
		res := r.engine.Continue(ctx, actor, task.Role, flow.Input{ButtonID: buttonID}, task)
		return routed(HandlerButton, res)
	}
	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user != nil && models.IsValidRole(user.ActiveRole) {
		task, err := r.tasks.GetRunning(ctx, actor, user.ActiveRole)
		if err != nil {
			return errResult(HandlerButton, err)
		}
		if task != nil {
			res := r.engine.Continue(ctx, actor, user.ActiveRole, flow.Input{ButtonID: buttonID}, task)
			return routed(HandlerButton, res)
		}
	}
	// Login tasks run before an active role exists.
	for _, role := range []models.Role{models.RoleCoach, models.RoleClient} {
		task, err := r.tasks.GetRunning(ctx, actor, role)
		if err != nil {
			continue
		}
		if task != nil {
			res := r.engine.Continue(ctx, actor, role, flow.Input{ButtonID: buttonID}, task)
			return routed(HandlerButton, res)
		}
	}

	slog.Debug("Button dispatch found no owner", "actor", actor, "buttonID", buttonID)
	return models.RouteResult{Success: false, Response: msgBtnUnknown, Handler: HandlerButton}
}

// acceptInvitation handles a not-yet-registered or registered client tapping
// accept on an invitation message. Unregistered actors are routed into
// registration with the token carried in the task payload.
func (r *Router) acceptInvitation(ctx context.Context, actor, token string) models.RouteResult {
	inv, err := r.store.GetInvitationByToken(token)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if inv == nil || inv.Status == models.InvitationDeclined || inv.Status == models.InvitationAccepted {
		return models.RouteResult{Success: false, Response: msgBtnInvitationGone, Handler: HandlerButton}
	}

	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user == nil || !user.HasRole(models.RoleClient) {
		seed := models.Payload{
			"role":             string(models.RoleClient),
			"invitation_token": token,
		}
		if inv.ClientName != "" {
			// The coach may have prefilled the profile; the client still
			// confirms their own name during registration.
			seed["invited_name"] = inv.ClientName
		}
		res := r.engine.Start(ctx, models.FlowTypeRegistration, actor, models.RoleClient, seed)
		return routed(HandlerButton, res)
	}

	accepted, err := r.rels.AcceptInvitation(ctx, token, user.ClientID)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	r.notifyCoach(ctx, accepted.CoachID, fmt.Sprintf(msgBtnNotifyAccepted, r.clientDisplay(ctx, user)))
	return models.RouteResult{Success: true, Response: msgBtnInviteAccepted, Handler: HandlerButton}
}

func (r *Router) declineInvitation(ctx context.Context, actor, token string) models.RouteResult {
	inv, err := r.store.GetInvitationByToken(token)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if inv == nil || inv.Status == models.InvitationDeclined || inv.Status == models.InvitationAccepted {
		return models.RouteResult{Success: false, Response: msgBtnInvitationGone, Handler: HandlerButton}
	}

	clientID := ""
	if user, err := r.store.GetUser(actor); err == nil && user != nil {
		clientID = user.ClientID
	}
	declined, err := r.rels.DeclineInvitation(ctx, token, clientID)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	r.notifyCoach(ctx, declined.CoachID, fmt.Sprintf(msgBtnNotifyDeclined, actor))
	return models.RouteResult{Success: true, Response: msgBtnInviteDeclined, Handler: HandlerButton}
}

// acceptClient is the coach approving a client-initiated connection request.
func (r *Router) acceptClient(ctx context.Context, actor, clientID string) models.RouteResult {
	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user == nil || !user.HasRole(models.RoleCoach) {
		return models.RouteResult{Success: false, Response: msgBtnUnknown, Handler: HandlerButton}
	}
	return r.answerRequest(ctx, user.CoachID, clientID, true, r.coachDisplayByID(ctx, user.CoachID), r.clientPhoneByID(ctx, clientID))
}

func (r *Router) declineClient(ctx context.Context, actor, clientID string) models.RouteResult {
	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user == nil || !user.HasRole(models.RoleCoach) {
		return models.RouteResult{Success: false, Response: msgBtnUnknown, Handler: HandlerButton}
	}
	return r.answerRequest(ctx, user.CoachID, clientID, false, r.coachDisplayByID(ctx, user.CoachID), r.clientPhoneByID(ctx, clientID))
}

// acceptCoach is the client approving a coach-initiated connection request.
func (r *Router) acceptCoach(ctx context.Context, actor, coachID string) models.RouteResult {
	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user == nil || !user.HasRole(models.RoleClient) {
		return models.RouteResult{Success: false, Response: msgBtnUnknown, Handler: HandlerButton}
	}
	return r.answerRequest(ctx, coachID, user.ClientID, true, r.clientDisplay(ctx, user), r.coachPhoneByID(ctx, coachID))
}

func (r *Router) declineCoach(ctx context.Context, actor, coachID string) models.RouteResult {
	user, err := r.store.GetUser(actor)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if user == nil || !user.HasRole(models.RoleClient) {
		return models.RouteResult{Success: false, Response: msgBtnUnknown, Handler: HandlerButton}
	}
	return r.answerRequest(ctx, coachID, user.ClientID, false, r.clientDisplay(ctx, user), r.coachPhoneByID(ctx, coachID))
}

// answerRequest resolves a pending relationship request either way, keeping
// both mirrors in step, and notifies the side that asked.
func (r *Router) answerRequest(ctx context.Context, coachID, clientID string, accept bool, responderName, requesterPhone string) models.RouteResult {
	rel, err := r.rels.CheckRelationship(ctx, coachID, clientID)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if rel == nil || rel.Status != models.ConnectionPending {
		return models.RouteResult{Success: false, Response: msgBtnNoPendingRequest, Handler: HandlerButton}
	}

	if accept {
		if err := r.rels.Approve(ctx, coachID, clientID); err != nil {
			return errResult(HandlerButton, err)
		}
	} else {
		if err := r.rels.Decline(ctx, coachID, clientID); err != nil {
			return errResult(HandlerButton, err)
		}
	}

	if requesterPhone != "" {
		note := fmt.Sprintf(msgBtnNotifyAccepted, responderName)
		if !accept {
			note = fmt.Sprintf(msgBtnNotifyDeclined, responderName)
		}
		if err := r.notifier.SendText(ctx, requesterPhone, note); err != nil {
			slog.Error("Button request notification failed", "to", requesterPhone, "error", err)
		}
	}

	if accept {
		other := r.otherPartyName(ctx, coachID, clientID, responderName)
		return models.RouteResult{Success: true, Response: fmt.Sprintf(msgBtnRequestAccepted, other), Handler: HandlerButton}
	}
	return models.RouteResult{Success: true, Response: msgBtnRequestDeclined, Handler: HandlerButton}
}

// removeClient starts the removal flow for a coach, seeded with the target.
func (r *Router) removeClient(ctx context.Context, actor, clientID string) models.RouteResult {
	seed := models.Payload{"target_id": clientID, "target_role": string(models.RoleClient)}
	res := r.engine.Start(ctx, models.FlowTypeRemoval, actor, models.RoleCoach, seed)
	return routed(HandlerButton, res)
}

// removeCoach starts the removal flow for a client, seeded with the target.
func (r *Router) removeCoach(ctx context.Context, actor, coachID string) models.RouteResult {
	seed := models.Payload{"target_id": coachID, "target_role": string(models.RoleCoach)}
	res := r.engine.Start(ctx, models.FlowTypeRemoval, actor, models.RoleClient, seed)
	return routed(HandlerButton, res)
}

// resumeTask acknowledges a nudge; the task is already suspended at the step
// that asked the last question, so resuming is answering it.
func (r *Router) resumeTask(ctx context.Context, actor, taskID string) models.RouteResult {
	task, err := r.store.GetTask(taskID)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if task == nil || task.Status != models.TaskStatusRunning || task.Actor != actor {
		return models.RouteResult{Success: false, Response: msgBtnNothingToResume, Handler: HandlerButton}
	}
	return models.RouteResult{Success: true, Response: msgBtnResume, Handler: HandlerButton}
}

// abandonTask stops a stalled task from a nudge button.
func (r *Router) abandonTask(ctx context.Context, actor, taskID string) models.RouteResult {
	task, err := r.store.GetTask(taskID)
	if err != nil {
		return errResult(HandlerButton, err)
	}
	if task == nil || task.Actor != actor {
		return models.RouteResult{Success: false, Response: msgBtnNothingToResume, Handler: HandlerButton}
	}
	if err := r.tasks.Stop(ctx, task.ID, task.Role); err != nil {
		return errResult(HandlerButton, err)
	}
	return models.RouteResult{Success: true, Response: msgBtnAbandoned, Handler: HandlerButton}
}

func (r *Router) notifyCoach(ctx context.Context, coachID, body string) {
	phone := r.coachPhoneByID(ctx, coachID)
	if phone == "" {
		return
	}
	if err := r.notifier.SendText(ctx, phone, body); err != nil {
		slog.Error("Button coach notification failed", "coachID", coachID, "error", err)
	}
}

func (r *Router) coachPhoneByID(ctx context.Context, coachID string) string {
	coach, err := r.store.GetCoach(coachID)
	if err != nil || coach == nil {
		slog.Error("Button coach lookup failed", "coachID", coachID, "error", err)
		return ""
	}
	return coach.Phone
}

func (r *Router) clientPhoneByID(ctx context.Context, clientID string) string {
	client, err := r.store.GetClient(clientID)
	if err != nil || client == nil {
		slog.Error("Button client lookup failed", "clientID", clientID, "error", err)
		return ""
	}
	return client.Phone
}

func (r *Router) coachDisplayByID(ctx context.Context, coachID string) string {
	coach, err := r.store.GetCoach(coachID)
	if err != nil || coach == nil {
		return coachID
	}
	return coach.Name
}

func (r *Router) clientDisplay(ctx context.Context, user *models.User) string {
	client, err := r.store.GetClient(user.ClientID)
	if err != nil || client == nil {
		return user.Phone
	}
	return client.Name
}

// otherPartyName names the requester's counterpart for the confirmation
// message shown to the responder.
func (r *Router) otherPartyName(ctx context.Context, coachID, clientID, responderName string) string {
	if name := r.coachDisplayByID(ctx, coachID); name != coachID && name != responderName {
		return name
	}
	client, err := r.store.GetClient(clientID)
	if err != nil || client == nil {
		return clientID
	}
	return client.Name
}
