package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// inboundForwarder is satisfied by messaging services that accept inbound
// traffic pushed over HTTP rather than a persistent connection.
type inboundForwarder interface {
	HandleInbound(from, body string)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// inboundHandler accepts one actor event as JSON and runs it through the
// conversation router. The routed reply is returned to the caller; delivery
// back to the actor over the chat channel is the caller's concern.
func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.inboundHandler: processing inbound event", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.inboundHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.inboundHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	actor, err := s.msgService.ValidateAndCanonicalizeRecipient(req.From)
	if err != nil {
		slog.Warn("Server.inboundHandler: sender validation failed", "error", err, "from", req.From)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid sender: "+err.Error()))
		return
	}

	result := s.router.Route(r.Context(), actor, req.Body, req.ButtonID)
	slog.Info("Server.inboundHandler: event routed", "actor", actor, "handler", result.Handler, "success", result.Success)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// twilioInboundHandler accepts Twilio's form-encoded webhook and feeds it
// into the messaging service's response stream.
func (s *Server) twilioInboundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	forwarder, ok := s.msgService.(inboundForwarder)
	if !ok {
		slog.Warn("Server.twilioInboundHandler: messaging service does not accept pushed inbound traffic")
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Inbound webhook not supported by the active channel"))
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioInboundHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form data"))
		return
	}
	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	if from == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("From is required"))
		return
	}

	forwarder.HandleInbound(from, body)
	slog.Debug("Server.twilioInboundHandler: inbound message forwarded", "from", from)
	w.WriteHeader(http.StatusNoContent)
}

// relationshipsHandler lists relationships for one side of the mirror pair,
// selected with either the coach_id or client_id query parameter.
func (s *Server) relationshipsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	coachID := r.URL.Query().Get("coach_id")
	clientID := r.URL.Query().Get("client_id")
	switch {
	case coachID != "" && clientID != "":
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Provide coach_id or client_id, not both"))
	case coachID != "":
		rels, err := s.st.ListRelationshipsByCoach(coachID)
		if err != nil {
			slog.Error("Server.relationshipsHandler: coach listing failed", "error", err, "coachID", coachID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list relationships"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(rels))
	case clientID != "":
		rels, err := s.st.ListRelationshipsByClient(clientID)
		if err != nil {
			slog.Error("Server.relationshipsHandler: client listing failed", "error", err, "clientID", clientID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list relationships"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(rels))
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("coach_id or client_id is required"))
	}
}

// invitationsHandler lists a coach's invitations, newest first per store
// ordering. Declined invitations are included; they are never deleted.
func (s *Server) invitationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	coachID := r.URL.Query().Get("coach_id")
	if coachID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("coach_id is required"))
		return
	}
	invitations, err := s.st.ListInvitationsByCoach(coachID)
	if err != nil {
		slog.Error("Server.invitationsHandler: listing failed", "error", err, "coachID", coachID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list invitations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(invitations))
}

// tasksHandler returns the running task for an (actor, role) pair, or a null
// result when the actor is idle.
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor := r.URL.Query().Get("actor")
	role := models.Role(r.URL.Query().Get("role"))
	if actor == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("actor is required"))
		return
	}
	if !models.IsValidRole(role) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("role must be coach or client"))
		return
	}

	task, err := s.tasks.GetRunning(r.Context(), actor, role)
	if err != nil {
		slog.Error("Server.tasksHandler: running task lookup failed", "error", err, "actor", actor, "role", role)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up running task"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}
