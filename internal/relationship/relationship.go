package relationship

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/store"
)

// Service implements the relationship/invitation consistency protocol. Every
// write path treats the two relationship mirror records as one logical unit;
// the store's pair operations run inside a single transaction.
type Service struct {
	store store.Store
}

// NewService creates a relationship service backed by the given store.
func NewService(st store.Store) *Service {
	slog.Debug("Creating relationship service")
	return &Service{store: st}
}

// CheckRelationship returns the relationship between a coach and a client if
// it is pending or active, or nil. Declined relationships are excluded.
func (s *Service) CheckRelationship(ctx context.Context, coachID, clientID string) (*models.Relationship, error) {
	rel, err := s.store.GetRelationship(coachID, clientID)
	if err != nil {
		slog.Error("Relationship CheckRelationship failed", "error", err, "coachID", coachID, "clientID", clientID)
		return nil, fmt.Errorf("failed to check relationship: %w", err)
	}
	if rel == nil || rel.Status == models.ConnectionDeclined {
		return nil, nil
	}
	return rel, nil
}

// CheckAnyRelationship returns the relationship record in any status,
// including declined, or nil if none exists.
func (s *Service) CheckAnyRelationship(ctx context.Context, coachID, clientID string) (*models.Relationship, error) {
	rel, err := s.store.GetRelationship(coachID, clientID)
	if err != nil {
		slog.Error("Relationship CheckAnyRelationship failed", "error", err, "coachID", coachID, "clientID", clientID)
		return nil, fmt.Errorf("failed to check relationship: %w", err)
	}
	return rel, nil
}

// CreateOrUpdateRelationship inserts both mirror records as pending, or, if a
// relationship already exists in any status, overwrites the pair back to
// pending with the fresh inviter and token. Overwriting is what allows
// re-inviting after a decline.
func (s *Service) CreateOrUpdateRelationship(ctx context.Context, coachID, clientID string, invitedBy models.Role, token string) error {
	existing, err := s.store.GetRelationship(coachID, clientID)
	if err != nil {
		slog.Error("Relationship CreateOrUpdateRelationship lookup failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to look up relationship: %w", err)
	}

	now := time.Now()
	rel := models.Relationship{
		CoachID:   coachID,
		ClientID:  clientID,
		Status:    models.ConnectionPending,
		InvitedBy: invitedBy,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		rel.CreatedAt = existing.CreatedAt
	}

	if err := s.store.SaveRelationshipPair(rel); err != nil {
		slog.Error("Relationship CreateOrUpdateRelationship save failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to save relationship pair: %w", err)
	}
	slog.Info("Relationship pair set pending", "coachID", coachID, "clientID", clientID, "invitedBy", invitedBy, "overwrote", existing != nil)
	return nil
}

// Approve transitions both mirror records to active.
func (s *Service) Approve(ctx context.Context, coachID, clientID string) error {
	if err := s.store.UpdateRelationshipPairStatus(coachID, clientID, models.ConnectionActive); err != nil {
		slog.Error("Relationship Approve failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to approve relationship: %w", err)
	}
	slog.Info("Relationship approved", "coachID", coachID, "clientID", clientID)
	return nil
}

// Decline transitions both mirror records to declined.
func (s *Service) Decline(ctx context.Context, coachID, clientID string) error {
	if err := s.store.UpdateRelationshipPairStatus(coachID, clientID, models.ConnectionDeclined); err != nil {
		slog.Error("Relationship Decline failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to decline relationship: %w", err)
	}
	slog.Info("Relationship declined", "coachID", coachID, "clientID", clientID)
	return nil
}

// Remove deletes both mirror records.
func (s *Service) Remove(ctx context.Context, coachID, clientID string) error {
	if err := s.store.DeleteRelationshipPair(coachID, clientID); err != nil {
		slog.Error("Relationship Remove failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to remove relationship: %w", err)
	}
	slog.Info("Relationship removed", "coachID", coachID, "clientID", clientID)
	return nil
}

// ResolveClientScenario classifies a client phone relative to a coach. The
// result drives which client-creation flow branch runs, and is evaluated
// fresh on every call.
func (s *Service) ResolveClientScenario(ctx context.Context, phone, coachID string) (models.ClientScenario, error) {
	client, err := s.store.GetClientByPhone(phone)
	if err != nil {
		slog.Error("Relationship ResolveClientScenario client lookup failed", "error", err, "phone", phone)
		return "", fmt.Errorf("failed to look up client by phone: %w", err)
	}
	if client == nil {
		return models.ScenarioNew, nil
	}

	rels, err := s.store.ListRelationshipsByClient(client.ID)
	if err != nil {
		slog.Error("Relationship ResolveClientScenario relationships lookup failed", "error", err, "clientID", client.ID)
		return "", fmt.Errorf("failed to list client relationships: %w", err)
	}

	for _, rel := range rels {
		if rel.Status != models.ConnectionActive {
			continue
		}
		if rel.CoachID == coachID {
			return models.ScenarioAlreadyYours, nil
		}
		return models.ScenarioHasOtherCoach, nil
	}
	return models.ScenarioAvailable, nil
}

// RegisterCoach creates a coach entity with a generated mnemonic identifier
// and links it on the actor's user record.
func (s *Service) RegisterCoach(ctx context.Context, phone, name, email, defaultPrice string) (*models.Coach, error) {
	id, err := generateUniqueID(name, s.store.CoachIDExists)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	coach := models.Coach{
		ID:           id,
		Phone:        phone,
		Name:         name,
		Email:        email,
		DefaultPrice: defaultPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveCoach(coach); err != nil {
		slog.Error("Relationship RegisterCoach save failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to save coach: %w", err)
	}
	if err := s.linkUserRole(phone, models.RoleCoach, id); err != nil {
		return nil, err
	}
	slog.Info("Coach registered", "id", id, "phone", phone)
	return &coach, nil
}

// RegisterClient creates a client entity with a generated mnemonic identifier
// and links it on the actor's user record.
func (s *Service) RegisterClient(ctx context.Context, phone, name, email string) (*models.Client, error) {
	id, err := generateUniqueID(name, s.store.ClientIDExists)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	client := models.Client{
		ID:        id,
		Phone:     phone,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveClient(client); err != nil {
		slog.Error("Relationship RegisterClient save failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to save client: %w", err)
	}
	if err := s.linkUserRole(phone, models.RoleClient, id); err != nil {
		return nil, err
	}
	slog.Info("Client registered", "id", id, "phone", phone)
	return &client, nil
}

// linkUserRole sets the role's domain id on the user record, creating the
// record if the actor is new. The newly registered role becomes the active
// login role.
func (s *Service) linkUserRole(phone string, role models.Role, roleID string) error {
	user, err := s.store.GetUser(phone)
	if err != nil {
		return fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	now := time.Now()
	if user == nil {
		user = &models.User{Phone: phone, CreatedAt: now}
	}
	switch role {
	case models.RoleCoach:
		user.CoachID = roleID
	case models.RoleClient:
		user.ClientID = roleID
	}
	user.ActiveRole = role
	user.UpdatedAt = now
	if err := s.store.SaveUser(*user); err != nil {
		return fmt.Errorf("failed to save user %s: %w", phone, err)
	}
	return nil
}

// CreateInvitation records an out-of-band offer from a coach to a client
// phone, with an unguessable token and optional prefilled profile data.
func (s *Service) CreateInvitation(ctx context.Context, coachID, clientPhone, clientName, clientEmail, customPrice string, status models.InvitationStatus) (*models.Invitation, error) {
	token, err := GenerateInvitationToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inv := models.Invitation{
		ID:          uuid.NewString(),
		Token:       token,
		CoachID:     coachID,
		ClientPhone: clientPhone,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		CustomPrice: customPrice,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveInvitation(inv); err != nil {
		slog.Error("Relationship CreateInvitation save failed", "error", err, "coachID", coachID, "clientPhone", clientPhone)
		return nil, fmt.Errorf("failed to save invitation: %w", err)
	}
	slog.Info("Invitation created", "id", inv.ID, "coachID", coachID, "status", status)
	return &inv, nil
}

// AcceptInvitation transitions an invitation to accepted, creates the
// relationship pair as pending when one does not exist, and approves it.
// The invitee is identified by token, which is unguessable.
func (s *Service) AcceptInvitation(ctx context.Context, token, clientID string) (*models.Invitation, error) {
	inv, err := s.store.GetInvitationByToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("invitation token: %w", models.ErrNotFound)
	}

	existing, err := s.store.GetRelationship(inv.CoachID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up relationship: %w", err)
	}
	if existing == nil {
		if err := s.CreateOrUpdateRelationship(ctx, inv.CoachID, clientID, models.RoleCoach, token); err != nil {
			return nil, err
		}
	}
	if err := s.Approve(ctx, inv.CoachID, clientID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateInvitationStatus(inv.ID, models.InvitationAccepted); err != nil {
		slog.Error("Relationship AcceptInvitation status update failed", "error", err, "id", inv.ID)
		return nil, fmt.Errorf("failed to update invitation status: %w", err)
	}
	inv.Status = models.InvitationAccepted
	slog.Info("Invitation accepted", "id", inv.ID, "coachID", inv.CoachID, "clientID", clientID)
	return inv, nil
}

// DeclineInvitation transitions an invitation to declined and, when a
// relationship pair was pre-created for it, declines both mirrors.
func (s *Service) DeclineInvitation(ctx context.Context, token, clientID string) (*models.Invitation, error) {
	inv, err := s.store.GetInvitationByToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("invitation token: %w", models.ErrNotFound)
	}

	if clientID != "" {
		existing, err := s.store.GetRelationship(inv.CoachID, clientID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up relationship: %w", err)
		}
		if existing != nil {
			if err := s.Decline(ctx, inv.CoachID, clientID); err != nil {
				return nil, err
			}
		}
	}
	if err := s.store.UpdateInvitationStatus(inv.ID, models.InvitationDeclined); err != nil {
		slog.Error("Relationship DeclineInvitation status update failed", "error", err, "id", inv.ID)
		return nil, fmt.Errorf("failed to update invitation status: %w", err)
	}
	inv.Status = models.InvitationDeclined
	slog.Info("Invitation declined", "id", inv.ID, "coachID", inv.CoachID)
	return inv, nil
}

// LookupCoachForUser resolves the coach entity referenced by a user record.
// A user whose coach id is missing from the coaches table is a data-integrity
// defect; the service logs it loudly and degrades to a lookup by phone.
func (s *Service) LookupCoachForUser(ctx context.Context, user *models.User) (*models.Coach, error) {
	coach, err := s.store.GetCoach(user.CoachID)
	if err != nil {
		return nil, fmt.Errorf("failed to get coach %s: %w", user.CoachID, err)
	}
	if coach != nil {
		return coach, nil
	}
	slog.Error("User references missing coach id, degrading to phone lookup",
		"phone", user.Phone, "coachID", user.CoachID, "error", models.ErrDataIntegrity)
	coach, err = s.store.GetCoachByPhone(user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed secondary coach lookup for %s: %w", user.Phone, err)
	}
	if coach == nil {
		return nil, fmt.Errorf("coach %s: %w", user.CoachID, models.ErrDataIntegrity)
	}
	return coach, nil
}

// LookupClientForUser resolves the client entity referenced by a user record,
// degrading to a phone lookup on identifier mismatch like LookupCoachForUser.
func (s *Service) LookupClientForUser(ctx context.Context, user *models.User) (*models.Client, error) {
	client, err := s.store.GetClient(user.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", user.ClientID, err)
	}
	if client != nil {
		return client, nil
	}
	slog.Error("User references missing client id, degrading to phone lookup",
		"phone", user.Phone, "clientID", user.ClientID, "error", models.ErrDataIntegrity)
	client, err = s.store.GetClientByPhone(user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed secondary client lookup for %s: %w", user.Phone, err)
	}
	if client == nil {
		return nil, fmt.Errorf("client %s: %w", user.ClientID, models.ErrDataIntegrity)
	}
	return client, nil
}
