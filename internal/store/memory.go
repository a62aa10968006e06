package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// InMemoryStore is a map-backed Store used by tests and as a fallback when no
// database DSN is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]models.User   // phone -> user
	coaches       map[string]models.Coach  // id -> coach
	clients       map[string]models.Client // id -> client
	tasks         map[string]models.Task   // id -> task
	coachLedger   map[string]models.Relationship // coachID|clientID
	clientLedger  map[string]models.Relationship // clientID|coachID
	invitations   map[string]models.Invitation   // id -> invitation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[string]models.User),
		coaches:      make(map[string]models.Coach),
		clients:      make(map[string]models.Client),
		tasks:        make(map[string]models.Task),
		coachLedger:  make(map[string]models.Relationship),
		clientLedger: make(map[string]models.Relationship),
		invitations:  make(map[string]models.Invitation),
	}
}

func pairKey(a, b string) string {
	return a + "|" + b
}

// GetUser returns the user for a phone, or nil if absent.
func (s *InMemoryStore) GetUser(phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[phone]; ok {
		return &u, nil
	}
	return nil, nil
}

// SaveUser inserts or replaces a user keyed by phone.
func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Phone] = u
	return nil
}

// SaveCoach inserts or replaces a coach.
func (s *InMemoryStore) SaveCoach(c models.Coach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coaches[c.ID] = c
	return nil
}

// GetCoach returns the coach with the given id, or nil if absent.
func (s *InMemoryStore) GetCoach(id string) (*models.Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.coaches[id]; ok {
		return &c, nil
	}
	return nil, nil
}

// GetCoachByPhone returns the coach registered under a phone, or nil.
func (s *InMemoryStore) GetCoachByPhone(phone string) (*models.Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.coaches {
		if c.Phone == phone {
			return &c, nil
		}
	}
	return nil, nil
}

// CoachIDExists reports whether a coach id is taken.
func (s *InMemoryStore) CoachIDExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.coaches[id]
	return ok, nil
}

// SaveClient inserts or replaces a client.
func (s *InMemoryStore) SaveClient(c models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	return nil
}

// GetClient returns the client with the given id, or nil if absent.
func (s *InMemoryStore) GetClient(id string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.clients[id]; ok {
		return &c, nil
	}
	return nil, nil
}

// GetClientByPhone returns the client registered under a phone, or nil.
func (s *InMemoryStore) GetClientByPhone(phone string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Phone == phone {
			return &c, nil
		}
	}
	return nil, nil
}

// ClientIDExists reports whether a client id is taken.
func (s *InMemoryStore) ClientIDExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok, nil
}

// SaveTask inserts or replaces a task keyed by id.
func (s *InMemoryStore) SaveTask(t models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

// GetTask returns the task with the given id, or nil if absent.
func (s *InMemoryStore) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[id]; ok {
		return &t, nil
	}
	return nil, nil
}

// GetRunningTask returns the single running task for (actor, role), or nil.
func (s *InMemoryStore) GetRunningTask(actor string, role models.Role) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Actor == actor && t.Role == role && t.Status == models.TaskStatusRunning {
			return &t, nil
		}
	}
	return nil, nil
}

// ListRunningTasksBefore returns running tasks last updated before the cutoff.
func (s *InMemoryStore) ListRunningTasksBefore(cutoff time.Time) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusRunning && t.UpdatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SaveRelationshipPair inserts or replaces both mirror records atomically.
func (s *InMemoryStore) SaveRelationshipPair(r models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coachLedger[pairKey(r.CoachID, r.ClientID)] = r
	s.clientLedger[pairKey(r.ClientID, r.CoachID)] = r
	return nil
}

// UpdateRelationshipPairStatus applies the same status change to both mirrors.
func (s *InMemoryStore) UpdateRelationshipPairStatus(coachID, clientID string, status models.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := pairKey(coachID, clientID)
	r, ok := s.coachLedger[ck]
	if !ok {
		return fmt.Errorf("relationship %s/%s: %w", coachID, clientID, models.ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	s.coachLedger[ck] = r
	s.clientLedger[pairKey(clientID, coachID)] = r
	return nil
}

// DeleteRelationshipPair removes both mirror records.
func (s *InMemoryStore) DeleteRelationshipPair(coachID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coachLedger, pairKey(coachID, clientID))
	delete(s.clientLedger, pairKey(clientID, coachID))
	return nil
}

// GetRelationship returns the coach-side mirror record, or nil if absent.
func (s *InMemoryStore) GetRelationship(coachID, clientID string) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.coachLedger[pairKey(coachID, clientID)]; ok {
		return &r, nil
	}
	return nil, nil
}

// GetRelationshipMirror returns the client-side mirror record, or nil if absent.
func (s *InMemoryStore) GetRelationshipMirror(clientID, coachID string) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.clientLedger[pairKey(clientID, coachID)]; ok {
		return &r, nil
	}
	return nil, nil
}

// ListRelationshipsByCoach returns the coach-side ledger entries for a coach.
func (s *InMemoryStore) ListRelationshipsByCoach(coachID string) ([]models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Relationship
	for _, r := range s.coachLedger {
		if r.CoachID == coachID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRelationshipsByClient returns the client-side ledger entries for a client.
func (s *InMemoryStore) ListRelationshipsByClient(clientID string) ([]models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Relationship
	for _, r := range s.clientLedger {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SaveInvitation inserts or replaces an invitation keyed by id.
func (s *InMemoryStore) SaveInvitation(inv models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[inv.ID] = inv
	return nil
}

// GetInvitation returns the invitation with the given id, or nil if absent.
func (s *InMemoryStore) GetInvitation(id string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inv, ok := s.invitations[id]; ok {
		return &inv, nil
	}
	return nil, nil
}

// GetInvitationByToken returns the invitation carrying a token, or nil.
func (s *InMemoryStore) GetInvitationByToken(token string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.Token == token {
			return &inv, nil
		}
	}
	return nil, nil
}

// UpdateInvitationStatus transitions an invitation's status in place.
func (s *InMemoryStore) UpdateInvitationStatus(id string, status models.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return fmt.Errorf("invitation %s: %w", id, models.ErrNotFound)
	}
	inv.Status = status
	inv.UpdatedAt = time.Now()
	s.invitations[id] = inv
	return nil
}

// ListInvitationsByCoach returns all invitations a coach has issued.
func (s *InMemoryStore) ListInvitationsByCoach(coachID string) ([]models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Invitation
	for _, inv := range s.invitations {
		if inv.CoachID == coachID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
