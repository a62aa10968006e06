// Package store provides storage backends for CoachLink.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/coachlinkhq/coachlink/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// GetUser retrieves a user by phone, or nil if absent.
func (s *PostgresStore) GetUser(phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT phone, coach_id, client_id, active_role, created_at, updated_at FROM users WHERE phone = $1`, phone)
	var u models.User
	err := row.Scan(&u.Phone, &u.CoachID, &u.ClientID, &u.ActiveRole, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return &u, nil
}

// SaveUser upserts a user keyed by phone.
func (s *PostgresStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (phone, coach_id, client_id, active_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET coach_id = $2, client_id = $3, active_role = $4, updated_at = $6`,
		u.Phone, u.CoachID, u.ClientID, u.ActiveRole, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "phone", u.Phone)
		return fmt.Errorf("failed to save user %s: %w", u.Phone, err)
	}
	return nil
}

// SaveCoach upserts a coach.
func (s *PostgresStore) SaveCoach(c models.Coach) error {
	_, err := s.db.Exec(`INSERT INTO coaches (id, phone, name, email, default_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET phone = $2, name = $3, email = $4, default_price = $5, updated_at = $7`,
		c.ID, c.Phone, c.Name, c.Email, c.DefaultPrice, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCoach failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save coach %s: %w", c.ID, err)
	}
	return nil
}

// GetCoach retrieves a coach by id, or nil if absent.
func (s *PostgresStore) GetCoach(id string) (*models.Coach, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, default_price, created_at, updated_at FROM coaches WHERE id = $1`, id)
	return scanCoachRow(row, id)
}

// GetCoachByPhone retrieves a coach by phone, or nil if absent.
func (s *PostgresStore) GetCoachByPhone(phone string) (*models.Coach, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, default_price, created_at, updated_at FROM coaches WHERE phone = $1 LIMIT 1`, phone)
	return scanCoachRow(row, phone)
}

// CoachIDExists reports whether a coach id is taken.
func (s *PostgresStore) CoachIDExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM coaches WHERE id = $1`, id).Scan(&n); err != nil {
		slog.Error("PostgresStore CoachIDExists failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to check coach id %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveClient upserts a client.
func (s *PostgresStore) SaveClient(c models.Client) error {
	_, err := s.db.Exec(`INSERT INTO clients (id, phone, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET phone = $2, name = $3, email = $4, updated_at = $6`,
		c.ID, c.Phone, c.Name, c.Email, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveClient failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save client %s: %w", c.ID, err)
	}
	return nil
}

// GetClient retrieves a client by id, or nil if absent.
func (s *PostgresStore) GetClient(id string) (*models.Client, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, created_at, updated_at FROM clients WHERE id = $1`, id)
	return scanClientRow(row, id)
}

// GetClientByPhone retrieves a client by phone, or nil if absent.
func (s *PostgresStore) GetClientByPhone(phone string) (*models.Client, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, created_at, updated_at FROM clients WHERE phone = $1 LIMIT 1`, phone)
	return scanClientRow(row, phone)
}

// ClientIDExists reports whether a client id is taken.
func (s *PostgresStore) ClientIDExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM clients WHERE id = $1`, id).Scan(&n); err != nil {
		slog.Error("PostgresStore ClientIDExists failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to check client id %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveTask upserts a task. The partial unique index on (actor, role) where
// status = 'running' rejects a second concurrent running task.
func (s *PostgresStore) SaveTask(t models.Task) error {
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		slog.Error("PostgresStore SaveTask payload marshal failed", "error", err, "id", t.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tasks (id, actor, role, type, status, step, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = $5, step = $6, payload = $7, updated_at = $9`,
		t.ID, t.Actor, t.Role, t.Type, t.Status, t.Step, payload, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTask failed", "error", err, "id", t.ID, "actor", t.Actor)
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	slog.Debug("PostgresStore SaveTask succeeded", "id", t.ID, "status", t.Status, "step", t.Step)
	return nil
}

// GetTask retrieves a task by id, or nil if absent.
func (s *PostgresStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE id = $1`, id)
	return scanTaskRow(row)
}

// GetRunningTask retrieves the single running task for (actor, role), or nil.
func (s *PostgresStore) GetRunningTask(actor string, role models.Role) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE actor = $1 AND role = $2 AND status = $3`,
		actor, role, models.TaskStatusRunning)
	return scanTaskRow(row)
}

// ListRunningTasksBefore returns running tasks last updated before the cutoff.
func (s *PostgresStore) ListRunningTasksBefore(cutoff time.Time) ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`,
		models.TaskStatusRunning, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListRunningTasksBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query stalled tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SaveRelationshipPair writes both mirror records inside one transaction.
func (s *PostgresStore) SaveRelationshipPair(r models.Relationship) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveRelationshipPair begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO coach_relationships (coach_id, client_id, status, invited_by, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (coach_id, client_id) DO UPDATE SET status = $3, invited_by = $4, token = $5, updated_at = $7`,
		r.CoachID, r.ClientID, r.Status, r.InvitedBy, r.Token, r.CreatedAt, r.UpdatedAt); err != nil {
		slog.Error("PostgresStore SaveRelationshipPair coach mirror failed", "error", err, "coachID", r.CoachID, "clientID", r.ClientID)
		return fmt.Errorf("failed to save coach mirror: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO client_relationships (client_id, coach_id, status, invited_by, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id, coach_id) DO UPDATE SET status = $3, invited_by = $4, token = $5, updated_at = $7`,
		r.ClientID, r.CoachID, r.Status, r.InvitedBy, r.Token, r.CreatedAt, r.UpdatedAt); err != nil {
		slog.Error("PostgresStore SaveRelationshipPair client mirror failed", "error", err, "coachID", r.CoachID, "clientID", r.ClientID)
		return fmt.Errorf("failed to save client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveRelationshipPair commit failed", "error", err)
		return fmt.Errorf("failed to commit relationship pair: %w", err)
	}
	slog.Debug("PostgresStore SaveRelationshipPair succeeded", "coachID", r.CoachID, "clientID", r.ClientID, "status", r.Status)
	return nil
}

// UpdateRelationshipPairStatus applies the same status to both mirrors in one
// transaction.
func (s *PostgresStore) UpdateRelationshipPairStatus(coachID, clientID string, status models.ConnectionStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(`UPDATE coach_relationships SET status = $1, updated_at = $2 WHERE coach_id = $3 AND client_id = $4`, status, now, coachID, clientID)
	if err != nil {
		slog.Error("PostgresStore UpdateRelationshipPairStatus coach mirror failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to update coach mirror: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relationship %s/%s: %w", coachID, clientID, models.ErrNotFound)
	}
	if _, err := tx.Exec(`UPDATE client_relationships SET status = $1, updated_at = $2 WHERE client_id = $3 AND coach_id = $4`, status, now, clientID, coachID); err != nil {
		slog.Error("PostgresStore UpdateRelationshipPairStatus client mirror failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to update client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// DeleteRelationshipPair removes both mirrors in one transaction.
func (s *PostgresStore) DeleteRelationshipPair(coachID, clientID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM coach_relationships WHERE coach_id = $1 AND client_id = $2`, coachID, clientID); err != nil {
		return fmt.Errorf("failed to delete coach mirror: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM client_relationships WHERE client_id = $1 AND coach_id = $2`, clientID, coachID); err != nil {
		return fmt.Errorf("failed to delete client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relationship delete: %w", err)
	}
	return nil
}

// GetRelationship retrieves the coach-side mirror record, or nil.
func (s *PostgresStore) GetRelationship(coachID, clientID string) (*models.Relationship, error) {
	row := s.db.QueryRow(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM coach_relationships WHERE coach_id = $1 AND client_id = $2`, coachID, clientID)
	return scanRelationshipRow(row)
}

// GetRelationshipMirror retrieves the client-side mirror record, or nil.
func (s *PostgresStore) GetRelationshipMirror(clientID, coachID string) (*models.Relationship, error) {
	row := s.db.QueryRow(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM client_relationships WHERE client_id = $1 AND coach_id = $2`, clientID, coachID)
	return scanRelationshipRow(row)
}

// ListRelationshipsByCoach returns the coach-side ledger entries for a coach.
func (s *PostgresStore) ListRelationshipsByCoach(coachID string) ([]models.Relationship, error) {
	rows, err := s.db.Query(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM coach_relationships WHERE coach_id = $1 ORDER BY created_at`, coachID)
	if err != nil {
		slog.Error("PostgresStore ListRelationshipsByCoach query failed", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("failed to query coach relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// ListRelationshipsByClient returns the client-side ledger entries for a client.
func (s *PostgresStore) ListRelationshipsByClient(clientID string) ([]models.Relationship, error) {
	rows, err := s.db.Query(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM client_relationships WHERE client_id = $1 ORDER BY created_at`, clientID)
	if err != nil {
		slog.Error("PostgresStore ListRelationshipsByClient query failed", "error", err, "clientID", clientID)
		return nil, fmt.Errorf("failed to query client relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// SaveInvitation upserts an invitation.
func (s *PostgresStore) SaveInvitation(inv models.Invitation) error {
	_, err := s.db.Exec(`INSERT INTO invitations (id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET status = $8, client_name = $5, client_email = $6, custom_price = $7, updated_at = $10`,
		inv.ID, inv.Token, inv.CoachID, inv.ClientPhone, inv.ClientName, inv.ClientEmail, inv.CustomPrice, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveInvitation failed", "error", err, "id", inv.ID)
		return fmt.Errorf("failed to save invitation %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvitation retrieves an invitation by id, or nil.
func (s *PostgresStore) GetInvitation(id string) (*models.Invitation, error) {
	row := s.db.QueryRow(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE id = $1`, id)
	return scanInvitationRow(row)
}

// GetInvitationByToken retrieves an invitation by token, or nil.
func (s *PostgresStore) GetInvitationByToken(token string) (*models.Invitation, error) {
	row := s.db.QueryRow(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE token = $1 LIMIT 1`, token)
	return scanInvitationRow(row)
}

// UpdateInvitationStatus transitions an invitation's status in place.
func (s *PostgresStore) UpdateInvitationStatus(id string, status models.InvitationStatus) error {
	res, err := s.db.Exec(`UPDATE invitations SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateInvitationStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update invitation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invitation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListInvitationsByCoach returns all invitations a coach has issued.
func (s *PostgresStore) ListInvitationsByCoach(coachID string) ([]models.Invitation, error) {
	rows, err := s.db.Query(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE coach_id = $1 ORDER BY created_at`, coachID)
	if err != nil {
		slog.Error("PostgresStore ListInvitationsByCoach query failed", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
