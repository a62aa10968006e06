// Package store provides storage backends for CoachLink.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/coachlinkhq/coachlink/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on top of a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetUser retrieves a user by phone, or nil if absent.
func (s *SQLiteStore) GetUser(phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT phone, coach_id, client_id, active_role, created_at, updated_at FROM users WHERE phone = ?`, phone)
	var u models.User
	err := row.Scan(&u.Phone, &u.CoachID, &u.ClientID, &u.ActiveRole, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return &u, nil
}

// SaveUser inserts or replaces a user keyed by phone.
func (s *SQLiteStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO users (phone, coach_id, client_id, active_role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Phone, u.CoachID, u.ClientID, u.ActiveRole, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "phone", u.Phone)
		return fmt.Errorf("failed to save user %s: %w", u.Phone, err)
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "phone", u.Phone)
	return nil
}

// SaveCoach inserts or replaces a coach.
func (s *SQLiteStore) SaveCoach(c models.Coach) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO coaches (id, phone, name, email, default_price, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Phone, c.Name, c.Email, c.DefaultPrice, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCoach failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save coach %s: %w", c.ID, err)
	}
	return nil
}

// GetCoach retrieves a coach by id, or nil if absent.
func (s *SQLiteStore) GetCoach(id string) (*models.Coach, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, default_price, created_at, updated_at FROM coaches WHERE id = ?`, id)
	return scanCoachRow(row, id)
}

// GetCoachByPhone retrieves a coach by phone, or nil if absent.
func (s *SQLiteStore) GetCoachByPhone(phone string) (*models.Coach, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, default_price, created_at, updated_at FROM coaches WHERE phone = ? LIMIT 1`, phone)
	return scanCoachRow(row, phone)
}

// CoachIDExists reports whether a coach id is taken.
func (s *SQLiteStore) CoachIDExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM coaches WHERE id = ?`, id).Scan(&n); err != nil {
		slog.Error("SQLiteStore CoachIDExists failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to check coach id %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveClient inserts or replaces a client.
func (s *SQLiteStore) SaveClient(c models.Client) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO clients (id, phone, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Phone, c.Name, c.Email, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveClient failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save client %s: %w", c.ID, err)
	}
	return nil
}

// GetClient retrieves a client by id, or nil if absent.
func (s *SQLiteStore) GetClient(id string) (*models.Client, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, created_at, updated_at FROM clients WHERE id = ?`, id)
	return scanClientRow(row, id)
}

// GetClientByPhone retrieves a client by phone, or nil if absent.
func (s *SQLiteStore) GetClientByPhone(phone string) (*models.Client, error) {
	row := s.db.QueryRow(`SELECT id, phone, name, email, created_at, updated_at FROM clients WHERE phone = ? LIMIT 1`, phone)
	return scanClientRow(row, phone)
}

// ClientIDExists reports whether a client id is taken.
func (s *SQLiteStore) ClientIDExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM clients WHERE id = ?`, id).Scan(&n); err != nil {
		slog.Error("SQLiteStore ClientIDExists failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to check client id %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveTask inserts or replaces a task. The partial unique index on
// (actor, role, status=running) makes a second concurrent insert fail instead
// of silently violating the single-running-task invariant.
func (s *SQLiteStore) SaveTask(t models.Task) error {
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		slog.Error("SQLiteStore SaveTask payload marshal failed", "error", err, "id", t.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO tasks (id, actor, role, type, status, step, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Actor, t.Role, t.Type, t.Status, t.Step, payload, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTask failed", "error", err, "id", t.ID, "actor", t.Actor)
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore SaveTask succeeded", "id", t.ID, "status", t.Status, "step", t.Step)
	return nil
}

// GetTask retrieves a task by id, or nil if absent.
func (s *SQLiteStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

// GetRunningTask retrieves the single running task for (actor, role), or nil.
func (s *SQLiteStore) GetRunningTask(actor string, role models.Role) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE actor = ? AND role = ? AND status = ?`,
		actor, role, models.TaskStatusRunning)
	return scanTaskRow(row)
}

// ListRunningTasksBefore returns running tasks last updated before the cutoff.
func (s *SQLiteStore) ListRunningTasksBefore(cutoff time.Time) ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT id, actor, role, type, status, step, payload, created_at, updated_at FROM tasks WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		models.TaskStatusRunning, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListRunningTasksBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query stalled tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SaveRelationshipPair writes both mirror records inside one transaction.
func (s *SQLiteStore) SaveRelationshipPair(r models.Relationship) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveRelationshipPair begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO coach_relationships (coach_id, client_id, status, invited_by, token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CoachID, r.ClientID, r.Status, r.InvitedBy, r.Token, r.CreatedAt, r.UpdatedAt); err != nil {
		slog.Error("SQLiteStore SaveRelationshipPair coach mirror failed", "error", err, "coachID", r.CoachID, "clientID", r.ClientID)
		return fmt.Errorf("failed to save coach mirror: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO client_relationships (client_id, coach_id, status, invited_by, token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ClientID, r.CoachID, r.Status, r.InvitedBy, r.Token, r.CreatedAt, r.UpdatedAt); err != nil {
		slog.Error("SQLiteStore SaveRelationshipPair client mirror failed", "error", err, "coachID", r.CoachID, "clientID", r.ClientID)
		return fmt.Errorf("failed to save client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveRelationshipPair commit failed", "error", err)
		return fmt.Errorf("failed to commit relationship pair: %w", err)
	}
	slog.Debug("SQLiteStore SaveRelationshipPair succeeded", "coachID", r.CoachID, "clientID", r.ClientID, "status", r.Status)
	return nil
}

// UpdateRelationshipPairStatus applies the same status to both mirrors in one
// transaction.
func (s *SQLiteStore) UpdateRelationshipPairStatus(coachID, clientID string, status models.ConnectionStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(`UPDATE coach_relationships SET status = ?, updated_at = ? WHERE coach_id = ? AND client_id = ?`, status, now, coachID, clientID)
	if err != nil {
		slog.Error("SQLiteStore UpdateRelationshipPairStatus coach mirror failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to update coach mirror: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relationship %s/%s: %w", coachID, clientID, models.ErrNotFound)
	}
	if _, err := tx.Exec(`UPDATE client_relationships SET status = ?, updated_at = ? WHERE client_id = ? AND coach_id = ?`, status, now, clientID, coachID); err != nil {
		slog.Error("SQLiteStore UpdateRelationshipPairStatus client mirror failed", "error", err, "coachID", coachID, "clientID", clientID)
		return fmt.Errorf("failed to update client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	slog.Debug("SQLiteStore UpdateRelationshipPairStatus succeeded", "coachID", coachID, "clientID", clientID, "status", status)
	return nil
}

// DeleteRelationshipPair removes both mirrors in one transaction.
func (s *SQLiteStore) DeleteRelationshipPair(coachID, clientID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM coach_relationships WHERE coach_id = ? AND client_id = ?`, coachID, clientID); err != nil {
		return fmt.Errorf("failed to delete coach mirror: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM client_relationships WHERE client_id = ? AND coach_id = ?`, clientID, coachID); err != nil {
		return fmt.Errorf("failed to delete client mirror: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relationship delete: %w", err)
	}
	slog.Debug("SQLiteStore DeleteRelationshipPair succeeded", "coachID", coachID, "clientID", clientID)
	return nil
}

// GetRelationship retrieves the coach-side mirror record, or nil.
func (s *SQLiteStore) GetRelationship(coachID, clientID string) (*models.Relationship, error) {
	row := s.db.QueryRow(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM coach_relationships WHERE coach_id = ? AND client_id = ?`, coachID, clientID)
	return scanRelationshipRow(row)
}

// GetRelationshipMirror retrieves the client-side mirror record, or nil.
func (s *SQLiteStore) GetRelationshipMirror(clientID, coachID string) (*models.Relationship, error) {
	row := s.db.QueryRow(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM client_relationships WHERE client_id = ? AND coach_id = ?`, clientID, coachID)
	return scanRelationshipRow(row)
}

// ListRelationshipsByCoach returns the coach-side ledger entries for a coach.
func (s *SQLiteStore) ListRelationshipsByCoach(coachID string) ([]models.Relationship, error) {
	rows, err := s.db.Query(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM coach_relationships WHERE coach_id = ? ORDER BY created_at`, coachID)
	if err != nil {
		slog.Error("SQLiteStore ListRelationshipsByCoach query failed", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("failed to query coach relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// ListRelationshipsByClient returns the client-side ledger entries for a client.
func (s *SQLiteStore) ListRelationshipsByClient(clientID string) ([]models.Relationship, error) {
	rows, err := s.db.Query(`SELECT coach_id, client_id, status, invited_by, token, created_at, updated_at FROM client_relationships WHERE client_id = ? ORDER BY created_at`, clientID)
	if err != nil {
		slog.Error("SQLiteStore ListRelationshipsByClient query failed", "error", err, "clientID", clientID)
		return nil, fmt.Errorf("failed to query client relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// SaveInvitation inserts or replaces an invitation.
func (s *SQLiteStore) SaveInvitation(inv models.Invitation) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO invitations (id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Token, inv.CoachID, inv.ClientPhone, inv.ClientName, inv.ClientEmail, inv.CustomPrice, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveInvitation failed", "error", err, "id", inv.ID)
		return fmt.Errorf("failed to save invitation %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvitation retrieves an invitation by id, or nil.
func (s *SQLiteStore) GetInvitation(id string) (*models.Invitation, error) {
	row := s.db.QueryRow(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE id = ?`, id)
	return scanInvitationRow(row)
}

// GetInvitationByToken retrieves an invitation by token, or nil.
func (s *SQLiteStore) GetInvitationByToken(token string) (*models.Invitation, error) {
	row := s.db.QueryRow(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE token = ? LIMIT 1`, token)
	return scanInvitationRow(row)
}

// UpdateInvitationStatus transitions an invitation's status in place.
func (s *SQLiteStore) UpdateInvitationStatus(id string, status models.InvitationStatus) error {
	res, err := s.db.Exec(`UPDATE invitations SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateInvitationStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update invitation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invitation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListInvitationsByCoach returns all invitations a coach has issued.
func (s *SQLiteStore) ListInvitationsByCoach(coachID string) ([]models.Invitation, error) {
	rows, err := s.db.Query(`SELECT id, token, coach_id, client_phone, client_name, client_email, custom_price, status, created_at, updated_at FROM invitations WHERE coach_id = ? ORDER BY created_at`, coachID)
	if err != nil {
		slog.Error("SQLiteStore ListInvitationsByCoach query failed", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
