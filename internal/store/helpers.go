package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// marshalPayload serializes a task payload to JSON for storage. An empty
// payload serializes to the empty string so nullable-ish columns stay small.
func marshalPayload(p models.Payload) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return string(b), nil
}

// unmarshalPayload deserializes a stored payload. Corrupt payloads degrade to
// an empty map rather than failing the read.
func unmarshalPayload(raw string) models.Payload {
	p := models.Payload{}
	if raw == "" {
		return p
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Payload{}
	}
	return p
}

// scanTaskRow scans a Task from a single sql.Row, mapping ErrNoRows to nil.
func scanTaskRow(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var payload string
	err := row.Scan(&t.ID, &t.Actor, &t.Role, &t.Type, &t.Status, &t.Step, &payload, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task failed: %w", err)
	}
	t.Payload = unmarshalPayload(payload)
	return &t, nil
}

// collectTasks drains sql.Rows into a task slice.
func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var out []models.Task
	for rows.Next() {
		var t models.Task
		var payload string
		if err := rows.Scan(&t.ID, &t.Actor, &t.Role, &t.Type, &t.Status, &t.Step, &payload, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task row failed: %w", err)
		}
		t.Payload = unmarshalPayload(payload)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows failed: %w", err)
	}
	return out, nil
}

// scanRelationshipRow scans a Relationship from a single sql.Row.
func scanRelationshipRow(row *sql.Row) (*models.Relationship, error) {
	var r models.Relationship
	err := row.Scan(&r.CoachID, &r.ClientID, &r.Status, &r.InvitedBy, &r.Token, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan relationship failed: %w", err)
	}
	return &r, nil
}

// collectRelationships drains sql.Rows into a relationship slice.
func collectRelationships(rows *sql.Rows) ([]models.Relationship, error) {
	var out []models.Relationship
	for rows.Next() {
		var r models.Relationship
		if err := rows.Scan(&r.CoachID, &r.ClientID, &r.Status, &r.InvitedBy, &r.Token, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship row failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationship rows failed: %w", err)
	}
	return out, nil
}

// scanInvitationRow scans an Invitation from a single sql.Row.
func scanInvitationRow(row *sql.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.CoachID, &inv.ClientPhone, &inv.ClientName, &inv.ClientEmail, &inv.CustomPrice, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan invitation failed: %w", err)
	}
	return &inv, nil
}

// collectInvitations drains sql.Rows into an invitation slice.
func collectInvitations(rows *sql.Rows) ([]models.Invitation, error) {
	var out []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		if err := rows.Scan(&inv.ID, &inv.Token, &inv.CoachID, &inv.ClientPhone, &inv.ClientName, &inv.ClientEmail, &inv.CustomPrice, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation row failed: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitation rows failed: %w", err)
	}
	return out, nil
}

// scanCoachRow scans a Coach from a single sql.Row.
func scanCoachRow(row *sql.Row, key string) (*models.Coach, error) {
	var c models.Coach
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.Email, &c.DefaultPrice, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan coach %s failed: %w", key, err)
	}
	return &c, nil
}

// scanClientRow scans a Client from a single sql.Row.
func scanClientRow(row *sql.Row, key string) (*models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client %s failed: %w", key, err)
	}
	return &c, nil
}
