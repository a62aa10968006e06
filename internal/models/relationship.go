// Package models defines relationship and invitation structures for CoachLink.
package models

import "time"

// ConnectionStatus is the shared status of a coach/client relationship.
// Both mirror records of a pair always carry the same value.
type ConnectionStatus string

const (
	// ConnectionPending indicates an invitation was sent and not yet answered.
	ConnectionPending ConnectionStatus = "pending"
	// ConnectionActive indicates both sides approved the relationship.
	ConnectionActive ConnectionStatus = "active"
	// ConnectionDeclined indicates one side declined. Re-inviting overwrites
	// the pair back to pending.
	ConnectionDeclined ConnectionStatus = "declined"
)

// Relationship is the bidirectional link between a coach and a client. It is
// persisted as a pair of mirrored records, one on each side's ledger.
type Relationship struct {
	CoachID   string           `json:"coach_id"`
	ClientID  string           `json:"client_id"`
	Status    ConnectionStatus `json:"status"`
	InvitedBy Role             `json:"invited_by"`
	Token     string           `json:"token,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// InvitationStatus tracks the lifecycle of an out-of-band invitation record.
type InvitationStatus string

const (
	// InvitationPending indicates the invitation is awaiting a response.
	InvitationPending InvitationStatus = "pending"
	// InvitationPendingCompletion indicates the invitee accepted but still has
	// to finish registering their profile.
	InvitationPendingCompletion InvitationStatus = "pending_client_completion"
	// InvitationAccepted indicates the invitee accepted.
	InvitationAccepted InvitationStatus = "accepted"
	// InvitationDeclined indicates the invitee declined.
	InvitationDeclined InvitationStatus = "declined"
)

// Invitation is a longer-lived audit record for out-of-band offers, such as a
// coach inviting a not-yet-registered client. Invitations are never
// hard-deleted; they are superseded by status transitions.
type Invitation struct {
	ID          string           `json:"id"`
	Token       string           `json:"token"`
	CoachID     string           `json:"coach_id"`
	ClientPhone string           `json:"client_phone"`
	ClientName  string           `json:"client_name,omitempty"`
	ClientEmail string           `json:"client_email,omitempty"`
	CustomPrice string           `json:"custom_price,omitempty"`
	Status      InvitationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ClientScenario is the derived classification of a client's relationship
// state relative to a given coach. It is computed on demand and never stored.
type ClientScenario string

const (
	// ScenarioNew means the phone is not registered as a client at all.
	ScenarioNew ClientScenario = "new"
	// ScenarioAvailable means the client exists with no active coach.
	ScenarioAvailable ClientScenario = "available"
	// ScenarioAlreadyYours means the client already has an active relationship
	// with the asking coach.
	ScenarioAlreadyYours ClientScenario = "already_yours"
	// ScenarioHasOtherCoach means the client has an active relationship with a
	// different coach.
	ScenarioHasOtherCoach ClientScenario = "has_other_coach"
)
