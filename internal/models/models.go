// Package models defines the core data structures for CoachLink.
//
// It includes types for users, tasks, relationships, and invitations, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Role identifies which side of a coach/client relationship an actor is acting as.
type Role string

const (
	// RoleCoach is the service-provider role.
	RoleCoach Role = "coach"
	// RoleClient is the served-client role.
	RoleClient Role = "client"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleCoach, RoleClient:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxNameLength defines the maximum allowed length for display names
	MaxNameLength = 100
	// MaxMessageLength defines the maximum allowed length for outbound message bodies
	MaxMessageLength = 4096
	// MaxButtonsPerMessage defines the maximum number of buttons a single message may carry
	MaxButtonsPerMessage = 3
	// MinPhoneDigits defines the minimum number of digits for a canonical phone number
	MinPhoneDigits = 6
	// MaxFieldRetries defines how many times a validation failure re-prompts the
	// same step before the flow is forced to restart
	MaxFieldRetries = 3
)

// Error taxonomy sentinels. Handlers classify failures with errors.Is against
// these and normalize them into a RouteResult at the router boundary.
var (
	// ErrValidation marks recoverable bad field input; the flow re-prompts the same step.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced entity that is absent from the store.
	ErrNotFound = errors.New("not found")
	// ErrState marks an unrecognized task type or step; the task is stopped.
	ErrState = errors.New("invalid flow state")
	// ErrTransport marks an outbound send failure; not retried within the core.
	ErrTransport = errors.New("transport failure")
	// ErrDataIntegrity marks a cross-table identifier mismatch.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrTaskRunning is returned when creating a task while one is already running
	// for the same (actor, role).
	ErrTaskRunning = errors.New("a task is already running for this actor and role")
	// ErrEmptyRecipient is returned for sends without a recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

// User maps a channel identity (phone) to its role-specific domain identifiers.
// An actor may hold zero, one, or both roles; ActiveRole decides which role's
// commands and tasks apply to an ambiguous inbound event.
type User struct {
	Phone      string    `json:"phone"`
	CoachID    string    `json:"coach_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	ActiveRole Role      `json:"active_role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(r Role) bool {
	switch r {
	case RoleCoach:
		return u.CoachID != ""
	case RoleClient:
		return u.ClientID != ""
	default:
		return false
	}
}

// RoleID returns the domain identifier for the given role, or empty if the
// user does not hold it.
func (u *User) RoleID(r Role) string {
	switch r {
	case RoleCoach:
		return u.CoachID
	case RoleClient:
		return u.ClientID
	default:
		return ""
	}
}

// Coach is the provider-side domain entity.
type Coach struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	DefaultPrice string    `json:"default_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Client is the served-side domain entity.
type Client struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Button is a single tappable option attached to an outbound message.
// The ID travels back verbatim as the button identifier of a tap event.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListSection groups rows of a list message.
type ListSection struct {
	Title string   `json:"title"`
	Rows  []Button `json:"rows"`
}

// RouteResult is the uniform result shape every router branch returns.
// Handler is a diagnostic tag, not part of the contract surface.
type RouteResult struct {
	Success  bool     `json:"success"`
	Response string   `json:"response"`
	Handler  string   `json:"handler"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Response represents an inbound event from a participant: free text, an
// opaque button identifier, or both (some channels echo the label as text).
type Response struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	ButtonID string `json:"button_id,omitempty"`
	Time     int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a delivery status change for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}
