// Package models defines task and flow type definitions shared across modules.
package models

import "time"

// FlowType names a family of multi-turn conversation logic. Each running Task
// belongs to exactly one flow type.
type FlowType string

// Flow type constants.
const (
	FlowTypeRegistration    FlowType = "registration"
	FlowTypeLogin           FlowType = "login"
	FlowTypeClientCreation  FlowType = "client_creation"
	FlowTypeCoachInvitation FlowType = "coach_invitation"
	FlowTypeRemoval         FlowType = "removal"
)

// Step names a position inside a flow's state machine. Steps are explicit
// strings, not list positions, so flows can branch non-linearly.
type Step string

// TaskStatus represents the lifecycle state of a Task.
type TaskStatus string

const (
	// TaskStatusRunning indicates the task is awaiting its next inbound event.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the flow concluded normally. Terminal.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusStopped indicates the flow was cancelled or failed. Terminal.
	TaskStatusStopped TaskStatus = "stopped"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusStopped
}

// Payload is the open bag of accumulated, flow-specific fields a task carries
// between turns (collected answers, chosen price, contact data, retry counters).
type Payload map[string]string

// Clone returns a copy of the payload so callers can mutate freely.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge overlays other onto p, returning p for chaining.
func (p Payload) Merge(other Payload) Payload {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Task is a persisted, resumable unit of multi-turn conversation state.
// Invariant: at most one running Task per (actor, role).
type Task struct {
	ID        string     `json:"id"`
	Actor     string     `json:"actor"`
	Role      Role       `json:"role"`
	Type      FlowType   `json:"type"`
	Status    TaskStatus `json:"status"`
	Step      Step       `json:"step"`
	Payload   Payload    `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
