// Package store provides storage backends for CoachLink.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL backed
// stores for production. All backends expose the same Store interface; the
// relationship mirror pair is always written as one logical unit.
package store

import (
	"strings"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// Store defines the persistence surface the conversation engine issues
// operations against. Implementations must treat the two relationship mirror
// records as a single transactional unit on every write path.
type Store interface {
	// Users
	GetUser(phone string) (*models.User, error)
	SaveUser(u models.User) error

	// Coaches
	SaveCoach(c models.Coach) error
	GetCoach(id string) (*models.Coach, error)
	GetCoachByPhone(phone string) (*models.Coach, error)
	CoachIDExists(id string) (bool, error)

	// Clients
	SaveClient(c models.Client) error
	GetClient(id string) (*models.Client, error)
	GetClientByPhone(phone string) (*models.Client, error)
	ClientIDExists(id string) (bool, error)

	// Tasks
	SaveTask(t models.Task) error
	GetTask(id string) (*models.Task, error)
	GetRunningTask(actor string, role models.Role) (*models.Task, error)
	ListRunningTasksBefore(cutoff time.Time) ([]models.Task, error)

	// Relationships (mirror pair)
	SaveRelationshipPair(r models.Relationship) error
	UpdateRelationshipPairStatus(coachID, clientID string, status models.ConnectionStatus) error
	DeleteRelationshipPair(coachID, clientID string) error
	GetRelationship(coachID, clientID string) (*models.Relationship, error)
	GetRelationshipMirror(clientID, coachID string) (*models.Relationship, error)
	ListRelationshipsByCoach(coachID string) ([]models.Relationship, error)
	ListRelationshipsByClient(clientID string) ([]models.Relationship, error)

	// Invitations
	SaveInvitation(inv models.Invitation) error
	GetInvitation(id string) (*models.Invitation, error)
	GetInvitationByToken(token string) (*models.Invitation, error)
	UpdateInvitationStatus(id string, status models.InvitationStatus) error
	ListInvitationsByCoach(coachID string) ([]models.Invitation, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use URL or key=value form; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
