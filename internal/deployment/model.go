package deployment

import (
	"time"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/plan"
)

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Deployment represents a row in the deployments table.
type Deployment struct {
	ID             uuid.UUID
	Fingerprint    string
	RepoName       string
	PagesURL       string
	Status         Status
	Tier           plan.Tier
	NotifyEmail    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	ArchivedAt     *time.Time
	DeletedAt      *time.Time
	LastExtendedAt *time.Time
	RemindedAt     *time.Time
}

// Transition describes a predicate status change: the row moves to To only
// if its current status is one of From and the optional time guards hold.
type Transition struct {
	From []Status
	To   Status
	At   time.Time

	// ExpiredBy additionally requires expires_at <= ExpiredBy.
	ExpiredBy *time.Time
	// ArchivedBy additionally requires archived_at <= ArchivedBy.
	ArchivedBy *time.Time
}

// ExpiryUpdate moves expires_at forward and reactivates the row, provided
// the row still has the status and expiry the caller read.
type ExpiryUpdate struct {
	ExpectedStatus    Status
	ExpectedExpiresAt time.Time
	ExpiresAt         time.Time
	Tier              plan.Tier
	At                time.Time
}

// PublishRequest holds the inputs for publishing a new site.
type PublishRequest struct {
	Fingerprint string
	Name        string
	Files       map[string][]byte
	NotifyEmail string
}

// Usage counts a fingerprint's deployments by status.
type Usage struct {
	Active   int `json:"active"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
}

func (u *Usage) add(s Status, n int) {
	switch s {
	case StatusActive:
		u.Active += n
	case StatusArchived:
		u.Archived += n
	case StatusDeleted:
		u.Deleted += n
	}
}
