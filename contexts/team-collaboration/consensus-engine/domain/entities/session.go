package entities

import "time"

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusFinalized SessionStatus = "finalized"
)

// PlanningSession groups phase suggestions. AdoptedPlan is filled once, by
// finalize, with suggestion ids in projected order.
type PlanningSession struct {
	SessionID   string
	Title       string
	OwnerID     string
	Status      SessionStatus
	AdoptedPlan []string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
}

type ActivityRecord struct {
	ActivityID string
	SubjectID  string
	ActorID    string
	Action     string
	FromStatus Status
	ToStatus   Status
	Note       string
	OccurredAt time.Time
}
