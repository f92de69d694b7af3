package ports

import (
	"context"
	"encoding/json"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

// SubjectRepository persists subjects. SaveSubjectIfVersion must write only
// when the stored version equals expectedVersion and must then store
// subject.Version (the caller bumps it); otherwise it returns
// ErrVersionConflict.
type SubjectRepository interface {
	CreateSubject(ctx context.Context, subject entities.Subject) error
	GetSubject(ctx context.Context, subjectID string) (entities.Subject, error)
	SaveSubjectIfVersion(ctx context.Context, subject entities.Subject, expectedVersion int64) error
	DeleteSubject(ctx context.Context, subjectID string) error
	ListSubjectsBySession(ctx context.Context, sessionID string) ([]entities.Subject, error)
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type VoteRepository interface {
	ListVotes(ctx context.Context, subjectID string) ([]entities.Vote, error)
	UpsertVote(ctx context.Context, vote entities.Vote) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session entities.PlanningSession) error
	GetSession(ctx context.Context, sessionID string) (entities.PlanningSession, error)
	SaveSessionIfVersion(ctx context.Context, session entities.PlanningSession, expectedVersion int64) error
}

// SubjectLocker serializes mutations per key. Different keys never block each
// other.
type SubjectLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ApplyEffector performs the real-world effect of an applied subject. It is
// called at most once per subject by the engine.
type ApplyEffector interface {
	OnApplied(ctx context.Context, subjectID string, payload json.RawMessage) error
}

// StatusNotifier is best effort; failures never undo a transition.
type StatusNotifier interface {
	OnStatusChanged(ctx context.Context, change StatusChange) error
}

type StatusChange struct {
	SubjectID  string
	Kind       entities.SubjectKind
	ActorID    string
	FromStatus entities.Status
	ToStatus   entities.Status
	OccurredAt time.Time
}

type ActivityLog interface {
	AppendActivity(ctx context.Context, record entities.ActivityRecord) error
}

// Metrics receives engine counters. A nil Metrics disables recording.
type Metrics interface {
	RecordVote(kind entities.SubjectKind, choice entities.VoteChoice)
	RecordTransition(kind entities.SubjectKind, from entities.Status, to entities.Status)
	RecordVersionConflict(op string)
	RecordApplyEffect(result string)
	RecordExpired(kind entities.SubjectKind)
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
