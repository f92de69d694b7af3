package commands

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const (
	StatusChangedEventType = "consensus.subject.status_changed"
	AppliedEventType       = "consensus.subject.applied"
)

// OutboxNotifier records status changes as outbox envelopes. The outbox relay
// worker publishes them to the event bus.
type OutboxNotifier struct {
	Outbox ports.OutboxWriter
	IDGen  ports.IDGenerator
}

func (n OutboxNotifier) OnStatusChanged(ctx context.Context, change ports.StatusChange) error {
	if n.Outbox == nil {
		return errors.New("outbox writer is not configured")
	}
	eventID := ""
	if n.IDGen != nil {
		id, err := n.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		eventID = id
	}
	envelope, err := newConsensusEnvelope(eventID, StatusChangedEventType, change.SubjectID, change.OccurredAt, map[string]any{
		"subject_id":  change.SubjectID,
		"kind":        string(change.Kind),
		"actor_id":    change.ActorID,
		"from_status": string(change.FromStatus),
		"to_status":   string(change.ToStatus),
	})
	if err != nil {
		return err
	}
	return n.Outbox.AppendOutbox(ctx, envelope)
}

func newConsensusEnvelope(
	eventID string,
	eventType string,
	subjectID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Partitioned by subject so consumers see one subject's changes in order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "consensus-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "subject_id",
		PartitionKey:     subjectID,
		Data:             payload,
	}, nil
}

// OutboxEffector hands an applied subject's payload to downstream consumers
// through the outbox. The engine calls it at most once per subject, and a
// finalized session arrives keyed by its session id.
type OutboxEffector struct {
	Outbox ports.OutboxWriter
	IDGen  ports.IDGenerator
	Clock  ports.Clock
}

func (e OutboxEffector) OnApplied(ctx context.Context, subjectID string, payload json.RawMessage) error {
	if e.Outbox == nil {
		return errors.New("outbox writer is not configured")
	}
	if e.IDGen == nil {
		return errors.New("id generator is not configured")
	}
	eventID, err := e.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	occurredAt := time.Now()
	if e.Clock != nil {
		occurredAt = e.Clock.Now()
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	envelope, err := newConsensusEnvelope(eventID, AppliedEventType, subjectID, occurredAt, map[string]any{
		"subject_id": subjectID,
		"payload":    payload,
	})
	if err != nil {
		return err
	}
	return e.Outbox.AppendOutbox(ctx, envelope)
}

var (
	_ ports.StatusNotifier = OutboxNotifier{}
	_ ports.ApplyEffector  = OutboxEffector{}
)
