package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const moduleName = "team-collaboration/consensus-engine"

// OutboxRelay publishes persisted status-change envelopes to the event bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes one bounded batch. A row is marked published only after
// the bus accepted it, and the cycle stops at the first failure so the next
// cycle resumes from that row.
func (r OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("consensus outbox list failed",
			"event", "consensus_outbox_list_failed",
			"module", moduleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if len(pending) == 0 {
		logger.Debug("consensus outbox relay found no pending rows",
			"event", "consensus_outbox_relay_noop",
			"module", moduleName,
			"layer", "worker",
			"batch_size", limit,
		)
		return 0, nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	published := 0
	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("consensus outbox decode failed",
				"event", "consensus_outbox_decode_failed",
				"module", moduleName,
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return published, err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("consensus outbox publish failed",
				"event", "consensus_outbox_publish_failed",
				"module", moduleName,
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return published, err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("consensus outbox mark published failed",
				"event", "consensus_outbox_mark_published_failed",
				"module", moduleName,
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return published, err
		}
		published++
	}

	logger.Info("consensus outbox relay cycle completed",
		"event", "consensus_outbox_relay_completed",
		"module", moduleName,
		"layer", "worker",
		"published_count", published,
	)
	return published, nil
}
