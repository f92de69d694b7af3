package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const (
	statusChangedTopic     = "consensus.subject.status_changed"
	defaultStatusChangedCG = "consensus-engine-status-cg"
)

type StatusChangedPayload struct {
	SubjectID  string `json:"subject_id"`
	Kind       string `json:"kind"`
	ActorID    string `json:"actor_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// StatusChangedConsumer subscribes to status-change events and hands each
// decoded change to Deliver. With no Deliver set it only logs the change.
type StatusChangedConsumer struct {
	Subscriber    ports.EventSubscriber
	ConsumerGroup string
	Deliver       func(context.Context, StatusChangedPayload) error
	Logger        *slog.Logger
}

func (c StatusChangedConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultStatusChangedCG
	}
	if err := c.Subscriber.Subscribe(ctx, statusChangedTopic, group, c.handle); err != nil {
		logger.Error("status consumer subscribe failed",
			"event", "consensus_status_consumer_subscribe_failed",
			"module", moduleName,
			"layer", "worker",
			"topic", statusChangedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("status consumer subscription active",
		"event", "consensus_status_consumer_started",
		"module", moduleName,
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c StatusChangedConsumer) handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	var payload StatusChangedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("status change payload decode failed",
			"event", "consensus_status_change_decode_failed",
			"module", moduleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("subject status change delivered",
		"event", "consensus_status_change_delivered",
		"module", moduleName,
		"layer", "worker",
		"event_id", event.EventID,
		"subject_id", payload.SubjectID,
		"from_status", payload.FromStatus,
		"to_status", payload.ToStatus,
	)
	if c.Deliver == nil {
		return nil
	}
	return c.Deliver(ctx, payload)
}
