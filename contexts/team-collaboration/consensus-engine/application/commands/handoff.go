package commands

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/domain/policy"
)

func (uc ConsensusUseCase) AcceptHandoff(ctx context.Context, subjectID string, actorID string) (entities.Subject, error) {
	return uc.moveHandoff(ctx, subjectID, actorID, policy.HandoffAccept, "")
}

func (uc ConsensusUseCase) DeclineHandoff(ctx context.Context, subjectID string, actorID string, reason string) (entities.Subject, error) {
	return uc.moveHandoff(ctx, subjectID, actorID, policy.HandoffDecline, reason)
}

func (uc ConsensusUseCase) CompleteHandoff(ctx context.Context, subjectID string, actorID string) (entities.Subject, error) {
	return uc.moveHandoff(ctx, subjectID, actorID, policy.HandoffComplete, "")
}

// moveHandoff applies one edge of the handoff state machine. Accepting moves
// the conversation to the recipient.
func (uc ConsensusUseCase) moveHandoff(
	ctx context.Context,
	subjectID string,
	actorID string,
	action policy.HandoffAction,
	note string,
) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "Handoff",
		attribute.String("subject_id", strings.TrimSpace(subjectID)),
		attribute.String("action", string(action)),
	)
	defer func() { endSpan(span, err) }()

	actorID = strings.TrimSpace(actorID)
	if strings.TrimSpace(subjectID) == "" || actorID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	outcome, err := uc.mutateSubject(ctx, "handoff_"+string(action), subjectID, actorID,
		func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			next, err := policy.NextHandoffStatus(*subject, action, actorID)
			if err != nil {
				return step{}, err
			}
			if action == policy.HandoffAccept {
				subject.Handoff.HolderID = subject.Handoff.ToUserID
			}
			if note = strings.TrimSpace(note); note != "" {
				subject.ResolutionNote = note
			}
			subject.Transition(next, now)
			return step{Action: string(action)}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	return outcome.Subject, nil
}
