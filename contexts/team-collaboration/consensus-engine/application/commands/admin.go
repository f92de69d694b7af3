package commands

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

// Approve is the owner override that resolves a subject as approved regardless
// of its policy. Phase suggestions additionally pass the dependency and
// position checks under their session lock.
func (uc ConsensusUseCase) Approve(ctx context.Context, subjectID string, actorID string) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "Approve", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	subjectID, actorID = strings.TrimSpace(subjectID), strings.TrimSpace(actorID)
	if subjectID == "" || actorID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	current, err := uc.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("approve: load subject", err)
	}
	if current.Kind == entities.SubjectKindPhaseSuggestion {
		return uc.approveSuggestion(ctx, current, actorID)
	}

	outcome, err := uc.mutateSubject(ctx, "approve", subjectID, actorID,
		func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			if err := checkOverride(*subject, actorID); err != nil {
				return step{}, err
			}
			if subject.Status == entities.StatusApproved {
				return step{}, domainerrors.ErrInvalidState
			}
			subject.OwnerApproved = subject.Kind == entities.SubjectKindReview
			subject.Transition(entities.StatusApproved, now)
			return step{Action: "approve"}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	return outcome.Subject, nil
}

// Reject is the owner override that resolves a subject as rejected.
func (uc ConsensusUseCase) Reject(ctx context.Context, subjectID string, actorID string, reason string) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "Reject", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	actorID = strings.TrimSpace(actorID)
	if strings.TrimSpace(subjectID) == "" || actorID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	outcome, err := uc.mutateSubject(ctx, "reject", subjectID, actorID,
		func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			if err := checkOverride(*subject, actorID); err != nil {
				return step{}, err
			}
			subject.ResolutionNote = strings.TrimSpace(reason)
			subject.Transition(entities.StatusRejected, now)
			return step{Action: "reject"}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	return outcome.Subject, nil
}

// Withdraw cancels a pending subject on behalf of its creator.
func (uc ConsensusUseCase) Withdraw(ctx context.Context, subjectID string, actorID string) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "Withdraw", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	actorID = strings.TrimSpace(actorID)
	if strings.TrimSpace(subjectID) == "" || actorID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	outcome, err := uc.mutateSubject(ctx, "withdraw", subjectID, actorID,
		func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			if subject.CreatedBy != actorID {
				return step{}, domainerrors.ErrForbidden
			}
			if subject.Status != entities.StatusPending {
				return step{}, domainerrors.ErrInvalidState
			}
			subject.Transition(entities.StatusWithdrawn, now)
			return step{Action: "withdraw"}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	return outcome.Subject, nil
}

// Apply consumes an approved decision or review and fires the apply effect.
// The approved -> applied check and write share one critical section, so the
// effect runs for exactly one caller; every later call gets ErrAlreadyApplied.
func (uc ConsensusUseCase) Apply(ctx context.Context, subjectID string, actorID string) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "Apply", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	logger := application.ResolveLogger(uc.Logger)
	actorID = strings.TrimSpace(actorID)
	if strings.TrimSpace(subjectID) == "" || actorID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	outcome, err := uc.mutateSubject(ctx, "apply", subjectID, actorID,
		func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			switch subject.Kind {
			case entities.SubjectKindDecision, entities.SubjectKindReview:
			default:
				return step{}, domainerrors.ErrInvalidState
			}
			if subject.CreatedBy != actorID {
				return step{}, domainerrors.ErrForbidden
			}
			if subject.Status == entities.StatusApplied {
				return step{}, domainerrors.ErrAlreadyApplied
			}
			if subject.Status != entities.StatusApproved {
				return step{}, domainerrors.ErrInvalidState
			}
			subject.Transition(entities.StatusApplied, now)
			return step{Action: "apply"}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	if !outcome.Changed || outcome.Subject.Status != entities.StatusApplied {
		return outcome.Subject, domainerrors.ErrAlreadyApplied
	}
	uc.fireApplyEffect(ctx, outcome.Subject.SubjectID, outcome.Subject.Payload)
	logger.Info("subject applied",
		"event", "consensus_subject_applied",
		"module", moduleName,
		"layer", "application",
		"subject_id", outcome.Subject.SubjectID,
		"actor_id", actorID,
	)
	return outcome.Subject, nil
}

// Expire forces a subject whose deadline has passed into expired. Subjects
// that are not due are returned unchanged.
func (uc ConsensusUseCase) Expire(ctx context.Context, subjectID string) (subject entities.Subject, changed bool, err error) {
	ctx, span := startSpan(ctx, "Expire", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	outcome, err := uc.mutateSubject(ctx, "expire", subjectID, "system",
		func(_ context.Context, _ *entities.Subject, _ []entities.Vote, _ time.Time) (step, error) {
			return step{}, nil
		},
	)
	if err != nil {
		return outcome.Subject, false, err
	}
	return outcome.Subject, outcome.Changed, nil
}

// DeleteSubject removes a pending or withdrawn subject. Resolved subjects are
// kept as the audit trail.
func (uc ConsensusUseCase) DeleteSubject(ctx context.Context, subjectID string, actorID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteSubject", attribute.String("subject_id", strings.TrimSpace(subjectID)))
	defer func() { endSpan(span, err) }()

	logger := application.ResolveLogger(uc.Logger)
	subjectID, actorID = strings.TrimSpace(subjectID), strings.TrimSpace(actorID)
	if subjectID == "" || actorID == "" {
		return domainerrors.ErrInvalidInput
	}
	unlock, err := uc.lock(ctx, subjectLockKey(subjectID))
	if err != nil {
		return domainerrors.Infrastructure("delete: lock", err)
	}
	defer unlock()

	subject, err := uc.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return domainerrors.Infrastructure("delete: load subject", err)
	}
	if subject.CreatedBy != actorID {
		return domainerrors.ErrForbidden
	}
	if subject.Status != entities.StatusPending && subject.Status != entities.StatusWithdrawn {
		return domainerrors.ErrInvalidState
	}
	if err := uc.Subjects.DeleteSubject(ctx, subjectID); err != nil {
		return domainerrors.Infrastructure("delete: delete subject", err)
	}
	logger.Info("subject deleted",
		"event", "consensus_subject_deleted",
		"module", moduleName,
		"layer", "application",
		"subject_id", subjectID,
		"actor_id", actorID,
		"status", string(subject.Status),
	)
	return nil
}

// checkOverride gates the owner-only approve/reject path.
func checkOverride(subject entities.Subject, actorID string) error {
	if subject.Kind == entities.SubjectKindHandoff {
		return domainerrors.ErrInvalidState
	}
	if subject.OwnerID != actorID {
		return domainerrors.ErrForbidden
	}
	if subject.IsTerminal() {
		return domainerrors.ErrInvalidState
	}
	return nil
}

func (uc ConsensusUseCase) fireApplyEffect(ctx context.Context, subjectID string, payload []byte) {
	logger := application.ResolveLogger(uc.Logger)
	if uc.Effects == nil {
		return
	}
	if err := uc.Effects.OnApplied(ctx, subjectID, payload); err != nil {
		if uc.Metrics != nil {
			uc.Metrics.RecordApplyEffect("failed")
		}
		logger.Error("apply effect failed",
			"event", "consensus_apply_effect_failed",
			"module", moduleName,
			"layer", "application",
			"subject_id", subjectID,
			"error", err.Error(),
		)
		return
	}
	if uc.Metrics != nil {
		uc.Metrics.RecordApplyEffect("succeeded")
	}
}
