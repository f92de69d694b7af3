package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/domain/policy"
)

// FinalizeResult is the locked session together with the suggestions it
// adopted, in plan order.
type FinalizeResult struct {
	Session entities.PlanningSession
	Plan    []entities.Subject
}

type adoptedPlanPayload struct {
	SessionID   string    `json:"session_id"`
	AdoptedPlan []string  `json:"adopted_plan"`
	FinalizedBy string    `json:"finalized_by"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// approveSuggestion holds the session lock while the subject is approved so
// the dependency and position checks see a stable approved set.
func (uc ConsensusUseCase) approveSuggestion(ctx context.Context, current entities.Subject, actorID string) (entities.Subject, error) {
	if current.Suggestion == nil {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	sessionID := current.Suggestion.SessionID
	unlock, err := uc.lock(ctx, sessionLockKey(sessionID))
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("approve_suggestion: lock", err)
	}
	defer unlock()

	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("approve_suggestion: load session", err)
	}
	if session.Status != entities.SessionStatusActive {
		return entities.Subject{}, domainerrors.ErrInvalidState
	}

	outcome, err := uc.mutateSubject(ctx, "approve_suggestion", current.SubjectID, actorID,
		func(ctx context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
			if err := checkOverride(*subject, actorID); err != nil {
				return step{}, err
			}
			siblings, err := uc.Subjects.ListSubjectsBySession(ctx, sessionID)
			if err != nil {
				return step{}, domainerrors.Infrastructure("approve_suggestion: list session", err)
			}
			if err := policy.ValidateSuggestionApproval(*subject, siblings); err != nil {
				return step{}, err
			}
			approvedAt := now
			subject.Suggestion.ApprovedAt = &approvedAt
			subject.Transition(entities.StatusApproved, now)
			return step{Action: "approve"}, nil
		},
	)
	if err != nil {
		return outcome.Subject, err
	}
	return outcome.Subject, nil
}

// Finalize adopts the projected plan of a session. Approved suggestions move
// to applied in plan order and the session is locked with the adopted ids.
// A finalize interrupted after some suggestions were applied can be re-run.
func (uc ConsensusUseCase) Finalize(ctx context.Context, sessionID string, actorID string) (result FinalizeResult, err error) {
	ctx, span := startSpan(ctx, "Finalize", attribute.String("session_id", strings.TrimSpace(sessionID)))
	defer func() { endSpan(span, err) }()

	logger := application.ResolveLogger(uc.Logger)
	sessionID, actorID = strings.TrimSpace(sessionID), strings.TrimSpace(actorID)
	if sessionID == "" || actorID == "" {
		return FinalizeResult{}, domainerrors.ErrInvalidInput
	}
	unlock, err := uc.lock(ctx, sessionLockKey(sessionID))
	if err != nil {
		return FinalizeResult{}, domainerrors.Infrastructure("finalize: lock", err)
	}
	defer unlock()

	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, domainerrors.Infrastructure("finalize: load session", err)
	}
	if session.OwnerID != actorID {
		return FinalizeResult{}, domainerrors.ErrForbidden
	}
	if session.Status != entities.SessionStatusActive {
		return FinalizeResult{}, domainerrors.ErrInvalidState
	}
	suggestions, err := uc.Subjects.ListSubjectsBySession(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, domainerrors.Infrastructure("finalize: list session", err)
	}
	projected := policy.ProjectPlan(sessionID, suggestions)
	if len(projected) == 0 {
		return FinalizeResult{}, domainerrors.ErrInvalidState
	}

	plan := make([]entities.Subject, 0, len(projected))
	adopted := make([]string, 0, len(projected))
	for _, item := range projected {
		outcome, err := uc.mutateSubject(ctx, "finalize", item.SubjectID, actorID,
			func(_ context.Context, subject *entities.Subject, _ []entities.Vote, now time.Time) (step, error) {
				switch subject.Status {
				case entities.StatusApplied:
					return step{}, nil
				case entities.StatusApproved:
					subject.Transition(entities.StatusApplied, now)
					return step{Action: "finalize"}, nil
				default:
					return step{}, domainerrors.ErrInvalidState
				}
			},
		)
		if err != nil {
			logger.Error("finalize aborted on suggestion",
				"event", "consensus_finalize_suggestion_failed",
				"module", moduleName,
				"layer", "application",
				"session_id", sessionID,
				"subject_id", item.SubjectID,
				"error", err.Error(),
			)
			return FinalizeResult{}, err
		}
		plan = append(plan, outcome.Subject)
		adopted = append(adopted, outcome.Subject.SubjectID)
	}

	now := uc.now()
	var finalized entities.PlanningSession
	saveSession := func() error {
		finalized = session
		finalized.Status = entities.SessionStatusFinalized
		finalized.AdoptedPlan = adopted
		finalized.Version = session.Version + 1
		finalized.UpdatedAt = now
		finalizedAt := now
		finalized.FinalizedAt = &finalizedAt
		err := uc.Sessions.SaveSessionIfVersion(ctx, finalized, session.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domainerrors.ErrVersionConflict) {
			return backoff.Permanent(domainerrors.Infrastructure("finalize: save session", err))
		}
		uc.recordConflict("finalize")
		// Another writer touched the session; finalize over its copy while
		// it is still active and owned by the same actor.
		latest, loadErr := uc.Sessions.GetSession(ctx, sessionID)
		if loadErr != nil {
			return backoff.Permanent(domainerrors.Infrastructure("finalize: reload session", loadErr))
		}
		if latest.OwnerID != actorID || latest.Status != entities.SessionStatusActive {
			return backoff.Permanent(domainerrors.ErrInvalidState)
		}
		session = latest
		return err
	}
	if err := backoff.Retry(saveSession, uc.retryPolicy(ctx)); err != nil {
		logger.Error("finalize session save failed",
			"event", "consensus_finalize_session_failed",
			"module", moduleName,
			"layer", "application",
			"session_id", sessionID,
			"error", err.Error(),
		)
		return FinalizeResult{}, err
	}

	payload, err := json.Marshal(adoptedPlanPayload{
		SessionID:   sessionID,
		AdoptedPlan: adopted,
		FinalizedBy: actorID,
		FinalizedAt: now,
	})
	if err != nil {
		logger.Error("adopted plan encode failed",
			"event", "consensus_finalize_encode_failed",
			"module", moduleName,
			"layer", "application",
			"session_id", sessionID,
			"error", err.Error(),
		)
	} else {
		uc.fireApplyEffect(ctx, sessionID, payload)
	}
	logger.Info("planning session finalized",
		"event", "consensus_session_finalized",
		"module", moduleName,
		"layer", "application",
		"session_id", sessionID,
		"actor_id", actorID,
		"adopted_count", len(adopted),
	)
	return FinalizeResult{Session: finalized, Plan: plan}, nil
}
