package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const (
	moduleName         = "team-collaboration/consensus-engine"
	tracerName         = "concord/consensus-engine"
	defaultMaxAttempts = 5
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConsensusUseCase is the consensus engine. Every status-changing operation
// runs as one critical section per subject: lock, load, lazy expiry,
// evaluate, compare-and-swap. Collaborator calls (apply effects,
// notifications, activity log) happen only after the write commits.
type ConsensusUseCase struct {
	Subjects        ports.SubjectRepository
	Votes           ports.VoteRepository
	Sessions        ports.SessionRepository
	Locker          ports.SubjectLocker
	Effects         ports.ApplyEffector
	Notifier        ports.StatusNotifier
	Activity        ports.ActivityLog
	Metrics         ports.Metrics
	Clock           ports.Clock
	IDGen           ports.IDGenerator
	DefaultPolicies map[entities.SubjectKind]entities.VotingPolicy
	MaxAttempts     int
	Logger          *slog.Logger
}

// transition describes a committed status change.
type transition struct {
	Subject entities.Subject
	From    entities.Status
	Changed bool
	Action  string
	ActorID string
	Note    string
}

// step is what a mutation reports back. Action names the activity record;
// Persist forces a versioned write even when the status is unchanged.
type step struct {
	Action  string
	Persist bool
}

// mutation edits subject in place. It returns the step taken, or an error to
// abort the write. votes is the snapshot read inside the critical section.
type mutation func(ctx context.Context, subject *entities.Subject, votes []entities.Vote, now time.Time) (step, error)

// mutateSubject runs fn inside the per-subject critical section and retries
// the read-evaluate-write cycle on version conflicts.
func (uc ConsensusUseCase) mutateSubject(
	ctx context.Context,
	op string,
	subjectID string,
	actorID string,
	fn mutation,
) (transition, error) {
	logger := application.ResolveLogger(uc.Logger)
	subjectID = strings.TrimSpace(subjectID)
	unlock, err := uc.lock(ctx, subjectLockKey(subjectID))
	if err != nil {
		return transition{}, domainerrors.Infrastructure(op+": lock", err)
	}
	defer unlock()

	var result transition
	attempt := func() error {
		result = transition{}
		subject, err := uc.Subjects.GetSubject(ctx, subjectID)
		if err != nil {
			return backoff.Permanent(domainerrors.Infrastructure(op+": load subject", err))
		}
		votes, err := uc.Votes.ListVotes(ctx, subjectID)
		if err != nil {
			return backoff.Permanent(domainerrors.Infrastructure(op+": load votes", err))
		}

		now := uc.now()
		working := subject.Clone()
		expiredNow := working.ExpiryDue(now)
		if expiredNow {
			working.Transition(entities.StatusExpired, now)
		}
		taken, fnErr := fn(ctx, &working, votes, now)
		action := taken.Action
		if fnErr != nil {
			if !expiredNow {
				return backoff.Permanent(fnErr)
			}
			// The requested action fails, but the lazy expiry still commits.
			working = subject.Clone()
			working.Transition(entities.StatusExpired, now)
		}
		if expiredNow && (fnErr != nil || action == "") {
			action = "expire"
		}

		statusChanged := working.Status != subject.Status
		if !statusChanged && (!taken.Persist || fnErr != nil) {
			result = transition{Subject: working, From: subject.Status}
			if fnErr != nil {
				return backoff.Permanent(fnErr)
			}
			return nil
		}

		working.Version = subject.Version + 1
		working.UpdatedAt = now
		if err := uc.Subjects.SaveSubjectIfVersion(ctx, working, subject.Version); err != nil {
			if errors.Is(err, domainerrors.ErrVersionConflict) {
				uc.recordConflict(op)
				logger.Warn("subject version conflict; retrying",
					"event", "consensus_subject_version_conflict",
					"module", moduleName,
					"layer", "application",
					"op", op,
					"subject_id", subjectID,
					"expected_version", subject.Version,
				)
				return err
			}
			return backoff.Permanent(domainerrors.Infrastructure(op+": save subject", err))
		}

		result = transition{
			Subject: working,
			From:    subject.Status,
			Changed: statusChanged,
			Action:  action,
			ActorID: strings.TrimSpace(actorID),
			Note:    working.ResolutionNote,
		}
		if action == "expire" {
			result.ActorID = "system"
			result.Note = ""
		}
		if fnErr != nil {
			return backoff.Permanent(fnErr)
		}
		return nil
	}

	err = backoff.Retry(attempt, uc.retryPolicy(ctx))
	if result.Changed {
		uc.afterCommit(ctx, result)
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// afterCommit runs the best-effort follow-ups of a committed transition.
// Failures are logged and never surfaced to the caller.
func (uc ConsensusUseCase) afterCommit(ctx context.Context, t transition) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	logger.Info("subject status changed",
		"event", "consensus_subject_status_changed",
		"module", moduleName,
		"layer", "application",
		"subject_id", t.Subject.SubjectID,
		"kind", string(t.Subject.Kind),
		"action", t.Action,
		"actor_id", t.ActorID,
		"from_status", string(t.From),
		"to_status", string(t.Subject.Status),
		"version", t.Subject.Version,
	)
	if uc.Metrics != nil {
		uc.Metrics.RecordTransition(t.Subject.Kind, t.From, t.Subject.Status)
		if t.Subject.Status == entities.StatusExpired {
			uc.Metrics.RecordExpired(t.Subject.Kind)
		}
	}
	if uc.Notifier != nil {
		if err := uc.Notifier.OnStatusChanged(ctx, ports.StatusChange{
			SubjectID:  t.Subject.SubjectID,
			Kind:       t.Subject.Kind,
			ActorID:    t.ActorID,
			FromStatus: t.From,
			ToStatus:   t.Subject.Status,
			OccurredAt: now,
		}); err != nil {
			logger.Warn("status notification failed",
				"event", "consensus_status_notification_failed",
				"module", moduleName,
				"layer", "application",
				"subject_id", t.Subject.SubjectID,
				"error", err.Error(),
			)
		}
	}
	if uc.Activity != nil {
		activityID := ""
		if uc.IDGen != nil {
			if id, err := uc.IDGen.NewID(ctx); err == nil {
				activityID = id
			}
		}
		if err := uc.Activity.AppendActivity(ctx, entities.ActivityRecord{
			ActivityID: activityID,
			SubjectID:  t.Subject.SubjectID,
			ActorID:    t.ActorID,
			Action:     t.Action,
			FromStatus: t.From,
			ToStatus:   t.Subject.Status,
			Note:       t.Note,
			OccurredAt: now,
		}); err != nil {
			logger.Warn("activity log append failed",
				"event", "consensus_activity_append_failed",
				"module", moduleName,
				"layer", "application",
				"subject_id", t.Subject.SubjectID,
				"error", err.Error(),
			)
		}
	}
}

func (uc ConsensusUseCase) retryPolicy(ctx context.Context) backoff.BackOff {
	attempts := uc.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

func (uc ConsensusUseCase) lock(ctx context.Context, key string) (func(), error) {
	if uc.Locker == nil {
		return func() {}, nil
	}
	return uc.Locker.Lock(ctx, key)
}

func (uc ConsensusUseCase) recordConflict(op string) {
	if uc.Metrics != nil {
		uc.Metrics.RecordVersionConflict(op)
	}
}

func (uc ConsensusUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc ConsensusUseCase) newID(ctx context.Context) (string, error) {
	if uc.IDGen == nil {
		return "", domainerrors.Infrastructure("generate id", errors.New("id generator is not configured"))
	}
	id, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return "", domainerrors.Infrastructure("generate id", err)
	}
	return id, nil
}

func subjectLockKey(subjectID string) string {
	return "subject:" + subjectID
}

func sessionLockKey(sessionID string) string {
	return "session:" + sessionID
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consensus."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateCommand(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return errors.Join(domainerrors.ErrInvalidInput, err)
	}
	return nil
}
