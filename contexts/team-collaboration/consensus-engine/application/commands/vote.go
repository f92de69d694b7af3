package commands

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/domain/policy"
)

// CastVoteCommand is the write-model input for casting or replacing a vote.
type CastVoteCommand struct {
	SubjectID string              `validate:"required"`
	VoterID   string              `validate:"required"`
	Choice    entities.VoteChoice `validate:"required"`
	Comment   string              `validate:"max=4000"`
}

// CastVoteResult carries the subject after evaluation and whether the stored
// vote changed.
type CastVoteResult struct {
	Subject   entities.Subject
	Vote      entities.Vote
	Tally     entities.Tally
	Recorded  bool
	Unchanged bool
}

// CastVote upserts the voter's vote and re-evaluates the subject under its
// policy. The vote is written before the vote snapshot is read and every
// recorded vote bumps the subject version, so whichever caller commits last
// has seen every earlier vote; a caller that evaluated a stale snapshot loses
// the version check and evaluates again.
func (uc ConsensusUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (result CastVoteResult, err error) {
	ctx, span := startSpan(ctx, "CastVote",
		attribute.String("subject_id", strings.TrimSpace(cmd.SubjectID)),
		attribute.String("choice", string(cmd.Choice)),
	)
	defer func() { endSpan(span, err) }()

	logger := application.ResolveLogger(uc.Logger)
	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.VoterID = strings.TrimSpace(cmd.VoterID)
	cmd.Comment = strings.TrimSpace(cmd.Comment)
	cmd.Choice = entities.VoteChoice(strings.ToLower(strings.TrimSpace(string(cmd.Choice))))
	if err := validateCommand(cmd); err != nil {
		logger.Warn("cast vote validation failed",
			"event", "consensus_vote_validation_failed",
			"module", moduleName,
			"layer", "application",
			"subject_id", cmd.SubjectID,
			"voter_id", cmd.VoterID,
		)
		return CastVoteResult{}, err
	}

	var (
		recorded  bool
		unchanged bool
		stored    entities.Vote
		tally     entities.Tally
	)
	outcome, err := uc.mutateSubject(ctx, "cast_vote", cmd.SubjectID, cmd.VoterID,
		func(ctx context.Context, subject *entities.Subject, votes []entities.Vote, now time.Time) (step, error) {
			if !cmd.Choice.AllowedFor(subject.Kind) {
				return step{}, domainerrors.ErrInvalidInput
			}
			if subject.IsTerminal() {
				if recorded {
					// An earlier attempt stored the vote before a concurrent
					// caller resolved the subject with it.
					tally = entities.CountVotes(votes)
					return step{}, nil
				}
				return step{}, domainerrors.ErrSubjectResolved
			}
			if !subject.Roster.Allows(cmd.VoterID) {
				return step{}, domainerrors.ErrNotEligible
			}

			vote := entities.Vote{
				SubjectID: subject.SubjectID,
				VoterID:   cmd.VoterID,
				Choice:    cmd.Choice,
				Comment:   cmd.Comment,
				CastAt:    now,
				UpdatedAt: now,
			}
			existing, found := findVote(votes, cmd.VoterID)
			if found && existing.SameAs(vote) {
				unchanged = true
				stored = existing
			} else {
				if found {
					vote.CastAt = existing.CastAt
				}
				if err := uc.Votes.UpsertVote(ctx, vote); err != nil {
					return step{}, domainerrors.Infrastructure("cast_vote: upsert vote", err)
				}
				recorded = true
				stored = vote
				var err error
				if votes, err = uc.Votes.ListVotes(ctx, subject.SubjectID); err != nil {
					return step{}, domainerrors.Infrastructure("cast_vote: reload votes", err)
				}
			}

			evaluated := policy.Evaluate(policy.Input{
				Kind:          subject.Kind,
				Policy:        subject.Policy,
				Roster:        subject.Roster,
				OwnerID:       subject.OwnerID,
				OwnerApproved: subject.OwnerApproved,
				Votes:         votes,
			})
			tally = evaluated.Tally
			if evaluated.Status != subject.Status {
				subject.Transition(evaluated.Status, now)
			}
			if evaluated.Status != entities.StatusApproved {
				subject.OwnerApproved = false
			}
			// A recorded vote bumps the version even when the status holds, so
			// a writer that evaluated an older snapshot conflicts.
			return step{Action: "vote", Persist: recorded}, nil
		},
	)
	if err != nil {
		logger.Warn("cast vote rejected",
			"event", "consensus_vote_rejected",
			"module", moduleName,
			"layer", "application",
			"subject_id", cmd.SubjectID,
			"voter_id", cmd.VoterID,
			"choice", string(cmd.Choice),
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}
	if recorded && uc.Metrics != nil {
		uc.Metrics.RecordVote(outcome.Subject.Kind, cmd.Choice)
	}
	logger.Info("vote cast",
		"event", "consensus_vote_cast",
		"module", moduleName,
		"layer", "application",
		"subject_id", cmd.SubjectID,
		"voter_id", cmd.VoterID,
		"choice", string(cmd.Choice),
		"status", string(outcome.Subject.Status),
		"unchanged", unchanged,
	)
	return CastVoteResult{
		Subject:   outcome.Subject,
		Vote:      stored,
		Tally:     tally,
		Recorded:  recorded,
		Unchanged: unchanged && !recorded,
	}, nil
}

func findVote(votes []entities.Vote, voterID string) (entities.Vote, bool) {
	for _, vote := range votes {
		if vote.VoterID == voterID {
			return vote, true
		}
	}
	return entities.Vote{}, false
}
