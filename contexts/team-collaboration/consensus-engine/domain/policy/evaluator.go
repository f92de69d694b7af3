// Package policy holds the pure rules that turn a vote snapshot into a
// subject status. Nothing here performs I/O; the same input always yields the
// same outcome.
package policy

import (
	"strings"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

type Input struct {
	Kind          entities.SubjectKind
	Policy        entities.VotingPolicy
	Roster        entities.Roster
	OwnerID       string
	OwnerApproved bool
	Votes         []entities.Vote
}

type Outcome struct {
	Status   entities.Status
	Resolved bool
	Tally    entities.Tally
}

// Evaluate aggregates the current (post-upsert) votes under the subject's
// policy. It never fails; an input it cannot resolve stays unresolved.
func Evaluate(in Input) Outcome {
	tally := entities.CountVotes(in.Votes)
	open := openStatus(tally)

	switch in.Kind {
	case entities.SubjectKindPhaseSuggestion, entities.SubjectKindHandoff:
		// Suggestions are approved by an explicit owner action and handoffs
		// by their recipient; votes never resolve them.
		return Outcome{Status: open, Tally: tally}
	}

	if in.Kind == entities.SubjectKindReview && in.OwnerApproved {
		// An owner override stands until the review ladder overrules it.
		switch {
		case tally.Reject > 0:
			return resolved(entities.StatusRejected, tally)
		case tally.RequestChanges > 0:
			return resolved(entities.StatusChangesRequested, tally)
		}
		return resolved(entities.StatusApproved, tally)
	}

	if in.Policy.Kind == entities.PolicyOwnerApproval {
		return evaluateOwnerApproval(in, tally, open)
	}

	if in.Kind == entities.SubjectKindReview {
		switch {
		case tally.Reject > 0:
			return resolved(entities.StatusRejected, tally)
		case tally.RequestChanges > 0:
			return resolved(entities.StatusChangesRequested, tally)
		}
	}

	switch in.Policy.Kind {
	case entities.PolicyMajority:
		return evaluateMajority(tally, open)
	case entities.PolicyUnanimous:
		return evaluateUnanimous(in, tally, open)
	case entities.PolicyThreshold:
		return evaluateThreshold(in.Policy, tally, open)
	default:
		return Outcome{Status: open, Tally: tally}
	}
}

func evaluateMajority(tally entities.Tally, open entities.Status) Outcome {
	if tally.Cast == 0 {
		return Outcome{Status: open, Tally: tally}
	}
	// Strictly more than half of the votes cast; an even split never resolves.
	if tally.Approve*2 > tally.Cast {
		return resolved(entities.StatusApproved, tally)
	}
	if tally.Reject*2 > tally.Cast {
		return resolved(entities.StatusRejected, tally)
	}
	return Outcome{Status: open, Tally: tally}
}

func evaluateUnanimous(in Input, tally entities.Tally, open entities.Status) Outcome {
	if tally.Reject > 0 {
		return resolved(entities.StatusRejected, tally)
	}
	if tally.Cast == 0 {
		return Outcome{Status: open, Tally: tally}
	}
	if in.Roster.Open {
		if tally.Approve == tally.Cast {
			return resolved(entities.StatusApproved, tally)
		}
		return Outcome{Status: open, Tally: tally}
	}
	if len(in.Roster.Members) == 0 {
		return Outcome{Status: open, Tally: tally}
	}
	approvedBy := make(map[string]struct{}, len(in.Votes))
	for _, vote := range in.Votes {
		if vote.Choice == entities.VoteChoiceApprove {
			approvedBy[strings.TrimSpace(vote.VoterID)] = struct{}{}
		}
	}
	for _, member := range in.Roster.Members {
		if _, ok := approvedBy[member]; !ok {
			return Outcome{Status: open, Tally: tally}
		}
	}
	return resolved(entities.StatusApproved, tally)
}

func evaluateThreshold(p entities.VotingPolicy, tally entities.Tally, open entities.Status) Outcome {
	required := p.RequiredApprovals
	if required < 1 {
		required = 1
	}
	if tally.Approve >= required {
		return resolved(entities.StatusApproved, tally)
	}
	return Outcome{Status: open, Tally: tally}
}

func evaluateOwnerApproval(in Input, tally entities.Tally, open entities.Status) Outcome {
	owner := strings.TrimSpace(in.OwnerID)
	for _, vote := range in.Votes {
		if owner == "" || strings.TrimSpace(vote.VoterID) != owner {
			continue
		}
		switch vote.Choice {
		case entities.VoteChoiceApprove:
			return resolved(entities.StatusApproved, tally)
		case entities.VoteChoiceReject:
			return resolved(entities.StatusRejected, tally)
		}
	}
	return Outcome{Status: open, Tally: tally}
}

func resolved(status entities.Status, tally entities.Tally) Outcome {
	return Outcome{Status: status, Resolved: true, Tally: tally}
}

func openStatus(tally entities.Tally) entities.Status {
	if tally.Cast == 0 {
		return entities.StatusPending
	}
	return entities.StatusInReview
}
