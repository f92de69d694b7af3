package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

func votes(choices ...string) []entities.Vote {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	items := make([]entities.Vote, 0, len(choices)/2)
	for i := 0; i+1 < len(choices); i += 2 {
		items = append(items, entities.Vote{
			SubjectID: "subj-1",
			VoterID:   choices[i],
			Choice:    entities.VoteChoice(choices[i+1]),
			CastAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	return items
}

func TestEvaluateDecisionPolicies(t *testing.T) {
	cases := []struct {
		name     string
		policy   entities.VotingPolicy
		roster   entities.Roster
		votes    []entities.Vote
		status   entities.Status
		resolved bool
	}{
		{
			name:   "no votes stays pending",
			policy: entities.MajorityPolicy(),
			roster: entities.OpenRoster(),
			status: entities.StatusPending,
		},
		{
			name:     "majority approves with strict majority of cast",
			policy:   entities.MajorityPolicy(),
			roster:   entities.OpenRoster(),
			votes:    votes("u1", "approve", "u2", "approve", "u3", "reject"),
			status:   entities.StatusApproved,
			resolved: true,
		},
		{
			name:   "majority tie stays open",
			policy: entities.MajorityPolicy(),
			roster: entities.OpenRoster(),
			votes:  votes("u1", "approve", "u2", "reject"),
			status: entities.StatusInReview,
		},
		{
			name:   "abstain counts toward cast",
			policy: entities.MajorityPolicy(),
			roster: entities.OpenRoster(),
			votes:  votes("u1", "approve", "u2", "abstain"),
			status: entities.StatusInReview,
		},
		{
			name:     "majority rejects",
			policy:   entities.MajorityPolicy(),
			roster:   entities.OpenRoster(),
			votes:    votes("u1", "reject", "u2", "reject", "u3", "approve"),
			status:   entities.StatusRejected,
			resolved: true,
		},
		{
			name:     "unanimous single reject short circuits",
			policy:   entities.UnanimousPolicy(),
			roster:   entities.ClosedRoster("u1", "u2", "u3"),
			votes:    votes("u1", "approve", "u2", "reject"),
			status:   entities.StatusRejected,
			resolved: true,
		},
		{
			name:   "unanimous waits for every member",
			policy: entities.UnanimousPolicy(),
			roster: entities.ClosedRoster("u1", "u2", "u3"),
			votes:  votes("u1", "approve", "u2", "approve"),
			status: entities.StatusInReview,
		},
		{
			name:     "unanimous approves once every member approved",
			policy:   entities.UnanimousPolicy(),
			roster:   entities.ClosedRoster("u1", "u2"),
			votes:    votes("u1", "approve", "u2", "approve"),
			status:   entities.StatusApproved,
			resolved: true,
		},
		{
			name:     "unanimous open roster approves when all cast votes approve",
			policy:   entities.UnanimousPolicy(),
			roster:   entities.OpenRoster(),
			votes:    votes("u1", "approve"),
			status:   entities.StatusApproved,
			resolved: true,
		},
		{
			name:   "threshold below requirement stays open",
			policy: entities.ThresholdPolicy(3),
			roster: entities.OpenRoster(),
			votes:  votes("u1", "approve", "u2", "approve", "u3", "reject"),
			status: entities.StatusInReview,
		},
		{
			name:     "threshold reached approves",
			policy:   entities.ThresholdPolicy(2),
			roster:   entities.OpenRoster(),
			votes:    votes("u1", "approve", "u2", "reject", "u3", "approve"),
			status:   entities.StatusApproved,
			resolved: true,
		},
		{
			name:   "owner approval ignores other voters",
			policy: entities.OwnerApprovalPolicy(),
			roster: entities.OpenRoster(),
			votes:  votes("u1", "approve", "u2", "approve"),
			status: entities.StatusInReview,
		},
		{
			name:     "owner approval follows the owner",
			policy:   entities.OwnerApprovalPolicy(),
			roster:   entities.OpenRoster(),
			votes:    votes("u1", "approve", "owner", "reject"),
			status:   entities.StatusRejected,
			resolved: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Evaluate(Input{
				Kind:    entities.SubjectKindDecision,
				Policy:  tc.policy,
				Roster:  tc.roster,
				OwnerID: "owner",
				Votes:   tc.votes,
			})
			assert.Equal(t, tc.status, outcome.Status)
			assert.Equal(t, tc.resolved, outcome.Resolved)
			assert.Equal(t, len(tc.votes), outcome.Tally.Cast)
		})
	}
}

func TestEvaluateReviewLadder(t *testing.T) {
	cases := []struct {
		name   string
		votes  []entities.Vote
		status entities.Status
	}{
		{
			name:   "any reject wins over approvals",
			votes:  votes("u1", "approve", "u2", "approve", "u3", "reject"),
			status: entities.StatusRejected,
		},
		{
			name:   "change request blocks approval",
			votes:  votes("u1", "approve", "u2", "approve", "u3", "request_changes"),
			status: entities.StatusChangesRequested,
		},
		{
			name:   "threshold approves clean review",
			votes:  votes("u1", "approve", "u2", "approve"),
			status: entities.StatusApproved,
		},
		{
			name:   "single approval is not enough",
			votes:  votes("u1", "approve", "u2", "abstain"),
			status: entities.StatusInReview,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Evaluate(Input{
				Kind:   entities.SubjectKindReview,
				Policy: entities.ThresholdPolicy(2),
				Roster: entities.OpenRoster(),
				Votes:  tc.votes,
			})
			assert.Equal(t, tc.status, outcome.Status)
		})
	}
}

func TestEvaluateOwnerApprovedReview(t *testing.T) {
	cases := []struct {
		name   string
		votes  []entities.Vote
		status entities.Status
	}{
		{name: "no votes keeps the override", votes: nil, status: entities.StatusApproved},
		{name: "abstain keeps the override", votes: votes("u1", "abstain"), status: entities.StatusApproved},
		{name: "approval below threshold keeps the override", votes: votes("u1", "approve"), status: entities.StatusApproved},
		{name: "change request overrules", votes: votes("u1", "approve", "u2", "request_changes"), status: entities.StatusChangesRequested},
		{name: "reject overrules", votes: votes("u1", "request_changes", "u2", "reject"), status: entities.StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Evaluate(Input{
				Kind:          entities.SubjectKindReview,
				Policy:        entities.ThresholdPolicy(2),
				Roster:        entities.OpenRoster(),
				OwnerID:       "lead",
				OwnerApproved: true,
				Votes:         tc.votes,
			})
			assert.Equal(t, tc.status, outcome.Status)
			assert.True(t, outcome.Resolved)
		})
	}
}

func TestEvaluateNeverResolvesSuggestionsOrHandoffs(t *testing.T) {
	for _, kind := range []entities.SubjectKind{entities.SubjectKindPhaseSuggestion, entities.SubjectKindHandoff} {
		outcome := Evaluate(Input{
			Kind:    kind,
			Policy:  entities.OwnerApprovalPolicy(),
			Roster:  entities.OpenRoster(),
			OwnerID: "owner",
			Votes:   votes("owner", "up", "u2", "down"),
		})
		assert.False(t, outcome.Resolved, string(kind))
		assert.Equal(t, entities.StatusInReview, outcome.Status, string(kind))
		assert.Equal(t, 0, outcome.Tally.NetScore(), string(kind))
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	in := Input{
		Kind:   entities.SubjectKindDecision,
		Policy: entities.MajorityPolicy(),
		Roster: entities.OpenRoster(),
		Votes:  votes("u1", "approve", "u2", "reject", "u3", "approve"),
	}
	first := Evaluate(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Evaluate(in))
	}
}
