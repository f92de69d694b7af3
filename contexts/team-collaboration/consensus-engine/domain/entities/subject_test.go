package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalByKind(t *testing.T) {
	cases := []struct {
		kind     SubjectKind
		status   Status
		terminal bool
	}{
		{SubjectKindDecision, StatusPending, false},
		{SubjectKindDecision, StatusInReview, false},
		{SubjectKindDecision, StatusApproved, true},
		{SubjectKindDecision, StatusChangesRequested, true},
		{SubjectKindReview, StatusApproved, false},
		{SubjectKindReview, StatusChangesRequested, false},
		{SubjectKindReview, StatusRejected, true},
		{SubjectKindPhaseSuggestion, StatusApproved, true},
		{SubjectKindHandoff, StatusAccepted, false},
		{SubjectKindHandoff, StatusCompleted, true},
		{SubjectKindHandoff, StatusDeclined, true},
		{SubjectKindDecision, StatusApplied, true},
		{SubjectKindDecision, StatusExpired, true},
		{SubjectKindDecision, StatusWithdrawn, true},
	}
	for _, tc := range cases {
		subject := Subject{Kind: tc.kind, Status: tc.status}
		assert.Equal(t, tc.terminal, subject.IsTerminal(), "%s/%s", tc.kind, tc.status)
	}
}

func TestExpiryDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Subject{Kind: SubjectKindDecision, Status: StatusPending, Deadline: &past}.ExpiryDue(now))
	assert.True(t, Subject{Kind: SubjectKindDecision, Status: StatusInReview, Deadline: &now}.ExpiryDue(now))
	assert.False(t, Subject{Kind: SubjectKindDecision, Status: StatusPending, Deadline: &future}.ExpiryDue(now))
	assert.False(t, Subject{Kind: SubjectKindDecision, Status: StatusPending}.ExpiryDue(now))
	assert.False(t, Subject{Kind: SubjectKindDecision, Status: StatusApproved, Deadline: &past}.ExpiryDue(now))
	assert.True(t, Subject{Kind: SubjectKindReview, Status: StatusChangesRequested, Deadline: &past}.ExpiryDue(now))
	// An approved review stays open to votes but waits for apply, not a deadline.
	assert.False(t, Subject{Kind: SubjectKindReview, Status: StatusApproved, Deadline: &past}.ExpiryDue(now))
	assert.False(t, Subject{Kind: SubjectKindHandoff, Status: StatusAccepted, Deadline: &past}.ExpiryDue(now))
}

func TestTransitionStampsResolution(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subject := Subject{Kind: SubjectKindDecision, Status: StatusPending}

	subject.Transition(StatusInReview, now)
	assert.Nil(t, subject.ResolvedAt)

	subject.Transition(StatusApproved, now)
	if assert.NotNil(t, subject.ResolvedAt) {
		assert.Equal(t, now, *subject.ResolvedAt)
	}
	assert.Equal(t, now, subject.UpdatedAt)
}

func TestCloneDoesNotShareMemory(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := Subject{
		SubjectID: "s1",
		Roster:    ClosedRoster("a", "b"),
		Deadline:  &deadline,
		Payload:   []byte(`{"k":1}`),
		Suggestion: &SuggestionDetails{
			SessionID:    "sess",
			Dependencies: []string{"x"},
		},
	}
	clone := original.Clone()
	clone.Roster.Members[0] = "z"
	clone.Suggestion.Dependencies[0] = "y"
	*clone.Deadline = deadline.Add(time.Hour)
	clone.Payload[0] = '['

	assert.Equal(t, "a", original.Roster.Members[0])
	assert.Equal(t, "x", original.Suggestion.Dependencies[0])
	assert.Equal(t, deadline, *original.Deadline)
	assert.Equal(t, byte('{'), original.Payload[0])
}

func TestClosedRosterNormalizes(t *testing.T) {
	roster := ClosedRoster(" a ", "b", "a", "")
	assert.Equal(t, []string{"a", "b"}, roster.Members)
	assert.True(t, roster.Allows("a"))
	assert.False(t, roster.Allows("c"))
	assert.True(t, OpenRoster().Allows("anyone"))
}

func TestVoteChoiceAllowedFor(t *testing.T) {
	assert.True(t, VoteChoiceApprove.AllowedFor(SubjectKindReview))
	assert.True(t, VoteChoiceUp.AllowedFor(SubjectKindPhaseSuggestion))
	assert.False(t, VoteChoiceUp.AllowedFor(SubjectKindDecision))
	assert.False(t, VoteChoiceApprove.AllowedFor(SubjectKindPhaseSuggestion))
	assert.False(t, VoteChoiceApprove.AllowedFor(SubjectKindHandoff))
}
