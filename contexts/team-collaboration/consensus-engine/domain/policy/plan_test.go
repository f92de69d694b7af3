package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

var planBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func suggestion(id string, status entities.Status, approvedOffset int, position *int, deps ...string) entities.Subject {
	item := entities.Subject{
		SubjectID: id,
		Kind:      entities.SubjectKindPhaseSuggestion,
		Status:    status,
		CreatedAt: planBase,
		Suggestion: &entities.SuggestionDetails{
			SessionID:        "sess-1",
			Dependencies:     deps,
			InsertAtPosition: position,
		},
	}
	if status == entities.StatusApproved || status == entities.StatusApplied {
		approvedAt := planBase.Add(time.Duration(approvedOffset) * time.Minute)
		item.Suggestion.ApprovedAt = &approvedAt
	}
	return item
}

func at(position int) *int {
	return &position
}

func planIDs(plan []entities.Subject) []string {
	ids := make([]string, 0, len(plan))
	for _, item := range plan {
		ids = append(ids, item.SubjectID)
	}
	return ids
}

func TestProjectPlanAppendsInApprovalOrder(t *testing.T) {
	plan := ProjectPlan("sess-1", []entities.Subject{
		suggestion("c", entities.StatusApproved, 3, nil),
		suggestion("a", entities.StatusApproved, 1, nil),
		suggestion("b", entities.StatusApproved, 2, nil),
		suggestion("pending", entities.StatusPending, 0, nil),
	})
	assert.Equal(t, []string{"a", "b", "c"}, planIDs(plan))
}

func TestProjectPlanInsertsAtRequestedPosition(t *testing.T) {
	plan := ProjectPlan("sess-1", []entities.Subject{
		suggestion("a", entities.StatusApproved, 1, nil),
		suggestion("b", entities.StatusApproved, 2, nil),
		suggestion("front", entities.StatusApproved, 3, at(0)),
		suggestion("middle", entities.StatusApplied, 4, at(2)),
	})
	assert.Equal(t, []string{"front", "a", "middle", "b"}, planIDs(plan))
}

func TestProjectPlanClampsStalePositions(t *testing.T) {
	foreign := suggestion("foreign", entities.StatusApproved, 0, nil)
	foreign.Suggestion.SessionID = "sess-2"
	plan := ProjectPlan("sess-1", []entities.Subject{
		suggestion("a", entities.StatusApproved, 1, nil),
		suggestion("b", entities.StatusApproved, 2, at(7)),
		foreign,
	})
	assert.Equal(t, []string{"a", "b"}, planIDs(plan))
}

func TestValidateSuggestionApprovalRequiresApprovedDependencies(t *testing.T) {
	session := []entities.Subject{
		suggestion("base", entities.StatusPending, 0, nil),
		suggestion("next", entities.StatusPending, 0, nil, "base"),
	}
	err := ValidateSuggestionApproval(session[1], session)
	assert.ErrorIs(t, err, domainerrors.ErrDependencyNotMet)

	session[0] = suggestion("base", entities.StatusApproved, 1, nil)
	require.NoError(t, ValidateSuggestionApproval(session[1], session))

	missing := suggestion("orphan", entities.StatusPending, 0, nil, "ghost")
	assert.ErrorIs(t, ValidateSuggestionApproval(missing, session), domainerrors.ErrDependencyNotMet)
}

func TestValidateSuggestionApprovalBoundsPosition(t *testing.T) {
	session := []entities.Subject{
		suggestion("a", entities.StatusApproved, 1, nil),
		suggestion("b", entities.StatusApproved, 2, nil),
	}
	require.NoError(t, ValidateSuggestionApproval(suggestion("c", entities.StatusPending, 0, at(2)), session))
	assert.ErrorIs(t,
		ValidateSuggestionApproval(suggestion("d", entities.StatusPending, 0, at(3)), session),
		domainerrors.ErrInvalidInput,
	)
}

func TestRankSuggestionsByNetScore(t *testing.T) {
	first := suggestion("first", entities.StatusInReview, 0, nil)
	second := suggestion("second", entities.StatusInReview, 0, nil)
	second.CreatedAt = planBase.Add(time.Minute)
	third := suggestion("third", entities.StatusInReview, 0, nil)
	third.CreatedAt = planBase.Add(2 * time.Minute)

	ranked := RankSuggestions([]entities.Subject{first, second, third}, map[string]entities.Tally{
		"first":  {Up: 1, Down: 1},
		"second": {Up: 3},
		"third":  {Down: 1},
	})
	assert.Equal(t, []string{"second", "first", "third"}, planIDs(ranked))
}
