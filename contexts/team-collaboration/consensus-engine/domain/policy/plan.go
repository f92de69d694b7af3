package policy

import (
	"sort"
	"strings"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

// ValidateSuggestionApproval checks that candidate may join the approved set of
// its session: every dependency must already be approved (or adopted) in the
// same session and any requested position must fall inside the live approved
// list.
func ValidateSuggestionApproval(candidate entities.Subject, session []entities.Subject) error {
	if candidate.Suggestion == nil {
		return domainerrors.ErrInvalidInput
	}
	byID := make(map[string]entities.Subject, len(session))
	for _, item := range session {
		if item.Suggestion == nil || item.Suggestion.SessionID != candidate.Suggestion.SessionID {
			continue
		}
		byID[item.SubjectID] = item
	}
	for _, dependencyID := range candidate.Suggestion.Dependencies {
		dependencyID = strings.TrimSpace(dependencyID)
		dependency, ok := byID[dependencyID]
		if !ok || dependencyID == candidate.SubjectID {
			return domainerrors.ErrDependencyNotMet
		}
		if !isAdopted(dependency.Status) {
			return domainerrors.ErrDependencyNotMet
		}
	}
	if position := candidate.Suggestion.InsertAtPosition; position != nil {
		approvedCount := len(approvedInOrder(session, candidate.Suggestion.SessionID))
		if *position < 0 || *position > approvedCount {
			return domainerrors.ErrInvalidInput
		}
	}
	return nil
}

// ProjectPlan returns the effective order of approved suggestions. Positions are
// applied against the live approved list at the time each suggestion joined,
// so stored suggestions are never renumbered.
func ProjectPlan(sessionID string, suggestions []entities.Subject) []entities.Subject {
	ordered := approvedInOrder(suggestions, sessionID)
	plan := make([]entities.Subject, 0, len(ordered))
	for _, item := range ordered {
		position := len(plan)
		if item.Suggestion.InsertAtPosition != nil {
			position = min(max(*item.Suggestion.InsertAtPosition, 0), len(plan))
		}
		plan = append(plan, entities.Subject{})
		copy(plan[position+1:], plan[position:])
		plan[position] = item
	}
	return plan
}

// RankSuggestions orders open suggestions for display by advisory net score.
func RankSuggestions(suggestions []entities.Subject, tallies map[string]entities.Tally) []entities.Subject {
	ranked := append([]entities.Subject(nil), suggestions...)
	sort.SliceStable(ranked, func(i, j int) bool {
		left := tallies[ranked[i].SubjectID].NetScore()
		right := tallies[ranked[j].SubjectID].NetScore()
		if left == right {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		return left > right
	})
	return ranked
}

func approvedInOrder(suggestions []entities.Subject, sessionID string) []entities.Subject {
	items := make([]entities.Subject, 0, len(suggestions))
	for _, item := range suggestions {
		if item.Suggestion == nil || item.Suggestion.SessionID != sessionID {
			continue
		}
		if !isAdopted(item.Status) {
			continue
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		left, right := approvedAt(items[i]), approvedAt(items[j])
		if left.Equal(right) {
			return items[i].SubjectID < items[j].SubjectID
		}
		return left.Before(right)
	})
	return items
}

func approvedAt(item entities.Subject) time.Time {
	switch {
	case item.Suggestion.ApprovedAt != nil:
		return item.Suggestion.ApprovedAt.UTC()
	case item.ResolvedAt != nil:
		return item.ResolvedAt.UTC()
	default:
		return item.UpdatedAt.UTC()
	}
}

func isAdopted(status entities.Status) bool {
	return status == entities.StatusApproved || status == entities.StatusApplied
}
