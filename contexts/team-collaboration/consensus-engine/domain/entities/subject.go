package entities

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

type SubjectKind string

const (
	SubjectKindDecision        SubjectKind = "decision"
	SubjectKindReview          SubjectKind = "review"
	SubjectKindPhaseSuggestion SubjectKind = "phase_suggestion"
	SubjectKindHandoff         SubjectKind = "handoff"
)

func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectKindDecision, SubjectKindReview, SubjectKindPhaseSuggestion, SubjectKindHandoff:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending          Status = "pending"
	StatusInReview         Status = "in_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusChangesRequested Status = "changes_requested"
	StatusExpired          Status = "expired"
	StatusWithdrawn        Status = "withdrawn"
	StatusApplied          Status = "applied"

	// Handoff-only statuses.
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCompleted Status = "completed"
)

// Roster is the set of participants allowed to vote. An open roster admits
// anyone the caller already authorized to see the subject.
type Roster struct {
	Open    bool
	Members []string
}

func OpenRoster() Roster {
	return Roster{Open: true}
}

func ClosedRoster(members ...string) Roster {
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" || slices.Contains(normalized, member) {
			continue
		}
		normalized = append(normalized, member)
	}
	return Roster{Members: normalized}
}

func (r Roster) Allows(userID string) bool {
	if r.Open {
		return true
	}
	return slices.Contains(r.Members, strings.TrimSpace(userID))
}

// SuggestionDetails carries the phase-planning specialization of a subject.
// ApprovedAt fixes the suggestion's place in the projected plan.
type SuggestionDetails struct {
	SessionID        string
	Dependencies     []string
	InsertAtPosition *int
	ApprovedAt       *time.Time
}

// HandoffDetails carries the two-party specialization of a subject. HolderID
// tracks who currently owns the conversation.
type HandoffDetails struct {
	ConversationID string
	FromUserID     string
	ToUserID       string
	HolderID       string
}

// Subject is the item a group decides on. Version is the optimistic
// concurrency token checked by SaveSubjectIfVersion. OwnerApproved records an
// owner override on a review; it holds the approval until a reject or change
// request overrules it.
type Subject struct {
	SubjectID      string
	Kind           SubjectKind
	Status         Status
	Title          string
	CreatedBy      string
	OwnerID        string
	Policy         VotingPolicy
	Roster         Roster
	Deadline       *time.Time
	Payload        json.RawMessage
	ResolutionNote string
	OwnerApproved  bool
	Suggestion     *SuggestionDetails
	Handoff        *HandoffDetails
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

// IsTerminal reports whether the subject accepts no further votes. Decisions
// lock once approved (only apply remains) while reviews stay open so later
// votes can flip an approval or a change request.
func (s Subject) IsTerminal() bool {
	switch s.Status {
	case StatusRejected, StatusExpired, StatusWithdrawn, StatusApplied, StatusDeclined, StatusCompleted:
		return true
	case StatusApproved:
		return s.Kind != SubjectKindReview
	case StatusChangesRequested:
		return s.Kind == SubjectKindDecision
	default:
		return false
	}
}

// IsExpirable reports whether a passed deadline should force the subject into
// expired. Resolved outcomes awaiting apply are never expired.
func (s Subject) IsExpirable() bool {
	switch s.Status {
	case StatusPending, StatusInReview:
		return true
	case StatusChangesRequested:
		return s.Kind == SubjectKindReview
	default:
		return false
	}
}

func (s Subject) DeadlinePassed(now time.Time) bool {
	return s.Deadline != nil && !now.Before(s.Deadline.UTC())
}

func (s Subject) ExpiryDue(now time.Time) bool {
	return s.DeadlinePassed(now) && s.IsExpirable()
}

func (s Subject) Clone() Subject {
	out := s
	if s.Deadline != nil {
		deadline := *s.Deadline
		out.Deadline = &deadline
	}
	if s.ResolvedAt != nil {
		resolvedAt := *s.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}
	out.Payload = append(json.RawMessage(nil), s.Payload...)
	out.Roster.Members = append([]string(nil), s.Roster.Members...)
	if s.Suggestion != nil {
		suggestion := *s.Suggestion
		suggestion.Dependencies = append([]string(nil), s.Suggestion.Dependencies...)
		if s.Suggestion.InsertAtPosition != nil {
			position := *s.Suggestion.InsertAtPosition
			suggestion.InsertAtPosition = &position
		}
		if s.Suggestion.ApprovedAt != nil {
			approvedAt := *s.Suggestion.ApprovedAt
			suggestion.ApprovedAt = &approvedAt
		}
		out.Suggestion = &suggestion
	}
	if s.Handoff != nil {
		handoff := *s.Handoff
		out.Handoff = &handoff
	}
	return out
}

// Transition moves the subject to next and stamps resolution time for
// outcomes that end the voting window.
func (s *Subject) Transition(next Status, now time.Time) {
	s.Status = next
	s.UpdatedAt = now
	switch next {
	case StatusPending, StatusInReview, StatusAccepted:
		s.ResolvedAt = nil
	default:
		resolvedAt := now
		s.ResolvedAt = &resolvedAt
	}
}
