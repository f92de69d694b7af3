package entities

import "time"

type VoteChoice string

const (
	VoteChoiceApprove        VoteChoice = "approve"
	VoteChoiceReject         VoteChoice = "reject"
	VoteChoiceAbstain        VoteChoice = "abstain"
	VoteChoiceRequestChanges VoteChoice = "request_changes"

	// Phase suggestions collect advisory up/down votes.
	VoteChoiceUp   VoteChoice = "up"
	VoteChoiceDown VoteChoice = "down"
)

// AllowedFor reports whether the choice can be cast on a subject of kind.
// Handoffs never aggregate votes.
func (c VoteChoice) AllowedFor(kind SubjectKind) bool {
	switch kind {
	case SubjectKindPhaseSuggestion:
		return c == VoteChoiceUp || c == VoteChoiceDown
	case SubjectKindDecision, SubjectKindReview:
		switch c {
		case VoteChoiceApprove, VoteChoiceReject, VoteChoiceAbstain, VoteChoiceRequestChanges:
			return true
		}
	}
	return false
}

// Vote is keyed by (SubjectID, VoterID); a second vote from the same voter
// replaces the first.
type Vote struct {
	SubjectID string
	VoterID   string
	Choice    VoteChoice
	Comment   string
	CastAt    time.Time
	UpdatedAt time.Time
}

// SameAs reports whether applying other over v would change nothing visible.
func (v Vote) SameAs(other Vote) bool {
	return v.SubjectID == other.SubjectID &&
		v.VoterID == other.VoterID &&
		v.Choice == other.Choice &&
		v.Comment == other.Comment
}

// Tally is the per-choice count over the current vote snapshot.
type Tally struct {
	Approve        int
	Reject         int
	Abstain        int
	RequestChanges int
	Up             int
	Down           int
	Cast           int
}

// NetScore is the advisory up-minus-down score used to order suggestions.
func (t Tally) NetScore() int {
	return t.Up - t.Down
}

func CountVotes(votes []Vote) Tally {
	var tally Tally
	for _, vote := range votes {
		switch vote.Choice {
		case VoteChoiceApprove:
			tally.Approve++
		case VoteChoiceReject:
			tally.Reject++
		case VoteChoiceAbstain:
			tally.Abstain++
		case VoteChoiceRequestChanges:
			tally.RequestChanges++
		case VoteChoiceUp:
			tally.Up++
		case VoteChoiceDown:
			tally.Down++
		default:
			continue
		}
		tally.Cast++
	}
	return tally
}
