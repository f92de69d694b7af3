package queries

import (
	"context"
	"strings"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/domain/policy"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

// Expirer commits a lazy expiry through the write path so reads never report
// an open status past the deadline.
type Expirer interface {
	Expire(ctx context.Context, subjectID string) (entities.Subject, bool, error)
}

type SubjectView struct {
	Subject entities.Subject
	Tally   entities.Tally
}

type SuggestionView struct {
	Subject  entities.Subject
	Tally    entities.Tally
	NetScore int
}

type SessionView struct {
	Session     entities.PlanningSession
	Plan        []entities.Subject
	Suggestions []SuggestionView
}

type QueryUseCase struct {
	Subjects ports.SubjectRepository
	Votes    ports.VoteRepository
	Sessions ports.SessionRepository
	Expirer  Expirer
	Clock    ports.Clock
}

func (uc QueryUseCase) GetSubject(ctx context.Context, subjectID string) (entities.Subject, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	subject, err := uc.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("get_subject", err)
	}
	if uc.Expirer != nil && subject.ExpiryDue(uc.now()) {
		expired, _, err := uc.Expirer.Expire(ctx, subjectID)
		if err != nil {
			return entities.Subject{}, err
		}
		return expired, nil
	}
	return subject, nil
}

func (uc QueryUseCase) ListVotes(ctx context.Context, subjectID string) ([]entities.Vote, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	if _, err := uc.Subjects.GetSubject(ctx, subjectID); err != nil {
		return nil, domainerrors.Infrastructure("list_votes: load subject", err)
	}
	votes, err := uc.Votes.ListVotes(ctx, subjectID)
	if err != nil {
		return nil, domainerrors.Infrastructure("list_votes", err)
	}
	return votes, nil
}

// Tally returns the subject with its vote counts for display.
func (uc QueryUseCase) Tally(ctx context.Context, subjectID string) (SubjectView, error) {
	subject, err := uc.GetSubject(ctx, subjectID)
	if err != nil {
		return SubjectView{}, err
	}
	votes, err := uc.Votes.ListVotes(ctx, subject.SubjectID)
	if err != nil {
		return SubjectView{}, domainerrors.Infrastructure("tally", err)
	}
	return SubjectView{Subject: subject, Tally: entities.CountVotes(votes)}, nil
}

func (uc QueryUseCase) GetSession(ctx context.Context, sessionID string) (entities.PlanningSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return entities.PlanningSession{}, domainerrors.ErrInvalidInput
	}
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return entities.PlanningSession{}, domainerrors.Infrastructure("get_session", err)
	}
	return session, nil
}

// ProjectPlan returns the effective order of the session's approved
// suggestions. Once a session is finalized the adopted plan is authoritative.
func (uc QueryUseCase) ProjectPlan(ctx context.Context, sessionID string) ([]entities.Subject, error) {
	session, suggestions, err := uc.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == entities.SessionStatusFinalized {
		return adoptedOrder(session.AdoptedPlan, suggestions), nil
	}
	return policy.ProjectPlan(session.SessionID, suggestions), nil
}

// SessionOverview bundles the projected plan with the open suggestions ranked
// by advisory net score.
func (uc QueryUseCase) SessionOverview(ctx context.Context, sessionID string) (SessionView, error) {
	session, suggestions, err := uc.loadSession(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{Session: session}
	if session.Status == entities.SessionStatusFinalized {
		view.Plan = adoptedOrder(session.AdoptedPlan, suggestions)
	} else {
		view.Plan = policy.ProjectPlan(session.SessionID, suggestions)
	}

	open := make([]entities.Subject, 0, len(suggestions))
	tallies := make(map[string]entities.Tally, len(suggestions))
	for _, item := range suggestions {
		if item.IsTerminal() {
			continue
		}
		votes, err := uc.Votes.ListVotes(ctx, item.SubjectID)
		if err != nil {
			return SessionView{}, domainerrors.Infrastructure("session_overview: list votes", err)
		}
		tallies[item.SubjectID] = entities.CountVotes(votes)
		open = append(open, item)
	}
	for _, item := range policy.RankSuggestions(open, tallies) {
		tally := tallies[item.SubjectID]
		view.Suggestions = append(view.Suggestions, SuggestionView{
			Subject:  item,
			Tally:    tally,
			NetScore: tally.NetScore(),
		})
	}
	return view, nil
}

func (uc QueryUseCase) loadSession(ctx context.Context, sessionID string) (entities.PlanningSession, []entities.Subject, error) {
	session, err := uc.GetSession(ctx, sessionID)
	if err != nil {
		return entities.PlanningSession{}, nil, err
	}
	suggestions, err := uc.Subjects.ListSubjectsBySession(ctx, session.SessionID)
	if err != nil {
		return entities.PlanningSession{}, nil, domainerrors.Infrastructure("list_session_subjects", err)
	}
	return session, suggestions, nil
}

func (uc QueryUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func adoptedOrder(plan []string, suggestions []entities.Subject) []entities.Subject {
	byID := make(map[string]entities.Subject, len(suggestions))
	for _, item := range suggestions {
		byID[item.SubjectID] = item
	}
	ordered := make([]entities.Subject, 0, len(plan))
	for _, subjectID := range plan {
		if item, ok := byID[subjectID]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered
}
