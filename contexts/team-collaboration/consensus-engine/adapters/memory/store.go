package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/ports"

	"github.com/google/uuid"
)

var errOutboxConflict = errors.New("outbox row conflict")

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

// Store is the in-process implementation of every consensus port. Subjects
// and sessions are copied on the way in and out so callers never share
// memory with the store.
type Store struct {
	mu sync.RWMutex

	subjects map[string]entities.Subject
	votes    map[string]map[string]entities.Vote
	sessions map[string]entities.PlanningSession
	activity []entities.ActivityRecord
	outbox   map[string]outboxRecord

	now *time.Time
}

func NewStore(seed []entities.Subject) *Store {
	subjects := make(map[string]entities.Subject, len(seed))
	for _, subject := range seed {
		subjects[strings.TrimSpace(subject.SubjectID)] = subject.Clone()
	}
	return &Store{
		subjects: subjects,
		votes:    make(map[string]map[string]entities.Vote),
		sessions: make(map[string]entities.PlanningSession),
		outbox:   make(map[string]outboxRecord),
	}
}

func (s *Store) CreateSubject(_ context.Context, subject entities.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjectID := strings.TrimSpace(subject.SubjectID)
	if _, ok := s.subjects[subjectID]; ok {
		return domainerrors.ErrDuplicateSubject
	}
	s.subjects[subjectID] = subject.Clone()
	return nil
}

func (s *Store) GetSubject(_ context.Context, subjectID string) (entities.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[strings.TrimSpace(subjectID)]
	if !ok {
		return entities.Subject{}, domainerrors.ErrSubjectNotFound
	}
	return subject.Clone(), nil
}

func (s *Store) SaveSubjectIfVersion(_ context.Context, subject entities.Subject, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjectID := strings.TrimSpace(subject.SubjectID)
	current, ok := s.subjects[subjectID]
	if !ok {
		return domainerrors.ErrSubjectNotFound
	}
	if current.Version != expectedVersion {
		return domainerrors.ErrVersionConflict
	}
	s.subjects[subjectID] = subject.Clone()
	return nil
}

func (s *Store) DeleteSubject(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjectID = strings.TrimSpace(subjectID)
	if _, ok := s.subjects[subjectID]; !ok {
		return domainerrors.ErrSubjectNotFound
	}
	delete(s.subjects, subjectID)
	delete(s.votes, subjectID)
	return nil
}

func (s *Store) ListSubjectsBySession(_ context.Context, sessionID string) ([]entities.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID = strings.TrimSpace(sessionID)
	items := make([]entities.Subject, 0)
	for _, subject := range s.subjects {
		if subject.Suggestion == nil || subject.Suggestion.SessionID != sessionID {
			continue
		}
		items = append(items, subject.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].SubjectID < items[j].SubjectID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) ListExpiryCandidates(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	due := make([]entities.Subject, 0)
	for _, subject := range s.subjects {
		if subject.ExpiryDue(now) {
			due = append(due, subject)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Deadline.Before(*due[j].Deadline)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, subject := range due {
		ids = append(ids, subject.SubjectID)
	}
	return ids, nil
}

func (s *Store) ListVotes(_ context.Context, subjectID string) ([]entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byVoter := s.votes[strings.TrimSpace(subjectID)]
	items := make([]entities.Vote, 0, len(byVoter))
	for _, vote := range byVoter {
		items = append(items, vote)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CastAt.Equal(items[j].CastAt) {
			return items[i].VoterID < items[j].VoterID
		}
		return items[i].CastAt.Before(items[j].CastAt)
	})
	return items, nil
}

func (s *Store) UpsertVote(_ context.Context, vote entities.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjectID := strings.TrimSpace(vote.SubjectID)
	if _, ok := s.subjects[subjectID]; !ok {
		return domainerrors.ErrSubjectNotFound
	}
	byVoter, ok := s.votes[subjectID]
	if !ok {
		byVoter = make(map[string]entities.Vote)
		s.votes[subjectID] = byVoter
	}
	byVoter[strings.TrimSpace(vote.VoterID)] = vote
	return nil
}

func (s *Store) CreateSession(_ context.Context, session entities.PlanningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := strings.TrimSpace(session.SessionID)
	if _, ok := s.sessions[sessionID]; ok {
		return domainerrors.ErrDuplicateSubject
	}
	s.sessions[sessionID] = cloneSession(session)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (entities.PlanningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return entities.PlanningSession{}, domainerrors.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) SaveSessionIfVersion(_ context.Context, session entities.PlanningSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := strings.TrimSpace(session.SessionID)
	current, ok := s.sessions[sessionID]
	if !ok {
		return domainerrors.ErrSessionNotFound
	}
	if current.Version != expectedVersion {
		return domainerrors.ErrVersionConflict
	}
	s.sessions[sessionID] = cloneSession(session)
	return nil
}

func (s *Store) AppendActivity(_ context.Context, record entities.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(record.ActivityID) == "" {
		record.ActivityID = uuid.NewString()
	}
	s.activity = append(s.activity, record)
	return nil
}

// Activity returns the recorded activity of one subject in append order.
func (s *Store) Activity(subjectID string) []entities.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.ActivityRecord, 0)
	for _, record := range s.activity {
		if record.SubjectID == strings.TrimSpace(subjectID) {
			items = append(items, record)
		}
	}
	return items
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return errOutboxConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return errOutboxConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

// SetNow pins the store clock. Tests use it to cross deadlines.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := now.UTC()
	s.now = &pinned
}

func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := time.Now().UTC()
	if s.now != nil {
		base = *s.now
	}
	advanced := base.Add(d)
	s.now = &advanced
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.now != nil {
		return *s.now
	}
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func cloneSession(session entities.PlanningSession) entities.PlanningSession {
	out := session
	out.AdoptedPlan = append([]string(nil), session.AdoptedPlan...)
	if session.FinalizedAt != nil {
		finalizedAt := *session.FinalizedAt
		out.FinalizedAt = &finalizedAt
	}
	return out
}

var (
	_ ports.SubjectRepository = (*Store)(nil)
	_ ports.VoteRepository    = (*Store)(nil)
	_ ports.SessionRepository = (*Store)(nil)
	_ ports.ActivityLog       = (*Store)(nil)
	_ ports.OutboxWriter      = (*Store)(nil)
	_ ports.OutboxRepository  = (*Store)(nil)
	_ ports.Clock             = (*Store)(nil)
	_ ports.IDGenerator       = (*Store)(nil)
)
