package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

type CreateSubjectCommand struct {
	SubjectID string
	Kind      entities.SubjectKind `validate:"required,oneof=decision review"`
	Title     string               `validate:"required,max=500"`
	CreatedBy string               `validate:"required"`
	OwnerID   string
	Policy    *entities.VotingPolicy
	Roster    entities.Roster
	Deadline  *time.Time
	Payload   json.RawMessage
}

type CreateSuggestionCommand struct {
	SubjectID        string
	SessionID        string `validate:"required"`
	Title            string `validate:"required,max=500"`
	CreatedBy        string `validate:"required"`
	Dependencies     []string
	InsertAtPosition *int `validate:"omitempty,min=0"`
	Deadline         *time.Time
	Payload          json.RawMessage
}

type CreateHandoffCommand struct {
	SubjectID      string
	ConversationID string `validate:"required"`
	FromUserID     string `validate:"required"`
	ToUserID       string `validate:"required,nefield=FromUserID"`
	Title          string `validate:"max=500"`
	Deadline       *time.Time
	Payload        json.RawMessage
}

type CreateSessionCommand struct {
	SessionID string
	Title     string `validate:"required,max=500"`
	OwnerID   string `validate:"required"`
}

// CreateSubject opens a decision or review in pending. The owner defaults to
// the creator and the policy to the configured preset for the kind.
func (uc ConsensusUseCase) CreateSubject(ctx context.Context, cmd CreateSubjectCommand) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "CreateSubject", attribute.String("kind", string(cmd.Kind)))
	defer func() { endSpan(span, err) }()

	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.Kind = entities.SubjectKind(strings.ToLower(strings.TrimSpace(string(cmd.Kind))))
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.CreatedBy = strings.TrimSpace(cmd.CreatedBy)
	cmd.OwnerID = strings.TrimSpace(cmd.OwnerID)
	if err := validateCommand(cmd); err != nil {
		return entities.Subject{}, err
	}
	if cmd.OwnerID == "" {
		cmd.OwnerID = cmd.CreatedBy
	}
	votingPolicy := uc.defaultPolicy(cmd.Kind)
	if cmd.Policy != nil {
		votingPolicy = *cmd.Policy
	}
	if !votingPolicy.Valid() {
		return entities.Subject{}, domainerrors.ErrInvalidInput
	}
	roster := cmd.Roster
	if !roster.Open {
		roster = entities.ClosedRoster(roster.Members...)
		if len(roster.Members) == 0 {
			return entities.Subject{}, domainerrors.ErrInvalidInput
		}
	}
	if err := validPayload(cmd.Payload); err != nil {
		return entities.Subject{}, err
	}

	now := uc.now()
	if err := validDeadline(cmd.Deadline, now); err != nil {
		return entities.Subject{}, err
	}
	subjectID, err := uc.resolveID(ctx, cmd.SubjectID)
	if err != nil {
		return entities.Subject{}, err
	}
	subject = entities.Subject{
		SubjectID: subjectID,
		Kind:      cmd.Kind,
		Status:    entities.StatusPending,
		Title:     cmd.Title,
		CreatedBy: cmd.CreatedBy,
		OwnerID:   cmd.OwnerID,
		Policy:    votingPolicy,
		Roster:    roster,
		Deadline:  utcPointer(cmd.Deadline),
		Payload:   append(json.RawMessage(nil), cmd.Payload...),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return uc.storeNewSubject(ctx, subject)
}

// CreateSuggestion adds a phase suggestion to an active planning session. The
// session owner is the approver; anyone may cast advisory up/down votes.
func (uc ConsensusUseCase) CreateSuggestion(ctx context.Context, cmd CreateSuggestionCommand) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "CreateSuggestion", attribute.String("session_id", strings.TrimSpace(cmd.SessionID)))
	defer func() { endSpan(span, err) }()

	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.SessionID = strings.TrimSpace(cmd.SessionID)
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.CreatedBy = strings.TrimSpace(cmd.CreatedBy)
	if err := validateCommand(cmd); err != nil {
		return entities.Subject{}, err
	}
	if err := validPayload(cmd.Payload); err != nil {
		return entities.Subject{}, err
	}
	dependencies := normalizeIDs(cmd.Dependencies)

	unlock, err := uc.lock(ctx, sessionLockKey(cmd.SessionID))
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("create_suggestion: lock", err)
	}
	defer unlock()

	session, err := uc.Sessions.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return entities.Subject{}, domainerrors.Infrastructure("create_suggestion: load session", err)
	}
	if session.Status != entities.SessionStatusActive {
		return entities.Subject{}, domainerrors.ErrInvalidState
	}
	if len(dependencies) > 0 {
		existing, err := uc.Subjects.ListSubjectsBySession(ctx, cmd.SessionID)
		if err != nil {
			return entities.Subject{}, domainerrors.Infrastructure("create_suggestion: list session", err)
		}
		known := make(map[string]struct{}, len(existing))
		for _, item := range existing {
			known[item.SubjectID] = struct{}{}
		}
		for _, dependencyID := range dependencies {
			if _, ok := known[dependencyID]; !ok {
				return entities.Subject{}, domainerrors.ErrDependencyNotMet
			}
		}
	}

	now := uc.now()
	if err := validDeadline(cmd.Deadline, now); err != nil {
		return entities.Subject{}, err
	}
	subjectID, err := uc.resolveID(ctx, cmd.SubjectID)
	if err != nil {
		return entities.Subject{}, err
	}
	if len(dependencies) > 0 && containsID(dependencies, subjectID) {
		return entities.Subject{}, domainerrors.ErrDependencyNotMet
	}
	var position *int
	if cmd.InsertAtPosition != nil {
		value := *cmd.InsertAtPosition
		position = &value
	}
	subject = entities.Subject{
		SubjectID: subjectID,
		Kind:      entities.SubjectKindPhaseSuggestion,
		Status:    entities.StatusPending,
		Title:     cmd.Title,
		CreatedBy: cmd.CreatedBy,
		OwnerID:   session.OwnerID,
		Policy:    entities.OwnerApprovalPolicy(),
		Roster:    entities.OpenRoster(),
		Deadline:  utcPointer(cmd.Deadline),
		Payload:   append(json.RawMessage(nil), cmd.Payload...),
		Suggestion: &entities.SuggestionDetails{
			SessionID:        cmd.SessionID,
			Dependencies:     dependencies,
			InsertAtPosition: position,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return uc.storeNewSubject(ctx, subject)
}

// CreateHandoff opens a two-party handoff. The sender holds the conversation
// until the recipient accepts.
func (uc ConsensusUseCase) CreateHandoff(ctx context.Context, cmd CreateHandoffCommand) (subject entities.Subject, err error) {
	ctx, span := startSpan(ctx, "CreateHandoff", attribute.String("conversation_id", strings.TrimSpace(cmd.ConversationID)))
	defer func() { endSpan(span, err) }()

	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.ConversationID = strings.TrimSpace(cmd.ConversationID)
	cmd.FromUserID = strings.TrimSpace(cmd.FromUserID)
	cmd.ToUserID = strings.TrimSpace(cmd.ToUserID)
	cmd.Title = strings.TrimSpace(cmd.Title)
	if err := validateCommand(cmd); err != nil {
		return entities.Subject{}, err
	}
	if err := validPayload(cmd.Payload); err != nil {
		return entities.Subject{}, err
	}
	now := uc.now()
	if err := validDeadline(cmd.Deadline, now); err != nil {
		return entities.Subject{}, err
	}
	subjectID, err := uc.resolveID(ctx, cmd.SubjectID)
	if err != nil {
		return entities.Subject{}, err
	}
	title := cmd.Title
	if title == "" {
		title = "handoff " + cmd.ConversationID
	}
	subject = entities.Subject{
		SubjectID: subjectID,
		Kind:      entities.SubjectKindHandoff,
		Status:    entities.StatusPending,
		Title:     title,
		CreatedBy: cmd.FromUserID,
		OwnerID:   cmd.FromUserID,
		Policy:    entities.OwnerApprovalPolicy(),
		Roster:    entities.ClosedRoster(cmd.ToUserID),
		Deadline:  utcPointer(cmd.Deadline),
		Payload:   append(json.RawMessage(nil), cmd.Payload...),
		Handoff: &entities.HandoffDetails{
			ConversationID: cmd.ConversationID,
			FromUserID:     cmd.FromUserID,
			ToUserID:       cmd.ToUserID,
			HolderID:       cmd.FromUserID,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return uc.storeNewSubject(ctx, subject)
}

func (uc ConsensusUseCase) CreateSession(ctx context.Context, cmd CreateSessionCommand) (session entities.PlanningSession, err error) {
	ctx, span := startSpan(ctx, "CreateSession")
	defer func() { endSpan(span, err) }()

	logger := application.ResolveLogger(uc.Logger)
	cmd.SessionID = strings.TrimSpace(cmd.SessionID)
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.OwnerID = strings.TrimSpace(cmd.OwnerID)
	if err := validateCommand(cmd); err != nil {
		return entities.PlanningSession{}, err
	}
	sessionID, err := uc.resolveID(ctx, cmd.SessionID)
	if err != nil {
		return entities.PlanningSession{}, err
	}
	now := uc.now()
	session = entities.PlanningSession{
		SessionID: sessionID,
		Title:     cmd.Title,
		OwnerID:   cmd.OwnerID,
		Status:    entities.SessionStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.Sessions.CreateSession(ctx, session); err != nil {
		return entities.PlanningSession{}, domainerrors.Infrastructure("create_session", err)
	}
	logger.Info("planning session created",
		"event", "consensus_session_created",
		"module", moduleName,
		"layer", "application",
		"session_id", session.SessionID,
		"owner_id", session.OwnerID,
	)
	return session, nil
}

func (uc ConsensusUseCase) storeNewSubject(ctx context.Context, subject entities.Subject) (entities.Subject, error) {
	logger := application.ResolveLogger(uc.Logger)
	if err := uc.Subjects.CreateSubject(ctx, subject); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateSubject) {
			return entities.Subject{}, err
		}
		return entities.Subject{}, domainerrors.Infrastructure("create_subject", err)
	}
	logger.Info("subject created",
		"event", "consensus_subject_created",
		"module", moduleName,
		"layer", "application",
		"subject_id", subject.SubjectID,
		"kind", string(subject.Kind),
		"policy", string(subject.Policy.Kind),
		"created_by", subject.CreatedBy,
	)
	return subject, nil
}

func (uc ConsensusUseCase) defaultPolicy(kind entities.SubjectKind) entities.VotingPolicy {
	if votingPolicy, ok := uc.DefaultPolicies[kind]; ok && votingPolicy.Valid() {
		return votingPolicy
	}
	return entities.MajorityPolicy()
}

func (uc ConsensusUseCase) resolveID(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return uc.newID(ctx)
}

func validPayload(payload json.RawMessage) error {
	if len(payload) > 0 && !json.Valid(payload) {
		return domainerrors.ErrInvalidInput
	}
	return nil
}

func validDeadline(deadline *time.Time, now time.Time) error {
	if deadline != nil && !deadline.After(now) {
		return domainerrors.ErrInvalidInput
	}
	return nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func normalizeIDs(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || containsID(out, value) {
			continue
		}
		out = append(out, value)
	}
	return out
}

func containsID(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
