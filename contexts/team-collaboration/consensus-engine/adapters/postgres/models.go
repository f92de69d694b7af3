package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

// subjectModel flattens the subject and its specializations into one row.
// Roster members, dependencies and the adopted payload are stored as jsonb.
type subjectModel struct {
	SubjectID         string     `gorm:"column:subject_id;primaryKey"`
	Kind              string     `gorm:"column:kind"`
	Status            string     `gorm:"column:status"`
	Title             string     `gorm:"column:title"`
	CreatedBy         string     `gorm:"column:created_by"`
	OwnerID           string     `gorm:"column:owner_id"`
	PolicyKind        string     `gorm:"column:policy_kind"`
	RequiredApprovals int        `gorm:"column:required_approvals"`
	RosterOpen        bool       `gorm:"column:roster_open"`
	RosterMembers     []byte     `gorm:"column:roster_members;type:jsonb"`
	Deadline          *time.Time `gorm:"column:deadline"`
	Payload           []byte     `gorm:"column:payload;type:jsonb"`
	ResolutionNote    string     `gorm:"column:resolution_note"`
	OwnerApproved     bool       `gorm:"column:owner_approved"`
	SessionID         *string    `gorm:"column:session_id"`
	Dependencies      []byte     `gorm:"column:dependencies;type:jsonb"`
	InsertAtPosition  *int       `gorm:"column:insert_at_position"`
	ApprovedAt        *time.Time `gorm:"column:approved_at"`
	ConversationID    *string    `gorm:"column:handoff_conversation_id"`
	HandoffFromUserID *string    `gorm:"column:handoff_from_user_id"`
	HandoffToUserID   *string    `gorm:"column:handoff_to_user_id"`
	HandoffHolderID   *string    `gorm:"column:handoff_holder_id"`
	Version           int64      `gorm:"column:version"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
	ResolvedAt        *time.Time `gorm:"column:resolved_at"`
}

func (subjectModel) TableName() string {
	return "consensus_subjects"
}

func subjectModelFromEntity(subject entities.Subject) (subjectModel, error) {
	members, err := json.Marshal(nonNilStrings(subject.Roster.Members))
	if err != nil {
		return subjectModel{}, err
	}
	row := subjectModel{
		SubjectID:         strings.TrimSpace(subject.SubjectID),
		Kind:              string(subject.Kind),
		Status:            string(subject.Status),
		Title:             subject.Title,
		CreatedBy:         strings.TrimSpace(subject.CreatedBy),
		OwnerID:           strings.TrimSpace(subject.OwnerID),
		PolicyKind:        string(subject.Policy.Kind),
		RequiredApprovals: subject.Policy.RequiredApprovals,
		RosterOpen:        subject.Roster.Open,
		RosterMembers:     members,
		Deadline:          normalizeOptionalTime(subject.Deadline),
		ResolutionNote:    subject.ResolutionNote,
		OwnerApproved:     subject.OwnerApproved,
		Version:           subject.Version,
		CreatedAt:         subject.CreatedAt.UTC(),
		UpdatedAt:         subject.UpdatedAt.UTC(),
		ResolvedAt:        normalizeOptionalTime(subject.ResolvedAt),
	}
	if len(subject.Payload) > 0 {
		row.Payload = append([]byte(nil), subject.Payload...)
	}
	if suggestion := subject.Suggestion; suggestion != nil {
		dependencies, err := json.Marshal(nonNilStrings(suggestion.Dependencies))
		if err != nil {
			return subjectModel{}, err
		}
		row.SessionID = optionalString(suggestion.SessionID)
		row.Dependencies = dependencies
		row.InsertAtPosition = suggestion.InsertAtPosition
		row.ApprovedAt = normalizeOptionalTime(suggestion.ApprovedAt)
	}
	if handoff := subject.Handoff; handoff != nil {
		row.ConversationID = optionalString(handoff.ConversationID)
		row.HandoffFromUserID = optionalString(handoff.FromUserID)
		row.HandoffToUserID = optionalString(handoff.ToUserID)
		row.HandoffHolderID = optionalString(handoff.HolderID)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m subjectModel) toEntity() (entities.Subject, error) {
	var members []string
	if len(m.RosterMembers) > 0 {
		if err := json.Unmarshal(m.RosterMembers, &members); err != nil {
			return entities.Subject{}, err
		}
	}
	subject := entities.Subject{
		SubjectID: m.SubjectID,
		Kind:      entities.SubjectKind(m.Kind),
		Status:    entities.Status(m.Status),
		Title:     m.Title,
		CreatedBy: m.CreatedBy,
		OwnerID:   m.OwnerID,
		Policy: entities.VotingPolicy{
			Kind:              entities.PolicyKind(m.PolicyKind),
			RequiredApprovals: m.RequiredApprovals,
		},
		Roster:         entities.Roster{Open: m.RosterOpen, Members: members},
		Deadline:       normalizeOptionalTime(m.Deadline),
		ResolutionNote: m.ResolutionNote,
		OwnerApproved:  m.OwnerApproved,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		ResolvedAt:     normalizeOptionalTime(m.ResolvedAt),
	}
	if len(m.Payload) > 0 {
		subject.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.SessionID != nil {
		var dependencies []string
		if len(m.Dependencies) > 0 {
			if err := json.Unmarshal(m.Dependencies, &dependencies); err != nil {
				return entities.Subject{}, err
			}
		}
		subject.Suggestion = &entities.SuggestionDetails{
			SessionID:        *m.SessionID,
			Dependencies:     dependencies,
			InsertAtPosition: m.InsertAtPosition,
			ApprovedAt:       normalizeOptionalTime(m.ApprovedAt),
		}
	}
	if m.ConversationID != nil {
		subject.Handoff = &entities.HandoffDetails{
			ConversationID: *m.ConversationID,
			FromUserID:     derefString(m.HandoffFromUserID),
			ToUserID:       derefString(m.HandoffToUserID),
			HolderID:       derefString(m.HandoffHolderID),
		}
	}
	return subject, nil
}

type voteModel struct {
	SubjectID string    `gorm:"column:subject_id;primaryKey"`
	VoterID   string    `gorm:"column:voter_id;primaryKey"`
	Choice    string    `gorm:"column:choice"`
	Comment   string    `gorm:"column:comment"`
	CastAt    time.Time `gorm:"column:cast_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (voteModel) TableName() string {
	return "consensus_votes"
}

func voteModelFromEntity(vote entities.Vote) voteModel {
	row := voteModel{
		SubjectID: strings.TrimSpace(vote.SubjectID),
		VoterID:   strings.TrimSpace(vote.VoterID),
		Choice:    string(vote.Choice),
		Comment:   vote.Comment,
		CastAt:    vote.CastAt.UTC(),
		UpdatedAt: vote.UpdatedAt.UTC(),
	}
	if row.CastAt.IsZero() {
		row.CastAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CastAt
	}
	return row
}

func (m voteModel) toEntity() entities.Vote {
	return entities.Vote{
		SubjectID: m.SubjectID,
		VoterID:   m.VoterID,
		Choice:    entities.VoteChoice(m.Choice),
		Comment:   m.Comment,
		CastAt:    m.CastAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type sessionModel struct {
	SessionID   string     `gorm:"column:session_id;primaryKey"`
	Title       string     `gorm:"column:title"`
	OwnerID     string     `gorm:"column:owner_id"`
	Status      string     `gorm:"column:status"`
	AdoptedPlan []byte     `gorm:"column:adopted_plan;type:jsonb"`
	Version     int64      `gorm:"column:version"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	FinalizedAt *time.Time `gorm:"column:finalized_at"`
}

func (sessionModel) TableName() string {
	return "consensus_sessions"
}

func sessionModelFromEntity(session entities.PlanningSession) (sessionModel, error) {
	plan, err := json.Marshal(nonNilStrings(session.AdoptedPlan))
	if err != nil {
		return sessionModel{}, err
	}
	return sessionModel{
		SessionID:   strings.TrimSpace(session.SessionID),
		Title:       session.Title,
		OwnerID:     strings.TrimSpace(session.OwnerID),
		Status:      string(session.Status),
		AdoptedPlan: plan,
		Version:     session.Version,
		CreatedAt:   session.CreatedAt.UTC(),
		UpdatedAt:   session.UpdatedAt.UTC(),
		FinalizedAt: normalizeOptionalTime(session.FinalizedAt),
	}, nil
}

func (m sessionModel) toEntity() (entities.PlanningSession, error) {
	var plan []string
	if len(m.AdoptedPlan) > 0 {
		if err := json.Unmarshal(m.AdoptedPlan, &plan); err != nil {
			return entities.PlanningSession{}, err
		}
	}
	return entities.PlanningSession{
		SessionID:   m.SessionID,
		Title:       m.Title,
		OwnerID:     m.OwnerID,
		Status:      entities.SessionStatus(m.Status),
		AdoptedPlan: plan,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		FinalizedAt: normalizeOptionalTime(m.FinalizedAt),
	}, nil
}

type activityModel struct {
	ActivityID string    `gorm:"column:activity_id;primaryKey"`
	SubjectID  string    `gorm:"column:subject_id"`
	ActorID    string    `gorm:"column:actor_id"`
	Action     string    `gorm:"column:action"`
	FromStatus string    `gorm:"column:from_status"`
	ToStatus   string    `gorm:"column:to_status"`
	Note       string    `gorm:"column:note"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
}

func (activityModel) TableName() string {
	return "consensus_activity"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "consensus_outbox"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
