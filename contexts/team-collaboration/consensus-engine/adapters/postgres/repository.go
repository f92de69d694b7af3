package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
	"concord/contexts/team-collaboration/consensus-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

var errOutboxConflict = errors.New("outbox row conflict")

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateSubject(ctx context.Context, subject entities.Subject) error {
	row, err := subjectModelFromEntity(subject)
	if err != nil {
		return r.logError("consensus_repo_create_subject_encode_failed", err, "subject_id", subject.SubjectID)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateSubject
		}
		return r.logError("consensus_repo_create_subject_failed", err, "subject_id", row.SubjectID)
	}
	return nil
}

func (r *Repository) GetSubject(ctx context.Context, subjectID string) (entities.Subject, error) {
	var row subjectModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", strings.TrimSpace(subjectID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Subject{}, domainerrors.ErrSubjectNotFound
		}
		return entities.Subject{}, r.logError("consensus_repo_get_subject_failed", err, "subject_id", strings.TrimSpace(subjectID))
	}
	subject, err := row.toEntity()
	if err != nil {
		return entities.Subject{}, r.logError("consensus_repo_decode_subject_failed", err, "subject_id", row.SubjectID)
	}
	return subject, nil
}

// SaveSubjectIfVersion is a single conditional UPDATE; zero affected rows
// means another writer bumped the version first.
func (r *Repository) SaveSubjectIfVersion(ctx context.Context, subject entities.Subject, expectedVersion int64) error {
	row, err := subjectModelFromEntity(subject)
	if err != nil {
		return r.logError("consensus_repo_save_subject_encode_failed", err, "subject_id", subject.SubjectID)
	}
	result := r.db.WithContext(ctx).
		Model(&subjectModel{}).
		Where("subject_id = ?", row.SubjectID).
		Where("version = ?", expectedVersion).
		Updates(map[string]any{
			"status":            row.Status,
			"title":             row.Title,
			"owner_id":          row.OwnerID,
			"resolution_note":   row.ResolutionNote,
			"owner_approved":    row.OwnerApproved,
			"deadline":          row.Deadline,
			"payload":           row.Payload,
			"dependencies":      row.Dependencies,
			"approved_at":       row.ApprovedAt,
			"handoff_holder_id": row.HandoffHolderID,
			"version":           row.Version,
			"updated_at":        row.UpdatedAt,
			"resolved_at":       row.ResolvedAt,
		})
	if result.Error != nil {
		return r.logError("consensus_repo_save_subject_failed", result.Error,
			"subject_id", row.SubjectID,
			"expected_version", expectedVersion,
		)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&subjectModel{}).
		Where("subject_id = ?", row.SubjectID).
		Count(&count).Error; err != nil {
		return r.logError("consensus_repo_save_subject_probe_failed", err, "subject_id", row.SubjectID)
	}
	if count == 0 {
		return domainerrors.ErrSubjectNotFound
	}
	return domainerrors.ErrVersionConflict
}

func (r *Repository) DeleteSubject(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subject_id = ?", subjectID).Delete(&voteModel{}).Error; err != nil {
			return r.logError("consensus_repo_delete_votes_failed", err, "subject_id", subjectID)
		}
		result := tx.Where("subject_id = ?", subjectID).Delete(&subjectModel{})
		if result.Error != nil {
			return r.logError("consensus_repo_delete_subject_failed", result.Error, "subject_id", subjectID)
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrSubjectNotFound
		}
		return nil
	})
}

func (r *Repository) ListSubjectsBySession(ctx context.Context, sessionID string) ([]entities.Subject, error) {
	var rows []subjectModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", strings.TrimSpace(sessionID)).
		Order("created_at ASC").
		Order("subject_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_session_subjects_failed", err,
			"session_id", strings.TrimSpace(sessionID),
		)
	}
	items := make([]entities.Subject, 0, len(rows))
	for _, row := range rows {
		subject, err := row.toEntity()
		if err != nil {
			return nil, r.logError("consensus_repo_decode_subject_failed", err, "subject_id", row.SubjectID)
		}
		items = append(items, subject)
	}
	return items, nil
}

func (r *Repository) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&subjectModel{}).
		Where("deadline IS NOT NULL").
		Where("deadline <= ?", now.UTC()).
		Where("(status IN ?) OR (kind = ? AND status = ?)",
			[]string{string(entities.StatusPending), string(entities.StatusInReview)},
			string(entities.SubjectKindReview),
			string(entities.StatusChangesRequested),
		).
		Order("deadline ASC").
		Limit(limit).
		Pluck("subject_id", &ids).
		Error
	if err != nil {
		return nil, r.logError("consensus_repo_list_expiry_candidates_failed", err, "limit", limit)
	}
	return ids, nil
}

func (r *Repository) ListVotes(ctx context.Context, subjectID string) ([]entities.Vote, error) {
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ?", strings.TrimSpace(subjectID)).
		Order("cast_at ASC").
		Order("voter_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_votes_failed", err,
			"subject_id", strings.TrimSpace(subjectID),
		)
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// UpsertVote keeps one row per (subject, voter); a re-vote replaces choice
// and comment but keeps the original cast time.
func (r *Repository) UpsertVote(ctx context.Context, vote entities.Vote) error {
	row := voteModelFromEntity(vote)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}, {Name: "voter_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"choice":     row.Choice,
			"comment":    row.Comment,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("consensus_repo_upsert_vote_failed", create.Error,
			"subject_id", row.SubjectID,
			"voter_id", row.VoterID,
		)
	}
	return nil
}

func (r *Repository) CreateSession(ctx context.Context, session entities.PlanningSession) error {
	row, err := sessionModelFromEntity(session)
	if err != nil {
		return r.logError("consensus_repo_create_session_encode_failed", err, "session_id", session.SessionID)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateSubject
		}
		return r.logError("consensus_repo_create_session_failed", err, "session_id", row.SessionID)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (entities.PlanningSession, error) {
	var row sessionModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", strings.TrimSpace(sessionID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.PlanningSession{}, domainerrors.ErrSessionNotFound
		}
		return entities.PlanningSession{}, r.logError("consensus_repo_get_session_failed", err,
			"session_id", strings.TrimSpace(sessionID),
		)
	}
	session, err := row.toEntity()
	if err != nil {
		return entities.PlanningSession{}, r.logError("consensus_repo_decode_session_failed", err, "session_id", row.SessionID)
	}
	return session, nil
}

func (r *Repository) SaveSessionIfVersion(ctx context.Context, session entities.PlanningSession, expectedVersion int64) error {
	row, err := sessionModelFromEntity(session)
	if err != nil {
		return r.logError("consensus_repo_save_session_encode_failed", err, "session_id", session.SessionID)
	}
	result := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", row.SessionID).
		Where("version = ?", expectedVersion).
		Updates(map[string]any{
			"title":        row.Title,
			"status":       row.Status,
			"adopted_plan": row.AdoptedPlan,
			"version":      row.Version,
			"updated_at":   row.UpdatedAt,
			"finalized_at": row.FinalizedAt,
		})
	if result.Error != nil {
		return r.logError("consensus_repo_save_session_failed", result.Error,
			"session_id", row.SessionID,
			"expected_version", expectedVersion,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrVersionConflict
	}
	return nil
}

func (r *Repository) AppendActivity(ctx context.Context, record entities.ActivityRecord) error {
	row := activityModel{
		ActivityID: strings.TrimSpace(record.ActivityID),
		SubjectID:  strings.TrimSpace(record.SubjectID),
		ActorID:    strings.TrimSpace(record.ActorID),
		Action:     strings.TrimSpace(record.Action),
		FromStatus: string(record.FromStatus),
		ToStatus:   string(record.ToStatus),
		Note:       record.Note,
		OccurredAt: record.OccurredAt.UTC(),
	}
	if row.ActivityID == "" {
		row.ActivityID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("consensus_repo_append_activity_failed", err,
			"subject_id", row.SubjectID,
			"action", row.Action,
		)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("consensus_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("consensus_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("consensus_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return errOutboxConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("consensus_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return errOutboxConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "team-collaboration/consensus-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("consensus repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ ports.SubjectRepository = (*Repository)(nil)
	_ ports.VoteRepository    = (*Repository)(nil)
	_ ports.SessionRepository = (*Repository)(nil)
	_ ports.ActivityLog       = (*Repository)(nil)
	_ ports.OutboxWriter      = (*Repository)(nil)
	_ ports.OutboxRepository  = (*Repository)(nil)
)
