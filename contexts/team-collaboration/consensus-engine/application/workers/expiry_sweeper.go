package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	application "concord/contexts/team-collaboration/consensus-engine/application"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

// Expirer is the engine's expiry path. The sweeper never writes subjects
// itself so eager and lazy expiry share the same lock and version check.
type Expirer interface {
	Expire(ctx context.Context, subjectID string) (entities.Subject, bool, error)
}

// ExpirySweeper eagerly expires open subjects whose deadline has passed.
type ExpirySweeper struct {
	Subjects    ports.SubjectRepository
	Engine      Expirer
	Clock       ports.Clock
	BatchSize   int
	Concurrency int
	Logger      *slog.Logger
}

// RunOnce expires one batch of candidates and returns how many subjects it
// moved to expired. A failing subject is logged and skipped.
func (s ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(s.Logger)
	limit := s.BatchSize
	if limit <= 0 {
		limit = 200
	}
	workers := s.Concurrency
	if workers <= 0 {
		workers = 4
	}
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	candidates, err := s.Subjects.ListExpiryCandidates(ctx, now, limit)
	if err != nil {
		logger.Error("expiry candidate scan failed",
			"event", "consensus_expiry_scan_failed",
			"module", moduleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	var expired atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, subjectID := range candidates {
		group.Go(func() error {
			_, changed, err := s.Engine.Expire(groupCtx, subjectID)
			if err != nil {
				logger.Warn("subject expiry failed",
					"event", "consensus_expiry_subject_failed",
					"module", moduleName,
					"layer", "worker",
					"subject_id", subjectID,
					"error", err.Error(),
				)
				return nil
			}
			if changed {
				expired.Add(1)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return int(expired.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return int(expired.Load()), err
	}

	logger.Info("expiry sweep completed",
		"event", "consensus_expiry_sweep_completed",
		"module", moduleName,
		"layer", "worker",
		"candidate_count", len(candidates),
		"expired_count", expired.Load(),
	)
	return int(expired.Load()), nil
}
