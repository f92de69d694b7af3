package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	consensusengine "concord/contexts/team-collaboration/consensus-engine"
	"concord/contexts/team-collaboration/consensus-engine/adapters/memory"
	"concord/contexts/team-collaboration/consensus-engine/adapters/metrics"
	postgresadapter "concord/contexts/team-collaboration/consensus-engine/adapters/postgres"
	"concord/contexts/team-collaboration/consensus-engine/adapters/redislock"
	"concord/contexts/team-collaboration/consensus-engine/application/commands"
	"concord/contexts/team-collaboration/consensus-engine/application/workers"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	"concord/contexts/team-collaboration/consensus-engine/ports"
	"concord/internal/platform/config"
	"concord/internal/platform/db"
	"concord/internal/platform/messaging"
	"concord/internal/platform/telemetry"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type WorkerApp struct {
	Module       consensusengine.Module
	postgres     *db.Postgres
	redis        *redis.Client
	outboxRelay  workers.OutboxRelay
	statusFeed   workers.StatusChangedConsumer
	tracing      *telemetry.Provider
	pollInterval time.Duration
	logger       *slog.Logger
}

// BuildWorker wires the engine to postgres, the optional redis lock, the
// in-process bus, the prometheus collectors and the configured trace exporter.
func BuildWorker(ctx context.Context, cfg config.Config) (*WorkerApp, error) {
	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	slog.SetLogLoggerLevel(parseLevel(cfg.LogLevel))
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	presets, err := config.LoadPolicyPresets(cfg.PolicyPresetFile)
	if err != nil {
		return nil, err
	}
	defaults, err := PolicyDefaults(presets)
	if err != nil {
		return nil, err
	}

	tracing, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:  cfg.ServiceName,
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	pg, err := db.Connect(ctx, cfg.PostgresDSN, db.PoolOptions{
		MaxOpenConns: cfg.SweepConcurrency * 2,
		MaxIdleConns: cfg.SweepConcurrency,
	})
	if err != nil {
		_ = tracing.Shutdown(ctx)
		return nil, err
	}
	repo := postgresadapter.NewRepository(pg.DB, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		_ = tracing.Shutdown(ctx)
		return nil, err
	}

	var (
		locker      ports.SubjectLocker = memory.NewKeyedLocker()
		redisClient *redis.Client
	)
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisLocker, client, err := redislock.Connect(ctx, cfg.RedisAddr,
			redislock.WithLease(cfg.LockLease),
			redislock.WithLogger(logger),
		)
		if err != nil {
			_ = pg.Close()
			_ = tracing.Shutdown(ctx)
			return nil, err
		}
		locker = redisLocker
		redisClient = client
	}

	bus := messaging.NewBus(256, logger)
	// Applied payloads leave through the outbox so the relay publishes them
	// on the bus alongside status changes.
	effector := commands.OutboxEffector{
		Outbox: repo,
		IDGen:  postgresadapter.UUIDGenerator{},
		Clock:  postgresadapter.SystemClock{},
	}
	module := consensusengine.NewModule(consensusengine.Dependencies{
		Subjects:        repo,
		Votes:           repo,
		Sessions:        repo,
		Locker:          locker,
		Effects:         effector,
		Notifier:        commands.OutboxNotifier{Outbox: repo, IDGen: postgresadapter.UUIDGenerator{}},
		Activity:        repo,
		Metrics:         metrics.NewPrometheus(prometheus.DefaultRegisterer),
		Clock:           postgresadapter.SystemClock{},
		IDGen:           postgresadapter.UUIDGenerator{},
		DefaultPolicies: defaults,
		MaxAttempts:     cfg.MaxAttempts,
		SweepBatchSize:  cfg.SweepBatchSize,
		SweepWorkers:    cfg.SweepConcurrency,
		Logger:          logger,
	})

	return &WorkerApp{
		Module:   module,
		postgres: pg,
		redis:    redisClient,
		tracing:  tracing,
		outboxRelay: workers.OutboxRelay{
			Outbox:    repo,
			Publisher: bus,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		statusFeed: workers.StatusChangedConsumer{
			Subscriber: bus,
			Logger:     logger,
		},
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}, nil
}

// Run sweeps expired subjects and relays the outbox every poll interval until
// ctx ends.
func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.statusFeed.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one expiry pass followed by one outbox relay pass.
func (w *WorkerApp) SweepOnce(ctx context.Context) (expired int, published int, err error) {
	expired, err = w.Module.Sweeper.RunOnce(ctx)
	if err != nil {
		return expired, 0, err
	}
	published, err = w.outboxRelay.RunOnce(ctx)
	return expired, published, err
}

func (w *WorkerApp) cycle(ctx context.Context) error {
	_, _, err := w.SweepOnce(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		// A failed cycle is retried on the next tick.
		w.logger.Warn("worker cycle failed",
			"event", "bootstrap_worker_cycle_failed",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"error", err.Error(),
		)
	}
	return nil
}

func (w *WorkerApp) Close() error {
	var errs []error
	if w.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, w.tracing.Shutdown(ctx))
		cancel()
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	if w.postgres != nil {
		errs = append(errs, w.postgres.Close())
	}
	return errors.Join(errs...)
}

// PolicyDefaults converts configured presets into engine policies keyed by
// subject kind.
func PolicyDefaults(presets map[string]config.PolicyPreset) (map[entities.SubjectKind]entities.VotingPolicy, error) {
	out := make(map[entities.SubjectKind]entities.VotingPolicy, len(presets))
	for name, preset := range presets {
		kind := entities.SubjectKind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("policy preset for unknown subject kind %q", name)
		}
		policy := entities.VotingPolicy{
			Kind:              entities.PolicyKind(preset.Kind),
			RequiredApprovals: preset.RequiredApprovals,
		}
		if !policy.Valid() {
			return nil, fmt.Errorf("invalid policy preset for %q", name)
		}
		out[kind] = policy
	}
	return out, nil
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
