package consensusengine

import (
	"log/slog"

	"concord/contexts/team-collaboration/consensus-engine/adapters/memory"
	"concord/contexts/team-collaboration/consensus-engine/application/commands"
	"concord/contexts/team-collaboration/consensus-engine/application/queries"
	"concord/contexts/team-collaboration/consensus-engine/application/workers"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

type Module struct {
	Commands commands.ConsensusUseCase
	Queries  queries.QueryUseCase
	Sweeper  workers.ExpirySweeper
	Store    *memory.Store
	Effects  *memory.EffectRecorder
}

type Dependencies struct {
	Subjects        ports.SubjectRepository
	Votes           ports.VoteRepository
	Sessions        ports.SessionRepository
	Locker          ports.SubjectLocker
	Effects         ports.ApplyEffector
	Notifier        ports.StatusNotifier
	Activity        ports.ActivityLog
	Metrics         ports.Metrics
	Clock           ports.Clock
	IDGen           ports.IDGenerator
	DefaultPolicies map[entities.SubjectKind]entities.VotingPolicy
	MaxAttempts     int
	SweepBatchSize  int
	SweepWorkers    int
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	engine := commands.ConsensusUseCase{
		Subjects:        deps.Subjects,
		Votes:           deps.Votes,
		Sessions:        deps.Sessions,
		Locker:          deps.Locker,
		Effects:         deps.Effects,
		Notifier:        deps.Notifier,
		Activity:        deps.Activity,
		Metrics:         deps.Metrics,
		Clock:           deps.Clock,
		IDGen:           deps.IDGen,
		DefaultPolicies: deps.DefaultPolicies,
		MaxAttempts:     deps.MaxAttempts,
		Logger:          deps.Logger,
	}
	return Module{
		Commands: engine,
		Queries: queries.QueryUseCase{
			Subjects: deps.Subjects,
			Votes:    deps.Votes,
			Sessions: deps.Sessions,
			Expirer:  engine,
			Clock:    deps.Clock,
		},
		Sweeper: workers.ExpirySweeper{
			Subjects:    deps.Subjects,
			Engine:      engine,
			Clock:       deps.Clock,
			BatchSize:   deps.SweepBatchSize,
			Concurrency: deps.SweepWorkers,
			Logger:      deps.Logger,
		},
	}
}

// NewInMemoryModule wires the engine to the in-process store, keyed locker
// and effect recorder. Status changes go to the store's outbox.
func NewInMemoryModule(seed []entities.Subject, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	effects := &memory.EffectRecorder{}
	module := NewModule(Dependencies{
		Subjects: store,
		Votes:    store,
		Sessions: store,
		Locker:   memory.NewKeyedLocker(),
		Effects:  effects,
		Notifier: commands.OutboxNotifier{Outbox: store, IDGen: store},
		Activity: store,
		Clock:    store,
		IDGen:    store,
		Logger:   logger,
	})
	module.Store = store
	module.Effects = effects
	return module
}
