package workers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/contexts/team-collaboration/consensus-engine/adapters/memory"
	"concord/contexts/team-collaboration/consensus-engine/application/commands"
	"concord/contexts/team-collaboration/consensus-engine/application/workers"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	"concord/contexts/team-collaboration/consensus-engine/ports"
	"concord/internal/platform/messaging"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(store *memory.Store) commands.ConsensusUseCase {
	return commands.ConsensusUseCase{
		Subjects: store,
		Votes:    store,
		Sessions: store,
		Locker:   memory.NewKeyedLocker(),
		Notifier: commands.OutboxNotifier{Outbox: store, IDGen: store},
		Activity: store,
		Clock:    store,
		IDGen:    store,
		Logger:   discardLogger(),
	}
}

func createDecision(t *testing.T, engine commands.ConsensusUseCase, deadline *time.Time) entities.Subject {
	t.Helper()
	subject, err := engine.CreateSubject(context.Background(), commands.CreateSubjectCommand{
		Kind:      entities.SubjectKindDecision,
		Title:     "Retire the legacy queue",
		CreatedBy: "author",
		Roster:    entities.OpenRoster(),
		Deadline:  deadline,
	})
	require.NoError(t, err)
	return subject
}

func TestExpirySweeperExpiresDueSubjects(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetNow(start)
	engine := newEngine(store)

	soon := start.Add(10 * time.Minute)
	later := start.Add(48 * time.Hour)
	var due []entities.Subject
	for i := 0; i < 5; i++ {
		due = append(due, createDecision(t, engine, &soon))
	}
	notDue := createDecision(t, engine, &later)
	noDeadline := createDecision(t, engine, nil)

	sweeper := workers.ExpirySweeper{
		Subjects:    store,
		Engine:      engine,
		Clock:       store,
		BatchSize:   10,
		Concurrency: 3,
		Logger:      discardLogger(),
	}
	expired, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	store.Advance(time.Hour)
	expired, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(due), expired)

	for _, subject := range due {
		stored, err := store.GetSubject(context.Background(), subject.SubjectID)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusExpired, stored.Status)
	}
	for _, subject := range []entities.Subject{notDue, noDeadline} {
		stored, err := store.GetSubject(context.Background(), subject.SubjectID)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusPending, stored.Status)
	}

	expired, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

type failingExpirer struct{}

func (failingExpirer) Expire(context.Context, string) (entities.Subject, bool, error) {
	return entities.Subject{}, false, errors.New("storage offline")
}

func TestExpirySweeperSkipsFailures(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetNow(start)
	soon := start.Add(time.Minute)
	createDecision(t, newEngine(store), &soon)
	store.Advance(time.Hour)

	expired, err := workers.ExpirySweeper{
		Subjects: store,
		Engine:   failingExpirer{},
		Clock:    store,
		Logger:   discardLogger(),
	}.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestOutboxRelayPublishesStatusChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore(nil)
	store.SetNow(start)
	engine := newEngine(store)
	bus := messaging.NewBus(16, discardLogger())

	delivered := make(chan workers.StatusChangedPayload, 4)
	consumer := workers.StatusChangedConsumer{
		Subscriber: bus,
		Deliver: func(_ context.Context, payload workers.StatusChangedPayload) error {
			delivered <- payload
			return nil
		},
		Logger: discardLogger(),
	}
	require.NoError(t, consumer.Start(ctx))

	subject := createDecision(t, engine, nil)
	_, err := engine.CastVote(ctx, commands.CastVoteCommand{
		SubjectID: subject.SubjectID,
		VoterID:   "u1",
		Choice:    entities.VoteChoiceApprove,
	})
	require.NoError(t, err)

	relay := workers.OutboxRelay{Outbox: store, Publisher: bus, Clock: store, Logger: discardLogger()}
	published, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	select {
	case payload := <-delivered:
		assert.Equal(t, subject.SubjectID, payload.SubjectID)
		assert.Equal(t, string(entities.StatusPending), payload.FromStatus)
		assert.Equal(t, string(entities.StatusApproved), payload.ToStatus)
		assert.Equal(t, "u1", payload.ActorID)
	case <-time.After(2 * time.Second):
		t.Fatal("status change was not delivered")
	}

	published, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, ports.EventEnvelope) error {
	return errors.New("broker unavailable")
}

func TestOutboxRelayKeepsRowsOnPublishFailure(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetNow(start)
	engine := newEngine(store)
	subject := createDecision(t, engine, nil)
	_, err := engine.Withdraw(context.Background(), subject.SubjectID, "author")
	require.NoError(t, err)

	relay := workers.OutboxRelay{Outbox: store, Publisher: failingPublisher{}, Logger: discardLogger()}
	published, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, published)

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
