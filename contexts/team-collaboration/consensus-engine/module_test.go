package consensusengine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consensusengine "concord/contexts/team-collaboration/consensus-engine"
	"concord/contexts/team-collaboration/consensus-engine/application/commands"
	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

func TestInMemoryModuleEndToEnd(t *testing.T) {
	ctx := context.Background()
	unanimous := entities.UnanimousPolicy()
	module := consensusengine.NewInMemoryModule(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	subject, err := module.Commands.CreateSubject(ctx, commands.CreateSubjectCommand{
		Kind:      entities.SubjectKindDecision,
		Title:     "Ship on Thursdays",
		CreatedBy: "author",
		Policy:    &unanimous,
		Roster:    entities.ClosedRoster("a", "b"),
		Payload:   []byte(`{"day":"thursday"}`),
	})
	require.NoError(t, err)

	expected := []entities.Status{entities.StatusInReview, entities.StatusApproved}
	for i, voter := range []string{"a", "b"} {
		result, err := module.Commands.CastVote(ctx, commands.CastVoteCommand{
			SubjectID: subject.SubjectID,
			VoterID:   voter,
			Choice:    entities.VoteChoiceApprove,
		})
		require.NoError(t, err)
		assert.Equal(t, expected[i], result.Subject.Status)
	}

	view, err := module.Queries.Tally(ctx, subject.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApproved, view.Subject.Status)
	assert.Equal(t, 2, view.Tally.Approve)

	applied, err := module.Commands.Apply(ctx, subject.SubjectID, "author")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApplied, applied.Status)
	assert.Equal(t, 1, module.Effects.Count(subject.SubjectID))

	pending, err := module.Store.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}
