package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

func handoff(status entities.Status, holder string) entities.Subject {
	return entities.Subject{
		SubjectID: "handoff-1",
		Kind:      entities.SubjectKindHandoff,
		Status:    status,
		Handoff: &entities.HandoffDetails{
			ConversationID: "conv-1",
			FromUserID:     "alice",
			ToUserID:       "bob",
			HolderID:       holder,
		},
	}
}

func TestNextHandoffStatus(t *testing.T) {
	next, err := NextHandoffStatus(handoff(entities.StatusPending, "alice"), HandoffAccept, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAccepted, next)

	next, err = NextHandoffStatus(handoff(entities.StatusPending, "alice"), HandoffDecline, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusDeclined, next)

	next, err = NextHandoffStatus(handoff(entities.StatusAccepted, "bob"), HandoffComplete, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, next)
}

func TestNextHandoffStatusGuards(t *testing.T) {
	_, err := NextHandoffStatus(handoff(entities.StatusPending, "alice"), HandoffAccept, "alice")
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	_, err = NextHandoffStatus(handoff(entities.StatusAccepted, "bob"), HandoffAccept, "bob")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)

	_, err = NextHandoffStatus(handoff(entities.StatusPending, "alice"), HandoffComplete, "alice")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)

	_, err = NextHandoffStatus(handoff(entities.StatusAccepted, "bob"), HandoffComplete, "alice")
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	decision := handoff(entities.StatusPending, "alice")
	decision.Kind = entities.SubjectKindDecision
	_, err = NextHandoffStatus(decision, HandoffAccept, "bob")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}
