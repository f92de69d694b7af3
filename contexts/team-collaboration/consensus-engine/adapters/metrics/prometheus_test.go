package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
)

func TestPrometheusCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheus(registry)

	recorder.RecordVote(entities.SubjectKindDecision, entities.VoteChoiceApprove)
	recorder.RecordVote(entities.SubjectKindDecision, entities.VoteChoiceApprove)
	recorder.RecordVote(entities.SubjectKindReview, entities.VoteChoiceRequestChanges)
	recorder.RecordTransition(entities.SubjectKindDecision, entities.StatusPending, entities.StatusApproved)
	recorder.RecordVersionConflict("cast_vote")
	recorder.RecordApplyEffect("ok")
	recorder.RecordExpired(entities.SubjectKindHandoff)

	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.votes.WithLabelValues("decision", "approve")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.votes.WithLabelValues("review", "request_changes")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.transitions.WithLabelValues("decision", "pending", "approved")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.versionConflicts.WithLabelValues("cast_vote")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.applyEffects.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.expired.WithLabelValues("handoff")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.ElementsMatch(t, []string{
		"consensus_votes_total",
		"consensus_transitions_total",
		"consensus_version_conflicts_total",
		"consensus_apply_effects_total",
		"consensus_expired_total",
	}, names)
}

func TestNewPrometheusRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewPrometheus(registry)
	assert.Panics(t, func() { NewPrometheus(registry) })
}
