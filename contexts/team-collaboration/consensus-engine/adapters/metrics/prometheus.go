package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const namespace = "consensus"

// Prometheus records engine counters on the given registerer.
type Prometheus struct {
	votes            *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	versionConflicts *prometheus.CounterVec
	applyEffects     *prometheus.CounterVec
	expired          *prometheus.CounterVec
}

// NewPrometheus registers the consensus collectors. A nil registerer uses
// the process default.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &Prometheus{
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of recorded votes.",
		}, []string{"kind", "choice"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of committed subject status transitions.",
		}, []string{"kind", "from", "to"}),
		versionConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Total number of optimistic version conflicts that forced a retry.",
		}, []string{"op"}),
		applyEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_effects_total",
			Help:      "Total number of apply effect invocations by result.",
		}, []string{"result"}),
		expired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Total number of subjects moved to expired.",
		}, []string{"kind"}),
	}
}

func (p *Prometheus) RecordVote(kind entities.SubjectKind, choice entities.VoteChoice) {
	p.votes.WithLabelValues(string(kind), string(choice)).Inc()
}

func (p *Prometheus) RecordTransition(kind entities.SubjectKind, from entities.Status, to entities.Status) {
	p.transitions.WithLabelValues(string(kind), string(from), string(to)).Inc()
}

func (p *Prometheus) RecordVersionConflict(op string) {
	p.versionConflicts.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordApplyEffect(result string) {
	p.applyEffects.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordExpired(kind entities.SubjectKind) {
	p.expired.WithLabelValues(string(kind)).Inc()
}

var _ ports.Metrics = (*Prometheus)(nil)
