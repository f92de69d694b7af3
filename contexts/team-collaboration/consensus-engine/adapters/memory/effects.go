package memory

import (
	"context"
	"encoding/json"
	"sync"

	"concord/contexts/team-collaboration/consensus-engine/ports"
)

type AppliedEffect struct {
	SubjectID string
	Payload   json.RawMessage
}

// EffectRecorder is an ApplyEffector that keeps every call. Fail makes the
// next calls return the given error after recording them.
type EffectRecorder struct {
	mu      sync.Mutex
	applied []AppliedEffect
	Fail    error
}

func (r *EffectRecorder) OnApplied(_ context.Context, subjectID string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, AppliedEffect{
		SubjectID: subjectID,
		Payload:   append(json.RawMessage(nil), payload...),
	})
	return r.Fail
}

func (r *EffectRecorder) Applied() []AppliedEffect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AppliedEffect(nil), r.applied...)
}

func (r *EffectRecorder) Count(subjectID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, item := range r.applied {
		if item.SubjectID == subjectID {
			count++
		}
	}
	return count
}

var _ ports.ApplyEffector = (*EffectRecorder)(nil)
