package policy

import (
	"strings"

	"concord/contexts/team-collaboration/consensus-engine/domain/entities"
	domainerrors "concord/contexts/team-collaboration/consensus-engine/domain/errors"
)

type HandoffAction string

const (
	HandoffAccept   HandoffAction = "accept"
	HandoffDecline  HandoffAction = "decline"
	HandoffComplete HandoffAction = "complete"
)

// NextHandoffStatus resolves a two-party handoff transition:
//
//	pending  -> accepted | declined   (recipient only)
//	accepted -> completed             (current holder only)
//
// Expiry is handled by the shared deadline path, not here.
func NextHandoffStatus(subject entities.Subject, action HandoffAction, actorID string) (entities.Status, error) {
	if subject.Kind != entities.SubjectKindHandoff || subject.Handoff == nil {
		return "", domainerrors.ErrInvalidInput
	}
	actorID = strings.TrimSpace(actorID)
	switch action {
	case HandoffAccept, HandoffDecline:
		if actorID != subject.Handoff.ToUserID {
			return "", domainerrors.ErrForbidden
		}
		if subject.Status != entities.StatusPending {
			return "", domainerrors.ErrInvalidState
		}
		if action == HandoffAccept {
			return entities.StatusAccepted, nil
		}
		return entities.StatusDeclined, nil
	case HandoffComplete:
		if actorID != subject.Handoff.HolderID {
			return "", domainerrors.ErrForbidden
		}
		if subject.Status != entities.StatusAccepted {
			return "", domainerrors.ErrInvalidState
		}
		return entities.StatusCompleted, nil
	default:
		return "", domainerrors.ErrInvalidInput
	}
}
