package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid consensus input")
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrSessionNotFound  = errors.New("planning session not found")
	ErrNotEligible      = errors.New("voter is not eligible for this subject")
	ErrForbidden        = errors.New("actor lacks the role for this action")
	ErrInvalidState     = errors.New("action is not allowed from the current status")
	ErrSubjectResolved  = errors.New("subject is resolved and no longer accepts votes")
	ErrAlreadyApplied   = errors.New("subject is already applied")
	ErrDependencyNotMet = errors.New("suggestion dependencies are not approved")
	ErrVersionConflict  = errors.New("subject version conflict")
	ErrDuplicateSubject = errors.New("subject already exists")

	// ErrInfrastructure marks storage or collaborator failures that are not
	// caused by the caller's input.
	ErrInfrastructure = errors.New("consensus infrastructure failure")
)

var domainErrors = []error{
	ErrInvalidInput,
	ErrSubjectNotFound,
	ErrSessionNotFound,
	ErrNotEligible,
	ErrForbidden,
	ErrInvalidState,
	ErrSubjectResolved,
	ErrAlreadyApplied,
	ErrDependencyNotMet,
	ErrVersionConflict,
	ErrDuplicateSubject,
	ErrInfrastructure,
}

// IsDomain reports whether err belongs to the consensus error taxonomy.
func IsDomain(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Infrastructure wraps err as ErrInfrastructure unless it already carries a
// domain meaning. The cause stays reachable through errors.Is/As.
func Infrastructure(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}
