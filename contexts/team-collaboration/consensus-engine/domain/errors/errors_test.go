package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfrastructureWrapsOnlyForeignErrors(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Infrastructure("load subject", cause)
	assert.ErrorIs(t, wrapped, ErrInfrastructure)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "load subject")

	assert.Same(t, ErrSubjectNotFound, Infrastructure("load subject", ErrSubjectNotFound))
	assert.NoError(t, Infrastructure("noop", nil))
}

func TestIsDomain(t *testing.T) {
	assert.True(t, IsDomain(errors.Join(ErrInvalidInput, errors.New("field"))))
	assert.False(t, IsDomain(errors.New("disk full")))
}
