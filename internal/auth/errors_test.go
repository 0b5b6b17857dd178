package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	err := errf(KindSequence, "%d > %d (session %d)", 346, 345, 7)

	assert.True(t, errors.Is(err, ErrSequence))
	assert.False(t, errors.Is(err, ErrRetry))
	assert.False(t, errors.Is(err, ErrAuth))
	assert.Equal(t, "346 > 345 (session 7)", err.Error())
}

func TestErrorKindMatchingThroughWrap(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", errf(KindExpired, "session 3 has expired"))

	assert.True(t, errors.Is(err, ErrExpired))

	var authErr *Error
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, KindExpired, authErr.Kind)
}
