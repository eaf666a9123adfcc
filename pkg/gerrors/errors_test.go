package gerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Validation("name", "must not be empty")
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "field name")

	wrapped := Wrap(KindStorage, "write failed", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, "disk full", errors.Unwrap(wrapped).Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(KindTimeout, "deadline")
	wrapped := fmt.Errorf("outer: %w", base)

	assert.Equal(t, KindTimeout, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindTimeout))
	assert.False(t, Is(wrapped, KindStorage))

	// Non-classified errors default to component.
	assert.Equal(t, KindComponent, KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindProvider, "rate limited")))
	assert.True(t, Retryable(New(KindStorage, "conn reset")))
	assert.False(t, Retryable(New(KindValidation, "bad field")))
	assert.False(t, Retryable(New(KindCancelled, "stop")))
	assert.False(t, Retryable(New(KindResourceExceeded, "too much")))
	assert.False(t, Retryable(New(KindTimeout, "slow")))
}

func TestTagging(t *testing.T) {
	err := New(KindComponent, "boom").
		WithComponent("tool:calc").
		WithCorrelation("abc-123").
		WithStep("step-1")
	assert.Equal(t, "tool:calc", err.ComponentID)
	assert.Equal(t, "abc-123", err.CorrelationID)
	assert.Contains(t, err.Error(), "step step-1")
}
