package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapAndCode(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrDriverInit, "browser launch failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrDriverInit, GetErrorCode(err))
	assert.True(t, IsCode(err, ErrDriverInit))
	assert.False(t, IsCode(err, ErrTimeout))
	assert.Contains(t, err.Error(), "DRIVER_INIT")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorCodeThroughWrapping(t *testing.T) {
	inner := NewError(ErrRateLimited, "quota exhausted").
		WithRetryable(true).
		WithRetryAfter(42 * time.Second)
	wrapped := fmt.Errorf("while running workflow: %w", inner)

	assert.Equal(t, ErrRateLimited, GetErrorCode(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, 42*time.Second, RetryAfter(wrapped))
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	assert.False(t, IsRetryable(plain))
	assert.Zero(t, RetryAfter(plain))
}
