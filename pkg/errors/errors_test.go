package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewError tests the basic creation of errors.
func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		code    ErrorCode
		message string
	}{
		{
			name:    "ValidationFailed",
			code:    ValidationFailed,
			message: "validation failed",
		},
		{
			name:    "EvaluatorUnavailable",
			code:    EvaluatorUnavailable,
			message: "all workers dead",
		},
		{
			name:    "InvalidSeed",
			code:    InvalidSeed,
			message: "seed allocation is disconnected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)

			customErr, ok := err.(*Error)

			assert.True(t, ok, "should be a custom *Error")
			assert.Equal(t, tt.code, customErr.Code())
			assert.Equal(t, tt.message, customErr.Error())

			// Test nil original error for new errors
			assert.Nil(t, customErr.Unwrap())
		})
	}
}

// TestWrapError tests error wrapping functionality.
func TestWrapError(t *testing.T) {
	originalErr := stderrors.New("read tcp: connection reset")

	err := Wrap(originalErr, WorkerCrashed, "worker exchange failed")
	require.NotNil(t, err)

	customErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, WorkerCrashed, customErr.Code())
	assert.Equal(t, originalErr, customErr.Unwrap())
	assert.Contains(t, err.Error(), "worker exchange failed")
	assert.Contains(t, err.Error(), "connection reset")

	// Wrapping nil returns nil.
	assert.Nil(t, Wrap(nil, Timeout, "ignored"))
}

// TestWithFields tests attaching structured context to errors.
func TestWithFields(t *testing.T) {
	base := New(EvaluatorTimeout, "evaluation timed out")

	err := WithFields(base, Fields{"worker": 2, "timeout_ms": 500})
	customErr, ok := err.(*Error)
	require.True(t, ok)

	fields := customErr.Fields()
	assert.Equal(t, 2, fields["worker"])
	assert.Equal(t, 500, fields["timeout_ms"])
	// Code survives field attachment.
	assert.Equal(t, EvaluatorTimeout, customErr.Code())

	// Fields on a plain error produce an Unknown-coded wrapper.
	plain := WithFields(stderrors.New("plain"), Fields{"k": "v"})
	plainErr, ok := plain.(*Error)
	require.True(t, ok)
	assert.Equal(t, Unknown, plainErr.Code())

	// Nil stays nil.
	assert.Nil(t, WithFields(nil, Fields{"k": "v"}))
}

// TestErrorMatching tests errors.Is/As behavior for coded errors.
func TestErrorMatching(t *testing.T) {
	err := Wrap(New(EvaluatorTimeout, "timed out"), EvaluatorTimeout, "evaluate call failed")

	assert.True(t, stderrors.Is(err, New(EvaluatorTimeout, "other message")))
	assert.False(t, stderrors.Is(err, New(EvaluatorUnavailable, "other")))

	var coded *Error
	require.True(t, stderrors.As(err, &coded))
	assert.Equal(t, EvaluatorTimeout, coded.Code())
}

// TestHasCode tests chain-walking code detection.
func TestHasCode(t *testing.T) {
	inner := New(ConnectivityViolation, "orphaned branch")
	outer := Wrap(inner, ValidationFailed, "candidate rejected")

	assert.True(t, HasCode(outer, ValidationFailed))
	assert.True(t, HasCode(outer, ConnectivityViolation))
	assert.False(t, HasCode(outer, EvaluatorTimeout))
	assert.False(t, HasCode(nil, Unknown))
	assert.False(t, HasCode(stderrors.New("plain"), Unknown))
}
