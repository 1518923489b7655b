package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "invalid", ClassInvalid.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", Class(42).String())
}

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "udp-input", "Start", "socket binding")
	require.Error(t, err)
	assert.Equal(t, "udp-input.Start: socket binding failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "c", "m", "a"))
}

func TestWrapClassified(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class Class
	}{
		{"transient", WrapTransient, ClassTransient},
		{"invalid", WrapInvalid, ClassInvalid},
		{"fatal", WrapFatal, ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "comp", "Method", "action")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "comp", ce.Component)
			assert.True(t, stderrors.Is(err, base))
			assert.Equal(t, tt.class, Classify(err))

			assert.NoError(t, tt.wrap(nil, "comp", "Method", "action"))
		})
	}
}

func TestValidationErrorsAreInvalid(t *testing.T) {
	for _, err := range []error{
		ErrMissingDeviceID,
		ErrAmbiguousShape,
		ErrEmptyAxis,
		ErrNonFinite,
		ErrInvalidRate,
		ErrEmptySignal,
	} {
		assert.True(t, IsInvalid(err), "expected %v to be invalid", err)
		assert.False(t, IsTransient(err), "expected %v not to be transient", err)
		assert.Equal(t, ClassInvalid, Classify(err))
	}

	// Wrapped validation errors keep their classification.
	wrapped := fmt.Errorf("normalize: %w", ErrAmbiguousShape)
	assert.True(t, IsInvalid(wrapped))
	assert.Equal(t, ClassInvalid, Classify(wrapped))
}

func TestTransientDetection(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrSinkUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(nil))
}

func TestFatalDetection(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.False(t, IsFatal(ErrConnectionLost))
	assert.False(t, IsFatal(nil))
}

func TestClassifyUnknownDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(stderrors.New("mystery")))
}
