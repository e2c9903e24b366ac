package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := Newf(CodeInvalidAddress, "bad segment in %q", "/a//b")
	assert.Equal(t, CodeInvalidAddress, CodeOf(err))

	wrapped := fmt.Errorf("router.Dispatch: validate failed: %w", err)
	assert.Equal(t, CodeInvalidAddress, CodeOf(wrapped))

	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestDeniedCarriesAddress(t *testing.T) {
	err := Denied("write", "/audio/master/volume")
	require.Equal(t, CodePermissionDenied, err.Code)
	assert.Contains(t, err.Error(), "/audio/master/volume")
	assert.True(t, IsInvalid(err))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		invalid   bool
		transient bool
	}{
		{"schedule in past", New(CodeScheduleInPast, "late"), true, false},
		{"rate limit drop", New(CodeRateLimitExceeded, "dropped"), false, true},
		{"gesture sequence", New(CodeGestureSequence, "move before start"), true, false},
		{"queue full sentinel", ErrQueueFull, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := New(CodePermissionDenied, "no write scope")
	err := Wrap(base, "guard", "Authorize", "scope check")
	require.Error(t, err)

	var e *Error
	require.True(t, As(err, &e))
	assert.Equal(t, CodePermissionDenied, e.Code)
	assert.True(t, IsCode(err, CodePermissionDenied))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
}

func TestWithAddressDoesNotMutate(t *testing.T) {
	base := New(CodeInvalidValue, "timeline wants a map")
	annotated := base.WithAddress("/anim/fade")
	assert.Empty(t, base.Address)
	assert.Equal(t, "/anim/fade", annotated.Address)
}
