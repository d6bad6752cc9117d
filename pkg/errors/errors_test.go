package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), "failed")
	require.Equal(t, "failed: boom", err.Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", http.StatusBadRequest)
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestFromError(t *testing.T) {
	require.Same(t, ErrMeetingNotFound, FromError(ErrMeetingNotFound))

	wrapped := fmt.Errorf("lookup: %w", ErrMeetingNotFound)
	require.Same(t, ErrMeetingNotFound, FromError(wrapped))

	out := FromError(stdErrors.New("raw"))
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)

	require.Nil(t, FromError(nil))
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("meetingId is required")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, "meetingId is required", err.Message)
	require.Equal(t, http.StatusBadRequest, err.StatusCode)
	require.Equal(t, "Invalid request", ErrBadRequest.Message)
}

func TestUnwrapSupportsIs(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := ErrSummaryUnavailable.WithInternal(cause)
	require.ErrorIs(t, err, cause)
}
