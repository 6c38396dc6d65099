package errors

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler_Handle(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		wantMessage   string
		wantRetryable bool
		wantLog       string
	}{
		{
			name:          "retryable database error",
			err:           NewDatabaseError(stdErrors.New("timeout")),
			wantMessage:   "Temporary problem, try again later",
			wantRetryable: true,
			wantLog:       "code=E200",
		},
		{
			name:          "critical metadata error uses default message",
			err:           NewMetadataInvariantError("no rollover branch matched", nil),
			wantMessage:   "An error occurred. Try again later",
			wantRetryable: false,
			wantLog:       "severity=critical",
		},
		{
			name:          "unknown error",
			err:           stdErrors.New("plain"),
			wantMessage:   "An error occurred. Try again later",
			wantRetryable: false,
			wantLog:       "unknown error",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewHandler(slog.New(slog.NewTextHandler(&buf, nil)), false)

			msg, retryable := h.Handle(context.Background(), tc.err)

			assert.Equal(t, tc.wantMessage, msg)
			assert.Equal(t, tc.wantRetryable, retryable)
			assert.Contains(t, buf.String(), tc.wantLog)
		})
	}
}

func TestHandler_NilError(t *testing.T) {
	h := NewHandler(nil, false)
	msg, retryable := h.Handle(context.Background(), nil)
	assert.Empty(t, msg)
	assert.False(t, retryable)
}

func TestAppError_UnwrapsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := NewDatabaseError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "database error: connection refused", err.Error())
}
