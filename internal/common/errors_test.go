package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error keeps code", NewAppError(CodePersistence, "save", errors.New("boom")), CodePersistence},
		{"wrapped app error", fmt.Errorf("stage: %w", NewAppError(CodeRateLimited, "slow down", nil)), CodeRateLimited},
		{"rate limited sentinel", fmt.Errorf("x: %w", ErrRateLimited), CodeRateLimited},
		{"validation sentinel", ErrValidation, CodeExtractionValidation},
		{"database sentinel", fmt.Errorf("insert: %w", ErrDatabase), CodePersistence},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CodeTransientNetwork},
		{"429", statusErr(429), CodeRateLimited},
		{"503", statusErr(503), CodeTransientNetwork},
		{"408", statusErr(408), CodeTransientNetwork},
		{"413", statusErr(413), CodeExtractionValidation},
		{"415", statusErr(415), CodeExtractionValidation},
		{"401", statusErr(401), CodeUnauthorized},
		{"403", statusErr(403), CodeUnauthorized},
		{"unauthorized sentinel", fmt.Errorf("auth: %w", ErrUnauthorized), CodeUnauthorized},
		{"upload rejected sentinel", ErrUploadRejected, CodeUploadRejected},
		{"422", statusErr(422), CodeExtractionValidation},
		{"400", statusErr(400), CodeExtractionValidation},
		{"net error", timeoutErr{}, CodeTransientNetwork},
		{"unknown", errors.New("mystery"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(CodeTransientNetwork))
	assert.True(t, IsRetryable(CodeRateLimited))
	assert.True(t, IsRetryable(CodePersistence))
	assert.False(t, IsRetryable(CodeExtractionValidation))
	assert.False(t, IsRetryable(CodeDuplicateContent))
	assert.False(t, IsRetryable(CodeUnauthorized))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewAppError(CodePersistence, "save card", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save card")
	assert.NotEmpty(t, UserMessage(CodePersistence))
}

func TestUserMessage_NamesTheRemedy(t *testing.T) {
	assert.Contains(t, UserMessage(CodeExtractionValidation), "recapture")
	assert.Contains(t, UserMessage(CodeUnauthorized), "configuration")
	assert.NotContains(t, UserMessage(CodeUnauthorized), "upload")
	assert.Equal(t, "Something went wrong", UserMessage("NOPE"))
}
