package providergw

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrKind
	}{
		{"nil error", nil, ErrKindUnknown},
		{"no active device text", errors.New("NO_ACTIVE_DEVICE: player command failed"), ErrKindNoActiveDevice},
		{"unauthorized text", errors.New("401 Unauthorized"), ErrKindUnauthorized},
		{"forbidden text", errors.New("403 Forbidden"), ErrKindNotFoundOrForbidden},
		{"not found text", errors.New("404 not found"), ErrKindNotFoundOrForbidden},
		{"rate limit", errors.New("rate limit exceeded"), ErrKindTransient},
		{"429", errors.New("429 Too Many Requests"), ErrKindTransient},
		{"500", errors.New("500 Internal Server Error"), ErrKindTransient},
		{"unrecognized", errors.New("something went wrong"), ErrKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("503 Service Unavailable")))
	assert.False(t, IsRetryable(errors.New("404 not found")))
	assert.False(t, IsRetryable(nil))
}
