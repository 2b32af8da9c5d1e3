package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil error", nil, 0},
		{"plain error", base, SeverityRecordFailed},
		{"retryable", NewRetryable("launch", base), SeverityRetryable},
		{"record failed", NewRecordFailed("save", base), SeverityRecordFailed},
		{"fatal", NewFatal("advance", base), SeverityFatal},
		{"wrapped fatal", fmt.Errorf("batch: %w", NewFatal("navigate", base)), SeverityFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityOf(tt.err))
		})
	}
}

func TestStepError_Unwrap(t *testing.T) {
	err := NewFatal("navigate", ErrNotLoggedIn)

	assert.True(t, errors.Is(err, ErrNotLoggedIn))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "navigate: not logged in", err.Error())
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "retryable", SeverityRetryable.String())
	assert.Equal(t, "record_failed", SeverityRecordFailed.String())
	assert.Equal(t, "fatal", SeverityFatal.String())
	assert.Equal(t, "unknown", Severity(0).String())
}
