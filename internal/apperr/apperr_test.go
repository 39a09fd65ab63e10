package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"member", fmt.Errorf("lookup: %w", ErrMemberNotFound), "Member not found (maybe removed)."},
		{"session", ErrSessionNotFound, "Session not found."},
		{"group", ErrGroupNotFound, "Group not registered. Use /start in the group first."},
		{"unauthorized", ErrUnauthorized, "You are not allowed to do that."},
		{"invalid", Invalid("bad id %q", "x"), `Invalid input: bad id "x"`},
		{"schedule", fmt.Errorf("%w: hour must be between 0 and 23", ErrInvalidSchedule), "Invalid input: hour must be between 0 and 23"},
		{"unexpected", errors.New("connection reset"), "Something went wrong. Please try again."},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestKinds(t *testing.T) {
	assert.ErrorIs(t, ErrMemberNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrInvalidSchedule, ErrInvalidInput)
	assert.NotErrorIs(t, ErrPromptAlreadySet, ErrInvalidInput)
}
