// Package apperr holds the error kinds that cross component boundaries and
// are turned into chat notices by the handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyRoster  = errors.New("no active members")

	ErrMemberNotFound   = fmt.Errorf("member %w", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrGroupNotFound    = fmt.Errorf("group %w", ErrNotFound)
	ErrInvalidSchedule  = fmt.Errorf("schedule: %w", ErrInvalidInput)
	ErrPromptAlreadySet = errors.New("session prompt already recorded")
)

// Invalid wraps ErrInvalidInput with a reason that is safe to show to users.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UserMessage returns the notice shown in chat for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMemberNotFound):
		return "Member not found (maybe removed)."
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found."
	case errors.Is(err, ErrGroupNotFound):
		return "Group not registered. Use /start in the group first."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, ErrEmptyRoster):
		return "No members registered yet. Members should run /register or admins can add them."
	case errors.Is(err, ErrInvalidInput):
		return "Invalid input: " + reason(err)
	default:
		return "Something went wrong. Please try again."
	}
}

// reason strips the sentinel prefixes from an invalid-input error.
func reason(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(ErrInvalidInput.Error())+2:]
	}
	return msg
}
