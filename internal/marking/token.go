package marking

import (
	"fmt"
	"strconv"
	"strings"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/models"
)

type Action string

const (
	ActionChoose Action = "choose"
	ActionMark   Action = "mark"
)

// maxCallbackData is Telegram's limit for inline button callback data.
const maxCallbackData = 64

// Token is the state carried by an inline button. It is self-describing:
// nothing about an in-progress selection is kept on the server.
type Token struct {
	Action    Action
	SessionID int64
	MemberID  int64
	Status    models.Status
}

func Choose(sessionID, memberID int64) Token {
	return Token{Action: ActionChoose, SessionID: sessionID, MemberID: memberID}
}

func Mark(sessionID, memberID int64, status models.Status) Token {
	return Token{Action: ActionMark, SessionID: sessionID, MemberID: memberID, Status: status}
}

func (t Token) String() string {
	if t.Action == ActionMark {
		return fmt.Sprintf("%s:%d:%d:%s", t.Action, t.SessionID, t.MemberID, t.Status)
	}
	return fmt.Sprintf("%s:%d:%d", t.Action, t.SessionID, t.MemberID)
}

// Encode returns the callback data for the token.
func (t Token) Encode() (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	s := t.String()
	if len(s) > maxCallbackData {
		return "", apperr.Invalid("callback data exceeds %d bytes", maxCallbackData)
	}
	return s, nil
}

// IsToken reports whether data looks like an attendance callback.
func IsToken(data string) bool {
	return strings.HasPrefix(data, string(ActionChoose)+":") || strings.HasPrefix(data, string(ActionMark)+":")
}

// ParseToken decodes "choose:<session>:<member>" or
// "mark:<session>:<member>:<status>".
func ParseToken(data string) (Token, error) {
	parts := strings.Split(data, ":")

	var t Token
	switch Action(parts[0]) {
	case ActionChoose:
		if len(parts) != 3 {
			return Token{}, apperr.Invalid("malformed choose token")
		}
		t.Action = ActionChoose
	case ActionMark:
		if len(parts) != 4 {
			return Token{}, apperr.Invalid("malformed mark token")
		}
		t.Action = ActionMark
		t.Status = models.Status(parts[3])
	default:
		return Token{}, apperr.Invalid("unknown action %q", parts[0])
	}

	var err error
	if t.SessionID, err = parseID(parts[1]); err != nil {
		return Token{}, apperr.Invalid("bad session id %q", parts[1])
	}
	if t.MemberID, err = parseID(parts[2]); err != nil {
		return Token{}, apperr.Invalid("bad member id %q", parts[2])
	}

	if err := t.validate(); err != nil {
		return Token{}, err
	}
	return t, nil
}

func (t Token) validate() error {
	if t.SessionID <= 0 || t.MemberID <= 0 {
		return apperr.Invalid("ids must be positive")
	}
	switch t.Action {
	case ActionChoose:
		if t.Status != "" {
			return apperr.Invalid("choose token carries no status")
		}
	case ActionMark:
		if !t.Status.Valid() {
			return apperr.Invalid("unknown status %q", t.Status)
		}
	default:
		return apperr.Invalid("unknown action %q", t.Action)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("non-positive id %d", id)
	}
	return id, nil
}
