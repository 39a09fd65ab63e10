// Package marking implements the two-step attendance interaction: pick a
// member from the session prompt, then pick a status.
package marking

import (
	"context"
	"fmt"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/auth"
	"attendance-bot/internal/database"
	"attendance-bot/internal/models"
)

// Actor is the identity that pressed a button.
type Actor struct {
	ExternalID  int64
	DisplayName string
}

// Outcome describes the effect of a handled token.
type Outcome struct {
	Token   Token
	Session *models.Session
	Member  *models.Member

	// Choices holds the follow-up mark tokens of a choose step.
	Choices []Token

	// Record is the stored attendance row after a mark step.
	Record   *models.AttendanceRecord
	SelfMark bool
}

type Protocol struct {
	store database.Store
	auth  *auth.Service
	now   func() time.Time
}

func New(store database.Store, authz *auth.Service, now func() time.Time) *Protocol {
	if now == nil {
		now = time.Now
	}
	return &Protocol{store: store, auth: authz, now: now}
}

// Handle validates data pressed by actor and applies its effect. Every call
// re-resolves the member and re-checks authorization; a mark token is never
// trusted because a choose step preceded it.
func (p *Protocol) Handle(ctx context.Context, data string, actor Actor) (*Outcome, error) {
	tok, err := ParseToken(data)
	if err != nil {
		return nil, err
	}

	out, err := p.authorize(ctx, tok, actor)
	if err != nil {
		return nil, err
	}

	switch tok.Action {
	case ActionChoose:
		out.Choices = make([]Token, 0, len(models.Statuses))
		for _, st := range models.Statuses {
			out.Choices = append(out.Choices, Mark(tok.SessionID, tok.MemberID, st))
		}
	case ActionMark:
		rec, err := p.store.UpsertRecord(ctx, tok.SessionID, tok.MemberID, tok.Status, p.now().UTC())
		if err != nil {
			return nil, err
		}
		out.Record = rec
	}

	return out, nil
}

// authorize resolves the token's member and session and checks the actor
// against the session's own group, not the chat the click came from.
func (p *Protocol) authorize(ctx context.Context, tok Token, actor Actor) (*Outcome, error) {
	member, err := p.store.MemberByID(ctx, tok.MemberID)
	if err != nil {
		return nil, err
	}
	if !member.Active {
		return nil, apperr.ErrMemberNotFound
	}

	sess, err := p.store.SessionByID(ctx, tok.SessionID)
	if err != nil {
		return nil, err
	}

	ok, err := p.auth.CanAct(ctx, sess.GroupID, actor.ExternalID, member)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", tok.Action, err)
	}
	if !ok {
		return nil, apperr.ErrUnauthorized
	}

	return &Outcome{
		Token:    tok,
		Session:  sess,
		Member:   member,
		SelfMark: member.ExternalID == actor.ExternalID,
	}, nil
}
