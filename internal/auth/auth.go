// Package auth decides whether a chat identity may act for a member.
package auth

import (
	"context"
	"errors"
	"fmt"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/database"
	"attendance-bot/internal/models"
)

// Service reads roles from the store on every call; promotions and
// deactivations take effect immediately.
type Service struct {
	store database.Store
}

func New(store database.Store) *Service {
	return &Service{store: store}
}

// Actor resolves the acting identity to its active membership in the group.
// It returns nil without error when the identity has no active membership.
func (s *Service) Actor(ctx context.Context, groupID, actingExternalID int64) (*models.Member, error) {
	m, err := s.store.ActiveMemberByExternalID(ctx, groupID, actingExternalID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve actor: %w", err)
	}
	return m, nil
}

// CanAct reports whether actingExternalID may mark attendance for target
// within groupID: admins may act for anyone in the group, members only for
// themselves.
func (s *Service) CanAct(ctx context.Context, groupID, actingExternalID int64, target *models.Member) (bool, error) {
	if target == nil || target.GroupID != groupID {
		return false, nil
	}

	actor, err := s.Actor(ctx, groupID, actingExternalID)
	if err != nil || actor == nil {
		return false, err
	}

	return actor.IsAdmin() || actor.ExternalID == target.ExternalID, nil
}

// RequireAdmin returns the acting member if it is an active admin of the group.
func (s *Service) RequireAdmin(ctx context.Context, groupID, actingExternalID int64) (*models.Member, error) {
	actor, err := s.Actor(ctx, groupID, actingExternalID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, apperr.ErrUnauthorized
	}
	return actor, nil
}
