package session

import (
	"context"
	"strconv"
	"testing"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/database/memstore"
	"attendance-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedClock() time.Time {
	return time.Date(2026, 5, 3, 22, 30, 0, 0, time.UTC)
}

func newManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return New(store, zap.NewNop(), WithClock(fixedClock)), store
}

func TestStartSession_EmptyRosterStillPersists(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	started, err := m.StartSession(ctx, GroupRef{ChatID: -1, Title: "Choir"}, "", nil)
	require.ErrorIs(t, err, apperr.ErrEmptyRoster)
	require.NotNil(t, started)
	assert.True(t, IsEmptyRoster(err))

	latest, err := m.Latest(ctx, started.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, started.Session.ID, latest.ID)
	assert.Equal(t, "Attendance 2026-05-03", latest.Title)
}

func TestStartSession_RosterOrderedAndActiveOnly(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	g, _ := store.EnsureGroup(ctx, -1, "Choir")
	_, _ = store.UpsertMember(ctx, g.ID, 3, "Zed", models.RoleMember)
	_, _ = store.UpsertMember(ctx, g.ID, 1, "Alice", models.RoleMember)
	_, _ = store.UpsertMember(ctx, g.ID, 2, "Bob", models.RoleAdmin)
	require.NoError(t, store.DeactivateMember(ctx, g.ID, 2))

	creator := int64(1)
	started, err := m.StartSession(ctx, GroupRef{ChatID: -1}, "  Sunday service ", &creator)
	require.NoError(t, err)

	assert.Equal(t, g.ID, started.Group.ID)
	assert.Equal(t, "Sunday service", started.Session.Title)
	assert.Equal(t, "2026-05-03", started.Session.DateString())
	require.NotNil(t, started.Session.CreatedBy)
	assert.Equal(t, int64(1), *started.Session.CreatedBy)

	names := make([]string, 0, len(started.Roster))
	for _, mem := range started.Roster {
		names = append(names, mem.DisplayName)
	}
	assert.Equal(t, []string{"Alice", "Zed"}, names)
}

func TestStartSession_DateUsesLocation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	loc := time.FixedZone("UTC+3", 3*3600)
	m := New(store, nil, WithClock(fixedClock), WithLocation(loc))

	started, err := m.StartSession(ctx, GroupRef{ChatID: -1}, "", nil)
	require.ErrorIs(t, err, apperr.ErrEmptyRoster)
	assert.Equal(t, "2026-05-04", started.Session.DateString())
	assert.Equal(t, "Scheduled attendance 2026-05-04", m.ScheduledTitle(fixedClock()))
}

func TestAttachPrompt_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	started, _ := m.StartSession(ctx, GroupRef{ChatID: -1}, "t", nil)
	require.NoError(t, m.AttachPrompt(ctx, started.Session.ID, 55))
	assert.ErrorIs(t, m.AttachPrompt(ctx, started.Session.ID, 56), apperr.ErrPromptAlreadySet)
}

func TestResolve_ScopedToGroup(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	a, _ := m.StartSession(ctx, GroupRef{ChatID: -1}, "a", nil)
	b, _ := m.StartSession(ctx, GroupRef{ChatID: -2}, "b", nil)

	got, err := m.Resolve(ctx, a.Group.ID, "latest")
	require.NoError(t, err)
	assert.Equal(t, a.Session.ID, got.ID)

	got, err = m.Resolve(ctx, a.Group.ID, "LATEST")
	require.NoError(t, err)
	assert.Equal(t, a.Session.ID, got.ID)

	_, err = m.Resolve(ctx, a.Group.ID, strconv.FormatInt(b.Session.ID, 10))
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = m.Resolve(ctx, a.Group.ID, "abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = m.Resolve(ctx, a.Group.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
