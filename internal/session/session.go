// Package session creates attendance sessions and resolves them within a
// group.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/database"
	"attendance-bot/internal/models"

	"go.uber.org/zap"
)

// GroupRef identifies the chat a session is started in.
type GroupRef struct {
	ChatID int64
	Title  string
}

// Started is a freshly created session together with its roster.
type Started struct {
	Group   *models.Group
	Session *models.Session
	Roster  []models.Member
}

type Manager struct {
	store  database.Store
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocation sets the timezone used for session dates.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func New(store database.Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, loc: time.UTC, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Today returns the current calendar date in the manager's timezone.
func (m *Manager) Today() time.Time {
	return m.now().In(m.loc)
}

// DefaultTitle is used when /attendance is called without a title.
func (m *Manager) DefaultTitle() string {
	return "Attendance " + m.Today().Format(models.DateLayout)
}

// ScheduledTitle is the title of sessions created by the scheduler.
func (m *Manager) ScheduledTitle(at time.Time) string {
	return "Scheduled attendance " + at.In(m.loc).Format(models.DateLayout)
}

// StartSession creates a session for the group dated today and lists the
// active roster. When nobody is registered the session is still persisted
// and returned together with apperr.ErrEmptyRoster.
func (m *Manager) StartSession(ctx context.Context, ref GroupRef, title string, creator *int64) (*Started, error) {
	group, err := m.store.EnsureGroup(ctx, ref.ChatID, groupTitle(ref))
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = m.DefaultTitle()
	}

	sess, err := m.store.CreateSession(ctx, models.Session{
		GroupID:     group.ID,
		Title:       title,
		SessionDate: m.Today(),
		CreatedBy:   creator,
	})
	if err != nil {
		return nil, err
	}

	roster, err := m.store.ListActiveMembers(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}

	m.logger.Info("Session created",
		zap.Int64("group_id", group.ID),
		zap.Int64("session_id", sess.ID),
		zap.Int("roster", len(roster)),
		zap.Bool("scheduled", creator == nil),
	)

	started := &Started{Group: group, Session: sess, Roster: roster}
	if len(roster) == 0 {
		return started, apperr.ErrEmptyRoster
	}
	return started, nil
}

// AttachPrompt records the delivered prompt message. It succeeds only once
// per session.
func (m *Manager) AttachPrompt(ctx context.Context, sessionID int64, messageID int) error {
	if err := m.store.SetSessionPrompt(ctx, sessionID, messageID); err != nil {
		return fmt.Errorf("attach prompt to session %d: %w", sessionID, err)
	}
	return nil
}

func (m *Manager) Latest(ctx context.Context, groupID int64) (*models.Session, error) {
	return m.store.LatestSession(ctx, groupID)
}

// ByID returns the session only if it belongs to groupID.
func (m *Manager) ByID(ctx context.Context, groupID, id int64) (*models.Session, error) {
	return m.store.SessionInGroup(ctx, groupID, id)
}

// Resolve interprets a report/export argument: "latest" or a session id.
func (m *Manager) Resolve(ctx context.Context, groupID int64, arg string) (*models.Session, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case arg == "":
		return nil, apperr.Invalid("expected `latest` or a session id")
	case strings.EqualFold(arg, "latest"):
		return m.Latest(ctx, groupID)
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.Invalid("invalid session id %q", arg)
	}
	return m.ByID(ctx, groupID, id)
}

func groupTitle(ref GroupRef) string {
	if ref.Title != "" {
		return ref.Title
	}
	return strconv.FormatInt(ref.ChatID, 10)
}

// IsEmptyRoster reports whether err signals a session without members.
func IsEmptyRoster(err error) bool {
	return errors.Is(err, apperr.ErrEmptyRoster)
}
