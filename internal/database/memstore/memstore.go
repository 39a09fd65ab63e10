// Package memstore is an in-memory database.Store with the same uniqueness
// and ordering rules as the Postgres schema.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/database"
	"attendance-bot/internal/models"
)

type recordKey struct {
	sessionID, memberID int64
}

type memberKey struct {
	groupID, externalID int64
}

type jobKey struct {
	groupID int64
	name    string
}

type Store struct {
	mu     sync.Mutex
	nextID int64

	groups       map[int64]*models.Group // by id
	groupsByChat map[int64]int64
	members      map[int64]*models.Member
	membersByKey map[memberKey]int64
	sessions     map[int64]*models.Session
	records      map[recordKey]*models.AttendanceRecord
	jobs         map[jobKey]*models.ScheduledJob
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		groups:       make(map[int64]*models.Group),
		groupsByChat: make(map[int64]int64),
		members:      make(map[int64]*models.Member),
		membersByKey: make(map[memberKey]int64),
		sessions:     make(map[int64]*models.Session),
		records:      make(map[recordKey]*models.AttendanceRecord),
		jobs:         make(map[jobKey]*models.ScheduledJob),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) EnsureGroup(_ context.Context, chatID int64, title string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.groupsByChat[chatID]; ok {
		g := *s.groups[id]
		return &g, nil
	}
	g := &models.Group{ID: s.id(), ChatID: chatID, Title: title, CreatedAt: time.Now().UTC()}
	s.groups[g.ID] = g
	s.groupsByChat[chatID] = g.ID
	out := *g
	return &out, nil
}

func (s *Store) GroupByChatID(_ context.Context, chatID int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.groupsByChat[chatID]
	if !ok {
		return nil, apperr.ErrGroupNotFound
	}
	g := *s.groups[id]
	return &g, nil
}

func (s *Store) GroupByID(_ context.Context, id int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, apperr.ErrGroupNotFound
	}
	out := *g
	return &out, nil
}

func (s *Store) UpsertMember(_ context.Context, groupID, externalID int64, name string, role models.MemberRole) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, apperr.ErrGroupNotFound
	}
	if !role.Valid() {
		return nil, apperr.Invalid("unknown role %q", role)
	}

	now := time.Now().UTC()
	key := memberKey{groupID, externalID}
	if id, ok := s.membersByKey[key]; ok {
		m := s.members[id]
		m.DisplayName = name
		m.Role = role
		m.Active = true
		m.UpdatedAt = now
		out := *m
		return &out, nil
	}

	m := &models.Member{
		ID: s.id(), GroupID: groupID, ExternalID: externalID, DisplayName: name,
		Role: role, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	s.members[m.ID] = m
	s.membersByKey[key] = m.ID
	out := *m
	return &out, nil
}

func (s *Store) MemberByID(_ context.Context, id int64) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[id]
	if !ok {
		return nil, apperr.ErrMemberNotFound
	}
	out := *m
	return &out, nil
}

func (s *Store) ActiveMemberByExternalID(_ context.Context, groupID, externalID int64) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeMember(groupID, externalID)
	if m == nil {
		return nil, apperr.ErrMemberNotFound
	}
	out := *m
	return &out, nil
}

func (s *Store) activeMember(groupID, externalID int64) *models.Member {
	id, ok := s.membersByKey[memberKey{groupID, externalID}]
	if !ok || !s.members[id].Active {
		return nil
	}
	return s.members[id]
}

func (s *Store) SetMemberRole(_ context.Context, groupID, externalID int64, role models.MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeMember(groupID, externalID)
	if m == nil {
		return apperr.ErrMemberNotFound
	}
	m.Role = role
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeactivateMember(_ context.Context, groupID, externalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeMember(groupID, externalID)
	if m == nil {
		return apperr.ErrMemberNotFound
	}
	m.Active = false
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListActiveMembers(_ context.Context, groupID int64) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Member
	for _, m := range s.members {
		if m.GroupID == groupID && m.Active {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, in models.Session) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[in.GroupID]; !ok {
		return nil, fmt.Errorf("failed to create session: %w", apperr.ErrGroupNotFound)
	}
	y, mth, d := in.SessionDate.Date()
	sess := &models.Session{
		ID:          s.id(),
		GroupID:     in.GroupID,
		Title:       in.Title,
		SessionDate: time.Date(y, mth, d, 0, 0, 0, 0, time.UTC),
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

func (s *Store) SetSessionPrompt(_ context.Context, sessionID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	if sess.PromptMessageID != nil {
		return apperr.ErrPromptAlreadySet
	}
	sess.PromptMessageID = &messageID
	return nil
}

func (s *Store) SessionByID(_ context.Context, id int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

func (s *Store) SessionInGroup(_ context.Context, groupID, id int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.GroupID != groupID {
		return nil, apperr.ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

func (s *Store) LatestSession(_ context.Context, groupID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Session
	for _, sess := range s.sessions {
		if sess.GroupID == groupID && (latest == nil || sess.ID > latest.ID) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, apperr.ErrSessionNotFound
	}
	out := *latest
	return &out, nil
}

func (s *Store) UpsertRecord(_ context.Context, sessionID, memberID int64, status models.Status, at time.Time) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("failed to record attendance: %w", apperr.ErrSessionNotFound)
	}
	if _, ok := s.members[memberID]; !ok {
		return nil, fmt.Errorf("failed to record attendance: %w", apperr.ErrMemberNotFound)
	}
	if !status.Valid() {
		return nil, apperr.Invalid("unknown status %q", status)
	}

	key := recordKey{sessionID, memberID}
	if r, ok := s.records[key]; ok {
		r.Status = status
		if at.After(r.MarkedAt) {
			r.MarkedAt = at
		}
		out := *r
		return &out, nil
	}

	r := &models.AttendanceRecord{ID: s.id(), SessionID: sessionID, MemberID: memberID, Status: status, MarkedAt: at}
	s.records[key] = r
	out := *r
	return &out, nil
}

func (s *Store) SessionRecords(_ context.Context, sessionID int64) ([]models.RecordRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.RecordRow
	for key, r := range s.records {
		if key.sessionID != sessionID {
			continue
		}
		m := s.members[key.memberID]
		rows = append(rows, models.RecordRow{
			MemberID: m.ID, DisplayName: m.DisplayName, Status: r.Status, MarkedAt: r.MarkedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DisplayName != rows[j].DisplayName {
			return rows[i].DisplayName < rows[j].DisplayName
		}
		return rows[i].MemberID < rows[j].MemberID
	})
	return rows, nil
}

// RecordCount reports how many attendance rows exist for the session.
func (s *Store) RecordCount(sessionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.records {
		if key.sessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Store) SaveScheduledJob(_ context.Context, job models.ScheduledJob) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[job.GroupID]
	if !ok {
		return nil, fmt.Errorf("failed to save scheduled job: %w", apperr.ErrGroupNotFound)
	}

	now := time.Now().UTC()
	key := jobKey{job.GroupID, job.JobName}
	if existing, ok := s.jobs[key]; ok {
		existing.DayOfWeek = job.DayOfWeek
		existing.Hour = job.Hour
		existing.Minute = job.Minute
		existing.UpdatedAt = now
		out := *existing
		return &out, nil
	}

	job.ID = s.id()
	job.ChatID = g.ChatID
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := job
	s.jobs[key] = &stored
	return &job, nil
}

func (s *Store) DeleteScheduledJob(_ context.Context, groupID int64, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{groupID, jobName}
	if _, ok := s.jobs[key]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.jobs, key)
	return nil
}

func (s *Store) ListScheduledJobs(_ context.Context) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.listJobs(func(*models.ScheduledJob) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListGroupScheduledJobs(_ context.Context, groupID int64) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.listJobs(func(j *models.ScheduledJob) bool { return j.GroupID == groupID })
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out, nil
}

func (s *Store) listJobs(keep func(*models.ScheduledJob) bool) []models.ScheduledJob {
	var out []models.ScheduledJob
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, *j)
		}
	}
	return out
}
