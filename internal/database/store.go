package database

import (
	"context"
	"time"

	"attendance-bot/internal/models"
)

// Store is the persistence contract shared by the Postgres repository and the
// in-memory implementation used in tests. Lookups that find nothing return an
// error matching apperr.ErrNotFound.
type Store interface {
	EnsureGroup(ctx context.Context, chatID int64, title string) (*models.Group, error)
	GroupByChatID(ctx context.Context, chatID int64) (*models.Group, error)
	GroupByID(ctx context.Context, id int64) (*models.Group, error)

	UpsertMember(ctx context.Context, groupID, externalID int64, name string, role models.MemberRole) (*models.Member, error)
	MemberByID(ctx context.Context, id int64) (*models.Member, error)
	ActiveMemberByExternalID(ctx context.Context, groupID, externalID int64) (*models.Member, error)
	SetMemberRole(ctx context.Context, groupID, externalID int64, role models.MemberRole) error
	DeactivateMember(ctx context.Context, groupID, externalID int64) error
	ListActiveMembers(ctx context.Context, groupID int64) ([]models.Member, error)

	CreateSession(ctx context.Context, s models.Session) (*models.Session, error)
	SetSessionPrompt(ctx context.Context, sessionID int64, messageID int) error
	SessionByID(ctx context.Context, id int64) (*models.Session, error)
	SessionInGroup(ctx context.Context, groupID, id int64) (*models.Session, error)
	LatestSession(ctx context.Context, groupID int64) (*models.Session, error)

	UpsertRecord(ctx context.Context, sessionID, memberID int64, status models.Status, at time.Time) (*models.AttendanceRecord, error)
	SessionRecords(ctx context.Context, sessionID int64) ([]models.RecordRow, error)

	SaveScheduledJob(ctx context.Context, job models.ScheduledJob) (*models.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, groupID int64, jobName string) error
	ListScheduledJobs(ctx context.Context) ([]models.ScheduledJob, error)
	ListGroupScheduledJobs(ctx context.Context, groupID int64) ([]models.ScheduledJob, error)
}

var _ Store = (*DB)(nil)
