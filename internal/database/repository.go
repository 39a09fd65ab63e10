package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/models"

	"github.com/lib/pq"
)

const (
	pqForeignKeyViolation = "23503"

	memberColumns  = `id, group_id, external_id, display_name, role, active, created_at, updated_at`
	sessionColumns = `id, group_id, title, session_date, created_by, prompt_message_id, created_at`
	jobColumns     = `j.id, j.group_id, g.chat_id, j.job_name, j.day_of_week, j.hour, j.minute, j.created_at, j.updated_at`
)

type scanner interface {
	Scan(dest ...any) error
}

// notFound maps sql.ErrNoRows onto the given apperr kind.
func notFound(err error, kind error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return kind
	}
	return err
}

// Group operations
func (db *DB) EnsureGroup(ctx context.Context, chatID int64, title string) (*models.Group, error) {
	var group models.Group

	// The no-op update makes RETURNING yield the existing row on conflict.
	err := db.QueryRowContext(ctx, `
		INSERT INTO groups (chat_id, title)
		VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE
		SET chat_id = EXCLUDED.chat_id
		RETURNING id, chat_id, title, created_at
	`, chatID, title).Scan(&group.ID, &group.ChatID, &group.Title, &group.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to ensure group: %w", err)
	}

	return &group, nil
}

func (db *DB) GroupByChatID(ctx context.Context, chatID int64) (*models.Group, error) {
	var group models.Group

	err := db.QueryRowContext(ctx, `
		SELECT id, chat_id, title, created_at
		FROM groups
		WHERE chat_id = $1
	`, chatID).Scan(&group.ID, &group.ChatID, &group.Title, &group.CreatedAt)

	if err != nil {
		return nil, notFound(err, apperr.ErrGroupNotFound)
	}

	return &group, nil
}

func (db *DB) GroupByID(ctx context.Context, id int64) (*models.Group, error) {
	var group models.Group

	err := db.QueryRowContext(ctx, `
		SELECT id, chat_id, title, created_at
		FROM groups
		WHERE id = $1
	`, id).Scan(&group.ID, &group.ChatID, &group.Title, &group.CreatedAt)

	if err != nil {
		return nil, notFound(err, apperr.ErrGroupNotFound)
	}

	return &group, nil
}

// Member operations
func scanMember(row scanner) (*models.Member, error) {
	var m models.Member
	err := row.Scan(
		&m.ID, &m.GroupID, &m.ExternalID, &m.DisplayName,
		&m.Role, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) UpsertMember(ctx context.Context, groupID, externalID int64, name string, role models.MemberRole) (*models.Member, error) {
	m, err := scanMember(db.QueryRowContext(ctx, `
		INSERT INTO members (group_id, external_id, display_name, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (group_id, external_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role,
		    active = TRUE,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING `+memberColumns,
		groupID, externalID, name, role,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert member: %w", err)
	}

	return m, nil
}

func (db *DB) MemberByID(ctx context.Context, id int64) (*models.Member, error) {
	m, err := scanMember(db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrMemberNotFound)
	}
	return m, nil
}

func (db *DB) ActiveMemberByExternalID(ctx context.Context, groupID, externalID int64) (*models.Member, error) {
	m, err := scanMember(db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE group_id = $1 AND external_id = $2 AND active
	`, groupID, externalID))
	if err != nil {
		return nil, notFound(err, apperr.ErrMemberNotFound)
	}
	return m, nil
}

func (db *DB) SetMemberRole(ctx context.Context, groupID, externalID int64, role models.MemberRole) error {
	res, err := db.ExecContext(ctx, `
		UPDATE members
		SET role = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE group_id = $2 AND external_id = $3 AND active
	`, role, groupID, externalID)

	return affectedOne(res, err, apperr.ErrMemberNotFound)
}

func (db *DB) DeactivateMember(ctx context.Context, groupID, externalID int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE members
		SET active = FALSE,
		    updated_at = CURRENT_TIMESTAMP
		WHERE group_id = $1 AND external_id = $2 AND active
	`, groupID, externalID)

	return affectedOne(res, err, apperr.ErrMemberNotFound)
}

func (db *DB) ListActiveMembers(ctx context.Context, groupID int64) ([]models.Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE group_id = $1 AND active
		ORDER BY display_name, id
	`, groupID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}

	return members, rows.Err()
}

// Session operations
func scanSession(row scanner) (*models.Session, error) {
	var (
		s         models.Session
		createdBy sql.NullInt64
		promptID  sql.NullInt32
	)
	err := row.Scan(&s.ID, &s.GroupID, &s.Title, &s.SessionDate, &createdBy, &promptID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		s.CreatedBy = &createdBy.Int64
	}
	if promptID.Valid {
		id := int(promptID.Int32)
		s.PromptMessageID = &id
	}
	return &s, nil
}

func (db *DB) CreateSession(ctx context.Context, s models.Session) (*models.Session, error) {
	created, err := scanSession(db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (group_id, title, session_date, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns,
		s.GroupID, s.Title, s.SessionDate.Format(models.DateLayout), s.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", mapPQ(err, apperr.ErrGroupNotFound))
	}
	return created, nil
}

func (db *DB) SetSessionPrompt(ctx context.Context, sessionID int64, messageID int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET prompt_message_id = $1
		WHERE id = $2 AND prompt_message_id IS NULL
	`, messageID, sessionID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing session from one whose prompt is already set.
	if _, err := db.SessionByID(ctx, sessionID); err != nil {
		return err
	}
	return apperr.ErrPromptAlreadySet
}

func (db *DB) SessionByID(ctx context.Context, id int64) (*models.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrSessionNotFound)
	}
	return s, nil
}

func (db *DB) SessionInGroup(ctx context.Context, groupID, id int64) (*models.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE id = $1 AND group_id = $2
	`, id, groupID))
	if err != nil {
		return nil, notFound(err, apperr.ErrSessionNotFound)
	}
	return s, nil
}

func (db *DB) LatestSession(ctx context.Context, groupID int64) (*models.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE group_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, groupID))
	if err != nil {
		return nil, notFound(err, apperr.ErrSessionNotFound)
	}
	return s, nil
}

// Attendance operations
func (db *DB) UpsertRecord(ctx context.Context, sessionID, memberID int64, status models.Status, at time.Time) (*models.AttendanceRecord, error) {
	var r models.AttendanceRecord

	err := db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (session_id, member_id, status, marked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, member_id) DO UPDATE
		SET status = EXCLUDED.status,
		    marked_at = GREATEST(attendance_records.marked_at, EXCLUDED.marked_at)
		RETURNING id, session_id, member_id, status, marked_at
	`, sessionID, memberID, status, at).Scan(
		&r.ID, &r.SessionID, &r.MemberID, &r.Status, &r.MarkedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to record attendance: %w", mapPQ(err, apperr.ErrNotFound))
	}

	return &r, nil
}

func (db *DB) SessionRecords(ctx context.Context, sessionID int64) ([]models.RecordRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.member_id, m.display_name, r.status, r.marked_at
		FROM attendance_records r
		JOIN members m ON m.id = r.member_id
		WHERE r.session_id = $1
		ORDER BY m.display_name, m.id
	`, sessionID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RecordRow
	for rows.Next() {
		var r models.RecordRow
		if err := rows.Scan(&r.MemberID, &r.DisplayName, &r.Status, &r.MarkedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Scheduled job operations
func (db *DB) SaveScheduledJob(ctx context.Context, job models.ScheduledJob) (*models.ScheduledJob, error) {
	err := db.QueryRowContext(ctx, `
		INSERT INTO scheduled_jobs (group_id, job_name, day_of_week, hour, minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, job_name) DO UPDATE
		SET day_of_week = EXCLUDED.day_of_week,
		    hour = EXCLUDED.hour,
		    minute = EXCLUDED.minute,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at
	`, job.GroupID, job.JobName, job.DayOfWeek, job.Hour, job.Minute).Scan(
		&job.ID, &job.CreatedAt, &job.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to save scheduled job: %w", mapPQ(err, apperr.ErrGroupNotFound))
	}

	return &job, nil
}

func (db *DB) DeleteScheduledJob(ctx context.Context, groupID int64, jobName string) error {
	res, err := db.ExecContext(ctx, `
		DELETE FROM scheduled_jobs WHERE group_id = $1 AND job_name = $2
	`, groupID, jobName)

	return affectedOne(res, err, apperr.ErrNotFound)
}

func (db *DB) ListScheduledJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	return db.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs j
		JOIN groups g ON g.id = j.group_id
		ORDER BY j.id
	`)
}

func (db *DB) ListGroupScheduledJobs(ctx context.Context, groupID int64) ([]models.ScheduledJob, error) {
	return db.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs j
		JOIN groups g ON g.id = j.group_id
		WHERE j.group_id = $1
		ORDER BY j.job_name
	`, groupID)
}

func (db *DB) queryJobs(ctx context.Context, query string, args ...any) ([]models.ScheduledJob, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		var j models.ScheduledJob
		err := rows.Scan(
			&j.ID, &j.GroupID, &j.ChatID, &j.JobName, &j.DayOfWeek,
			&j.Hour, &j.Minute, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

func affectedOne(res sql.Result, err error, kind error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return kind
	}
	return nil
}

// mapPQ turns a foreign key violation into kind; a dangling reference means
// the referenced row does not exist.
func mapPQ(err error, kind error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return fmt.Errorf("%w: %s", kind, pqErr.Constraint)
	}
	return err
}
