package models

import "time"

type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

func (r MemberRole) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Statuses lists every attendance status in display order.
var Statuses = []Status{StatusPresent, StatusLate, StatusAbsent}

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// Label is the button caption for a status.
func (s Status) Label() string {
	switch s {
	case StatusPresent:
		return "Present"
	case StatusLate:
		return "Late"
	case StatusAbsent:
		return "Absent"
	}
	return string(s)
}

type Group struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

type Member struct {
	ID          int64      `db:"id"`
	GroupID     int64      `db:"group_id"`
	ExternalID  int64      `db:"external_id"`
	DisplayName string     `db:"display_name"`
	Role        MemberRole `db:"role"`
	Active      bool       `db:"active"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (m *Member) IsAdmin() bool {
	return m != nil && m.Role == RoleAdmin
}

type Session struct {
	ID              int64     `db:"id"`
	GroupID         int64     `db:"group_id"`
	Title           string    `db:"title"`
	SessionDate     time.Time `db:"session_date"`
	CreatedBy       *int64    `db:"created_by"`
	PromptMessageID *int      `db:"prompt_message_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// DateString formats the session's calendar date as YYYY-MM-DD.
func (s *Session) DateString() string {
	return s.SessionDate.Format(DateLayout)
}

const DateLayout = "2006-01-02"

type AttendanceRecord struct {
	ID        int64     `db:"id"`
	SessionID int64     `db:"session_id"`
	MemberID  int64     `db:"member_id"`
	Status    Status    `db:"status"`
	MarkedAt  time.Time `db:"marked_at"`
}

// RecordRow is an attendance record joined with the member's display name.
type RecordRow struct {
	MemberID    int64     `db:"member_id"`
	DisplayName string    `db:"display_name"`
	Status      Status    `db:"status"`
	MarkedAt    time.Time `db:"marked_at"`
}

type ScheduledJob struct {
	ID        int64     `db:"id"`
	GroupID   int64     `db:"group_id"`
	ChatID    int64     `db:"chat_id"`
	JobName   string    `db:"job_name"`
	DayOfWeek string    `db:"day_of_week"`
	Hour      int       `db:"hour"`
	Minute    int       `db:"minute"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
