// Package scheduler arms recurring attendance prompts. The cron goroutine
// never posts anything itself: every tick is handed to the processing loop
// through the Fires channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/database"
	"attendance-bot/internal/metrics"
	"attendance-bot/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const fireBuffer = 32

// Spec is a weekly recurrence. DayOfWeek accepts names (mon..sun),
// numbers (0 = Monday through 6 = Sunday), ranges, lists or "*".
type Spec struct {
	DayOfWeek string `validate:"required,max=32"`
	Hour      int    `validate:"min=0,max=23"`
	Minute    int    `validate:"min=0,max=59"`
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.DayOfWeek, s.Hour, s.Minute)
}

func (s Spec) cronExpr() (string, error) {
	dow, err := cronWeekdays(s.DayOfWeek)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow), nil
}

type armRequest struct {
	JobName string `validate:"required,max=64"`
	Spec    Spec
}

// Key identifies a live trigger; one entry exists per key.
type Key struct {
	GroupID int64
	JobName string
}

// Fire is emitted on every tick of an armed job.
type Fire struct {
	GroupID int64
	ChatID  int64
	JobName string
	At      time.Time
}

type JobHandle struct {
	Key     Key
	Job     models.ScheduledJob
	EntryID cron.EntryID
	Next    time.Time
}

type Scheduler struct {
	store    database.Store
	cron     *cron.Cron
	parser   cron.Parser
	validate *validator.Validate
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[Key]cron.EntryID

	fires chan Fire
	done  chan struct{}
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(store database.Store, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:    store,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		validate: validator.New(),
		loc:      time.UTC,
		now:      time.Now,
		logger:   logger,
		entries:  make(map[Key]cron.EntryID),
		fires:    make(chan Fire, fireBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// Fires delivers ticks to the processing loop.
func (s *Scheduler) Fires() <-chan Fire {
	return s.fires
}

// ParseSpec builds a Spec from the /schedule arguments.
func ParseSpec(dayOfWeek, hour, minute string) (Spec, error) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: hour must be an integer", apperr.ErrInvalidSchedule)
	}
	m, err := strconv.Atoi(minute)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: minute must be an integer", apperr.ErrInvalidSchedule)
	}
	return Spec{DayOfWeek: dayOfWeek, Hour: h, Minute: m}, nil
}

// Normalize lowercases the day-of-week field and maps "daily" to "*".
func (s Spec) Normalize() Spec {
	s.DayOfWeek = strings.ToLower(strings.TrimSpace(s.DayOfWeek))
	if s.DayOfWeek == "daily" {
		s.DayOfWeek = "*"
	}
	return s
}

// check validates the request and returns the parsed cron schedule.
func (s *Scheduler) check(jobName string, spec Spec) (cron.Schedule, error) {
	if err := s.validate.Struct(armRequest{JobName: jobName, Spec: spec}); err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidSchedule, describe(err))
	}
	if strings.ContainsAny(jobName, " \t\n:") {
		return nil, fmt.Errorf("%w: job name must not contain spaces or colons", apperr.ErrInvalidSchedule)
	}

	expr, err := spec.cronExpr()
	if err != nil {
		return nil, fmt.Errorf("%w: bad day of week %q", apperr.ErrInvalidSchedule, spec.DayOfWeek)
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad day of week %q", apperr.ErrInvalidSchedule, spec.DayOfWeek)
	}
	return sched, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Hour":
			msgs = append(msgs, "hour must be between 0 and 23")
		case "Minute":
			msgs = append(msgs, "minute must be between 0 and 59")
		case "DayOfWeek":
			msgs = append(msgs, "day of week is required")
		case "JobName":
			msgs = append(msgs, "job name is required (max 64 characters)")
		default:
			msgs = append(msgs, fe.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

// Arm validates and persists the job, then registers its trigger. Arming an
// existing (group, job name) replaces the previous trigger.
func (s *Scheduler) Arm(ctx context.Context, group *models.Group, spec Spec, jobName string) (*JobHandle, error) {
	spec = spec.Normalize()
	jobName = strings.TrimSpace(jobName)

	sched, err := s.check(jobName, spec)
	if err != nil {
		return nil, err
	}

	job, err := s.store.SaveScheduledJob(ctx, models.ScheduledJob{
		GroupID:   group.ID,
		ChatID:    group.ChatID,
		JobName:   jobName,
		DayOfWeek: spec.DayOfWeek,
		Hour:      spec.Hour,
		Minute:    spec.Minute,
	})
	if err != nil {
		return nil, err
	}
	job.ChatID = group.ChatID

	key := Key{GroupID: group.ID, JobName: jobName}
	id := s.register(key, job.ChatID, sched)

	s.logger.Info("Job armed",
		zap.Int64("group_id", group.ID),
		zap.String("job", jobName),
		zap.String("spec", spec.String()),
	)

	return &JobHandle{Key: key, Job: *job, EntryID: id, Next: sched.Next(s.now().In(s.loc))}, nil
}

// Disarm removes the persisted job and its trigger.
func (s *Scheduler) Disarm(ctx context.Context, group *models.Group, jobName string) error {
	if err := s.store.DeleteScheduledJob(ctx, group.ID, jobName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{GroupID: group.ID, JobName: jobName}
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
	return nil
}

// Restore re-registers every persisted job. It must run before Run so that
// no tick after startup is missed; ticks that fell while the process was
// down are not replayed.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	jobs, err := s.store.ListScheduledJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled jobs: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		spec := Spec{DayOfWeek: job.DayOfWeek, Hour: job.Hour, Minute: job.Minute}
		sched, err := s.check(job.JobName, spec)
		if err != nil {
			s.logger.Warn("Skipping stored job", zap.Int64("job_id", job.ID), zap.Error(err))
			continue
		}
		s.register(Key{GroupID: job.GroupID, JobName: job.JobName}, job.ChatID, sched)
		restored++
	}

	s.logger.Info("Scheduled jobs restored", zap.Int("count", restored))
	return restored, nil
}

func (s *Scheduler) register(key Key, chatID int64, sched cron.Schedule) cron.EntryID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}

	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(Fire{GroupID: key.GroupID, ChatID: chatID, JobName: key.JobName})
	}))
	s.entries[key] = id
	return id
}

// fire hands the tick over without blocking the cron goroutine.
func (s *Scheduler) fire(f Fire) {
	f.At = s.now()
	metrics.SchedulerFires.Inc()

	select {
	case s.fires <- f:
	default:
		s.logger.Warn("Fire buffer full, handing off asynchronously", zap.String("job", f.JobName))
		go func() {
			select {
			case s.fires <- f:
			case <-s.done:
			}
		}()
	}
}

// Run starts the cron engine and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	close(s.done)
	s.logger.Info("Scheduler stopped")
	return nil
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
