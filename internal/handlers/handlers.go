package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/auth"
	"attendance-bot/internal/bot"
	"attendance-bot/internal/database"
	"attendance-bot/internal/marking"
	"attendance-bot/internal/metrics"
	"attendance-bot/internal/models"
	"attendance-bot/internal/report"
	"attendance-bot/internal/scheduler"
	"attendance-bot/internal/session"
	"attendance-bot/pkg/logger"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const helpText = "Commands:\n" +
	"/register [full name] - register yourself for attendance\n" +
	"/add_member <telegram_id> <full name> - add a member (admin only)\n" +
	"/promote <telegram_id> - promote a member to admin (admin only)\n" +
	"/remove_member <telegram_id> - remove a member from new rosters (admin only)\n" +
	"/attendance [title] - post the roster with buttons\n" +
	"/report latest|<session_id> - counts by status\n" +
	"/export latest|<session_id> - download the records as CSV\n" +
	"/schedule <day_of_week> <hour> <minute> <job_name> - recurring attendance (admin only)\n" +
	"/unschedule <job_name> - stop a recurring attendance (admin only)\n" +
	"/schedules - list recurring attendances"

const emptyRosterText = "No members registered yet. Members should run /register or admins can add them."

// Deps wires the handler to the services it drives.
type Deps struct {
	Bot       *bot.Bot
	Store     database.Store
	Auth      *auth.Service
	Sessions  *session.Manager
	Marking   *marking.Protocol
	Scheduler *scheduler.Scheduler
}

type Handler struct {
	bot       *bot.Bot
	store     database.Store
	auth      *auth.Service
	sessions  *session.Manager
	marking   *marking.Protocol
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
}

func New(d Deps) *Handler {
	return &Handler{
		bot:       d.Bot,
		store:     d.Store,
		auth:      d.Auth,
		sessions:  d.Sessions,
		marking:   d.Marking,
		scheduler: d.Scheduler,
		validate:  validator.New(),
	}
}

// memberArgs are the validated arguments of /register and /add_member.
type memberArgs struct {
	ExternalID  int64  `validate:"required,gt=0"`
	DisplayName string `validate:"required,max=128"`
}

func (h *Handler) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}

	if len(message.NewChatMembers) > 0 {
		h.handleJoin(ctx, message)
	}

	if !message.IsCommand() {
		return
	}

	cmd := message.Command()
	if cmd == "help" {
		h.reply(message, helpText)
		return
	}

	if !isGroupChat(message.Chat) {
		if cmd == "start" {
			h.reply(message, "Use me inside a group where you manage attendance.")
		} else {
			h.reply(message, "This command must be used in a group chat.")
		}
		return
	}

	switch cmd {
	case "start":
		h.handleStart(ctx, message)
	case "register":
		h.handleRegister(ctx, message)
	case "add_member":
		h.handleAddMember(ctx, message)
	case "promote":
		h.handlePromote(ctx, message)
	case "remove_member":
		h.handleRemoveMember(ctx, message)
	case "attendance":
		h.handleAttendance(ctx, message)
	case "report":
		h.handleReport(ctx, message)
	case "export":
		h.handleExport(ctx, message)
	case "schedule":
		h.handleSchedule(ctx, message)
	case "unschedule":
		h.handleUnschedule(ctx, message)
	case "schedules":
		h.handleSchedules(ctx, message)
	}
}

// handleJoin registers the group as soon as the bot is added to it.
func (h *Handler) handleJoin(ctx context.Context, message *tgbotapi.Message) {
	for _, member := range message.NewChatMembers {
		if member.ID != h.bot.Self.ID {
			continue
		}
		if _, err := h.store.EnsureGroup(ctx, message.Chat.ID, message.Chat.Title); err != nil {
			zap.L().Error("Error creating group", zap.Error(err), zap.Int64(logger.FieldChatID, message.Chat.ID))
			return
		}
		h.send(message.Chat.ID, "Hello! I'm the attendance bot. Run /start here to get going, or /help for the list of commands.")
		return
	}
}

func (h *Handler) handleStart(ctx context.Context, message *tgbotapi.Message) {
	group, err := h.store.EnsureGroup(ctx, message.Chat.ID, message.Chat.Title)
	if err != nil {
		h.replyError(message, "start", err)
		return
	}

	isAdmin, err := h.bot.IsChatAdmin(message.Chat.ID, message.From.ID)
	if err != nil {
		zap.L().Warn("Could not read chat administrators", zap.Error(err), zap.Int64(logger.FieldChatID, message.Chat.ID))
	}
	if isAdmin {
		existing, err := h.auth.Actor(ctx, group.ID, message.From.ID)
		if err != nil {
			h.replyError(message, "start", err)
			return
		}
		// A name chosen with /register wins over the Telegram name.
		name := fullName(message.From)
		if existing != nil {
			name = existing.DisplayName
		}
		if _, err := h.store.UpsertMember(ctx, group.ID, message.From.ID, name, models.RoleAdmin); err != nil {
			h.replyError(message, "start", err)
			return
		}
		zap.L().Info("Chat administrator registered as admin",
			zap.Int64(logger.FieldGroupID, group.ID),
			zap.Int64(logger.FieldUserID, message.From.ID),
		)
	}

	h.reply(message, "Hello! I'm the attendance bot. Members should register using /register <full name>. "+
		"Admins can add members with /add_member <telegram_id> <full name>.")
}

func (h *Handler) handleRegister(ctx context.Context, message *tgbotapi.Message) {
	group, err := h.store.EnsureGroup(ctx, message.Chat.ID, message.Chat.Title)
	if err != nil {
		h.replyError(message, "register", err)
		return
	}

	args := memberArgs{ExternalID: message.From.ID, DisplayName: strings.TrimSpace(message.CommandArguments())}
	if args.DisplayName == "" {
		args.DisplayName = fullName(message.From)
	}
	if err := h.validate.Struct(args); err != nil {
		h.reply(message, "Please provide a name of at most 128 characters.")
		return
	}

	role, err := h.roleFor(ctx, group.ID, args.ExternalID)
	if err != nil {
		h.replyError(message, "register", err)
		return
	}
	if _, err := h.store.UpsertMember(ctx, group.ID, args.ExternalID, args.DisplayName, role); err != nil {
		h.replyError(message, "register", err)
		return
	}

	h.reply(message, fmt.Sprintf("Registered %s for attendance.", args.DisplayName))
}

func (h *Handler) handleAttendance(ctx context.Context, message *tgbotapi.Message) {
	if _, ok := h.registeredGroup(ctx, message); !ok {
		return
	}

	creator := message.From.ID
	ref := session.GroupRef{ChatID: message.Chat.ID, Title: message.Chat.Title}
	if err := h.postSession(ctx, ref, message.CommandArguments(), &creator, "manual"); err != nil {
		h.replyError(message, "attendance", err)
	}
}

// HandleFire posts the session of a scheduler tick. It follows the same path
// as /attendance with no creator.
func (h *Handler) HandleFire(ctx context.Context, f scheduler.Fire) {
	zap.L().Info("Scheduler firing job",
		zap.String(logger.FieldJob, f.JobName),
		zap.Int64(logger.FieldGroupID, f.GroupID),
		zap.Int64(logger.FieldChatID, f.ChatID),
	)

	ref := session.GroupRef{ChatID: f.ChatID}
	if err := h.postSession(ctx, ref, h.sessions.ScheduledTitle(f.At), nil, "scheduled"); err != nil {
		zap.L().Error("Error posting scheduled attendance", zap.Error(err), zap.String(logger.FieldJob, f.JobName))
	}
}

// postSession starts a session and posts its roster prompt. Empty rosters
// produce a notice instead of a prompt.
func (h *Handler) postSession(ctx context.Context, ref session.GroupRef, title string, creator *int64, trigger string) error {
	started, err := h.sessions.StartSession(ctx, ref, title, creator)
	if session.IsEmptyRoster(err) {
		metrics.SessionsStarted.WithLabelValues(trigger).Inc()
		h.send(ref.ChatID, emptyRosterText)
		return nil
	}
	if err != nil {
		return err
	}
	metrics.SessionsStarted.WithLabelValues(trigger).Inc()

	sess := started.Session
	keyboard, err := bot.RosterKeyboard(sess.ID, started.Roster)
	if err != nil {
		return fmt.Errorf("build roster keyboard: %w", err)
	}

	text := fmt.Sprintf("Attendance started: %s\nClick your name to mark attendance.", sess.Title)
	if creator == nil {
		text = fmt.Sprintf("Attendance time! Click your name to mark attendance for %s\n"+
			"(After clicking your name choose Present, Late or Absent)", sess.DateString())
	}

	msg, err := h.bot.SendMessage(ref.ChatID, text, keyboard)
	if err != nil {
		return fmt.Errorf("send session prompt: %w", err)
	}

	if err := h.sessions.AttachPrompt(ctx, sess.ID, msg.MessageID); err != nil {
		zap.L().Error("Error attaching prompt", zap.Error(err), zap.Int64(logger.FieldSessionID, sess.ID))
	}
	return nil
}

func (h *Handler) handleReport(ctx context.Context, message *tgbotapi.Message) {
	sess, records, ok := h.sessionRecords(ctx, message, "report")
	if !ok {
		return
	}
	h.reply(message, report.Text(sess, report.Summarize(records)))
}

func (h *Handler) handleExport(ctx context.Context, message *tgbotapi.Message) {
	sess, records, ok := h.sessionRecords(ctx, message, "export")
	if !ok {
		return
	}

	data, err := report.CSV(records)
	if err != nil {
		h.replyError(message, "export", err)
		return
	}
	if err := h.bot.SendDocument(message.Chat.ID, report.FileName(sess.ID), data, sess.Title); err != nil {
		zap.L().Error("Error sending export", zap.Error(err), zap.Int64(logger.FieldSessionID, sess.ID))
	}
}

// sessionRecords resolves the latest|<id> argument shared by /report and
// /export.
func (h *Handler) sessionRecords(ctx context.Context, message *tgbotapi.Message, cmd string) (*models.Session, []models.RecordRow, bool) {
	group, ok := h.registeredGroup(ctx, message)
	if !ok {
		return nil, nil, false
	}

	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		h.reply(message, fmt.Sprintf("Usage: /%s latest OR /%s <session_id>", cmd, cmd))
		return nil, nil, false
	}

	sess, err := h.sessions.Resolve(ctx, group.ID, strings.Fields(arg)[0])
	if err != nil {
		h.replyError(message, cmd, err)
		return nil, nil, false
	}

	records, err := h.store.SessionRecords(ctx, sess.ID)
	if err != nil {
		h.replyError(message, cmd, err)
		return nil, nil, false
	}
	return sess, records, true
}

func (h *Handler) handleSchedules(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.registeredGroup(ctx, message)
	if !ok {
		return
	}

	jobs, err := h.store.ListGroupScheduledJobs(ctx, group.ID)
	if err != nil {
		h.replyError(message, "schedules", err)
		return
	}
	if len(jobs) == 0 {
		h.reply(message, "No scheduled attendance.")
		return
	}

	var b strings.Builder
	b.WriteString("Scheduled attendance:")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n%s: %s at %02d:%02d", j.JobName, j.DayOfWeek, j.Hour, j.Minute)
	}
	h.reply(message, b.String())
}

// registeredGroup looks up the chat's group and tells the user when it has
// not been started yet.
func (h *Handler) registeredGroup(ctx context.Context, message *tgbotapi.Message) (*models.Group, bool) {
	group, err := h.store.GroupByChatID(ctx, message.Chat.ID)
	if err != nil {
		h.replyError(message, "group lookup", err)
		return nil, false
	}
	return group, true
}

// roleFor keeps an active admin's role when they register again.
func (h *Handler) roleFor(ctx context.Context, groupID, externalID int64) (models.MemberRole, error) {
	existing, err := h.auth.Actor(ctx, groupID, externalID)
	if err != nil {
		return "", err
	}
	if existing.IsAdmin() {
		return models.RoleAdmin, nil
	}
	return models.RoleMember, nil
}

func (h *Handler) reply(message *tgbotapi.Message, text string) {
	if _, err := h.bot.Reply(message, text); err != nil {
		zap.L().Error("Error sending reply", zap.Error(err), zap.Int64(logger.FieldChatID, message.Chat.ID))
	}
}

func (h *Handler) send(chatID int64, text string) {
	if _, err := h.bot.SendMessage(chatID, text, nil); err != nil {
		zap.L().Error("Error sending message", zap.Error(err), zap.Int64(logger.FieldChatID, chatID))
	}
}

// replyError shows the user-facing notice for err. Only unexpected errors
// are logged.
func (h *Handler) replyError(message *tgbotapi.Message, op string, err error) {
	if !expected(err) {
		zap.L().Error("Command failed",
			zap.String(logger.FieldOperation, op),
			zap.Error(err),
			zap.Int64(logger.FieldChatID, message.Chat.ID),
			zap.Int64(logger.FieldUserID, message.From.ID),
		)
	}
	h.reply(message, apperr.UserMessage(err))
}

func expected(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrUnauthorized) ||
		errors.Is(err, apperr.ErrInvalidInput) ||
		errors.Is(err, apperr.ErrEmptyRoster)
}

func isGroupChat(chat *tgbotapi.Chat) bool {
	return chat.IsGroup() || chat.IsSuperGroup()
}

func fullName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case name != "":
		return name
	case u.UserName != "":
		return u.UserName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}
