package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/models"
	"attendance-bot/internal/scheduler"
	"attendance-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// requireAdmin resolves the chat's group and checks that the sender is one
// of its admins. action completes "Only group admins can ...".
func (h *Handler) requireAdmin(ctx context.Context, message *tgbotapi.Message, action string) (*models.Group, bool) {
	group, ok := h.registeredGroup(ctx, message)
	if !ok {
		return nil, false
	}

	_, err := h.auth.RequireAdmin(ctx, group.ID, message.From.ID)
	if errors.Is(err, apperr.ErrUnauthorized) {
		h.reply(message, fmt.Sprintf("Only group admins can %s.", action))
		return nil, false
	}
	if err != nil {
		h.replyError(message, action, err)
		return nil, false
	}
	return group, true
}

// parseExternalID reads a numeric Telegram id argument.
func parseExternalID(arg string) (int64, error) {
	if strings.HasPrefix(arg, "@") {
		return 0, apperr.Invalid("please provide the user's numeric Telegram id instead of @username, or ask them to /register")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("couldn't parse telegram id %q", arg)
	}
	return id, nil
}

func (h *Handler) handleAddMember(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.requireAdmin(ctx, message, "add members")
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) < 2 {
		h.reply(message, "Usage: /add_member <telegram_id> <full name>")
		return
	}

	id, err := parseExternalID(args[0])
	if err != nil {
		h.replyError(message, "add_member", err)
		return
	}

	in := memberArgs{ExternalID: id, DisplayName: strings.Join(args[1:], " ")}
	if err := h.validate.Struct(in); err != nil {
		h.reply(message, "Please provide a name of at most 128 characters.")
		return
	}

	role, err := h.roleFor(ctx, group.ID, in.ExternalID)
	if err != nil {
		h.replyError(message, "add_member", err)
		return
	}
	if _, err := h.store.UpsertMember(ctx, group.ID, in.ExternalID, in.DisplayName, role); err != nil {
		h.replyError(message, "add_member", err)
		return
	}

	zap.L().Info("Member added",
		zap.Int64(logger.FieldGroupID, group.ID),
		zap.Int64(logger.FieldUserID, in.ExternalID),
	)
	h.reply(message, fmt.Sprintf("Added %s to the group.", in.DisplayName))
}

func (h *Handler) handlePromote(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.requireAdmin(ctx, message, "promote members")
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) != 1 {
		h.reply(message, "Usage: /promote <telegram_id>")
		return
	}

	id, err := parseExternalID(args[0])
	if err != nil {
		h.replyError(message, "promote", err)
		return
	}

	if err := h.store.SetMemberRole(ctx, group.ID, id, models.RoleAdmin); err != nil {
		h.replyError(message, "promote", err)
		return
	}
	h.reply(message, fmt.Sprintf("Promoted user %d to admin.", id))
}

func (h *Handler) handleRemoveMember(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.requireAdmin(ctx, message, "remove members")
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) != 1 {
		h.reply(message, "Usage: /remove_member <telegram_id>")
		return
	}

	id, err := parseExternalID(args[0])
	if err != nil {
		h.replyError(message, "remove_member", err)
		return
	}

	if err := h.store.DeactivateMember(ctx, group.ID, id); err != nil {
		h.replyError(message, "remove_member", err)
		return
	}
	h.reply(message, fmt.Sprintf("Removed user %d from future rosters.", id))
}

func (h *Handler) handleSchedule(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.requireAdmin(ctx, message, "schedule sessions")
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) < 4 {
		h.reply(message, "Usage: /schedule <day_of_week> <hour> <minute> <job_name>\n"+
			"Example: /schedule sun 9 0 sunday_service")
		return
	}

	spec, err := scheduler.ParseSpec(args[0], args[1], args[2])
	if err != nil {
		h.replyError(message, "schedule", err)
		return
	}

	handle, err := h.scheduler.Arm(ctx, group, spec, args[3])
	if err != nil {
		h.replyError(message, "schedule", err)
		return
	}

	job := handle.Job
	h.reply(message, fmt.Sprintf("Scheduled job %s on %s at %02d:%02d (next run %s)",
		job.JobName, job.DayOfWeek, job.Hour, job.Minute, handle.Next.Format("Mon 2006-01-02 15:04")))
}

func (h *Handler) handleUnschedule(ctx context.Context, message *tgbotapi.Message) {
	group, ok := h.requireAdmin(ctx, message, "unschedule sessions")
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) != 1 {
		h.reply(message, "Usage: /unschedule <job_name>")
		return
	}

	if err := h.scheduler.Disarm(ctx, group, args[0]); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			h.reply(message, fmt.Sprintf("No scheduled job named %s.", args[0]))
			return
		}
		h.replyError(message, "unschedule", err)
		return
	}
	h.reply(message, fmt.Sprintf("Removed scheduled job %s.", args[0]))
}
