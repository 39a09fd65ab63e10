package handlers

import (
	"context"
	"errors"
	"fmt"

	"attendance-bot/internal/apperr"
	"attendance-bot/internal/bot"
	"attendance-bot/internal/marking"
	"attendance-bot/internal/metrics"
	"attendance-bot/internal/models"
	"attendance-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func (h *Handler) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.From == nil || !marking.IsToken(callback.Data) {
		h.answer(callback, "")
		return
	}

	actor := marking.Actor{ExternalID: callback.From.ID, DisplayName: fullName(callback.From)}
	out, err := h.marking.Handle(ctx, callback.Data, actor)
	if err != nil {
		h.rejectCallback(callback, err)
		return
	}

	chatID, err := h.callbackChat(ctx, callback, out.Session)
	if err != nil {
		h.rejectCallback(callback, err)
		return
	}

	// Follow-ups quote the pressed message so the thread stays together.
	replyTo := 0
	if callback.Message != nil {
		replyTo = callback.Message.MessageID
	}

	switch out.Token.Action {
	case marking.ActionChoose:
		h.answer(callback, "")

		keyboard, err := bot.StatusKeyboard(out.Choices)
		if err != nil {
			zap.L().Error("Error building status keyboard", zap.Error(err))
			return
		}
		text := fmt.Sprintf("%s: choose your attendance status", out.Member.DisplayName)
		if _, err := h.bot.SendReply(chatID, replyTo, text, keyboard); err != nil {
			zap.L().Error("Error sending status choices", zap.Error(err), zap.Int64(logger.FieldChatID, chatID))
		}

	case marking.ActionMark:
		status := out.Record.Status
		metrics.Marks.WithLabelValues(string(status)).Inc()

		zap.L().Info("Attendance marked",
			zap.Int64(logger.FieldSessionID, out.Session.ID),
			zap.Int64(logger.FieldMemberID, out.Member.ID),
			zap.String("status", string(status)),
			zap.Int64(logger.FieldUserID, actor.ExternalID),
			zap.Bool("self", out.SelfMark),
		)

		h.answer(callback, fmt.Sprintf("Marked %s as %s", out.Member.DisplayName, status))

		// The status choices are spent once a mark lands.
		if replyTo != 0 {
			text := fmt.Sprintf("%s: %s", out.Member.DisplayName, status.Label())
			if err := h.bot.EditMessage(chatID, replyTo, text, nil); err != nil {
				zap.L().Warn("Error closing status choices", zap.Error(err), zap.Int64(logger.FieldChatID, chatID))
			}
		}

		notice := fmt.Sprintf("%s marked as %s by %s", out.Member.DisplayName, status, actor.DisplayName)
		if _, err := h.bot.SendReply(chatID, replyTo, notice, nil); err != nil {
			zap.L().Error("Error sending mark notice", zap.Error(err), zap.Int64(logger.FieldChatID, chatID))
		}
	}
}

// callbackChat is the chat the button was pressed in, or the session's group
// chat for inline messages.
func (h *Handler) callbackChat(ctx context.Context, callback *tgbotapi.CallbackQuery, sess *models.Session) (int64, error) {
	if callback.Message != nil && callback.Message.Chat != nil {
		return callback.Message.Chat.ID, nil
	}
	group, err := h.store.GroupByID(ctx, sess.GroupID)
	if err != nil {
		return 0, err
	}
	return group.ChatID, nil
}

// rejectCallback tells the clicker, and only the clicker, why nothing
// happened.
func (h *Handler) rejectCallback(callback *tgbotapi.CallbackQuery, err error) {
	var reason, text string
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		reason, text = "unauthorized", "You cannot mark for another member."
	case errors.Is(err, apperr.ErrMemberNotFound):
		reason, text = "member_not_found", apperr.UserMessage(err)
	case errors.Is(err, apperr.ErrNotFound):
		reason, text = "not_found", apperr.UserMessage(err)
	case errors.Is(err, apperr.ErrInvalidInput):
		reason, text = "invalid", "This button is no longer valid."
	default:
		reason, text = "error", apperr.UserMessage(err)
		zap.L().Error("Callback failed", zap.Error(err), zap.String("data", callback.Data))
	}

	metrics.MarkRejections.WithLabelValues(reason).Inc()
	if err := h.bot.AnswerAlert(callback.ID, text); err != nil {
		zap.L().Error("Error answering callback", zap.Error(err))
	}
}

func (h *Handler) answer(callback *tgbotapi.CallbackQuery, text string) {
	if err := h.bot.AnswerCallbackQuery(callback.ID, text); err != nil {
		zap.L().Error("Error answering callback", zap.Error(err))
	}
}
