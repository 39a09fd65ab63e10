package bot

import (
	"errors"
	"fmt"

	"attendance-bot/internal/marking"
	"attendance-bot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of *tgbotapi.BotAPI the handlers need.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

type Bot struct {
	API  Sender
	Self tgbotapi.User

	client *tgbotapi.BotAPI
}

func New(token, endpoint string, debug bool) (*Bot, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug

	zap.L().Info("Authorized on account", zap.String("username", api.Self.UserName))

	return &Bot{API: api, Self: api.Self, client: api}, nil
}

// NewWithSender wraps an arbitrary Sender. The returned bot cannot poll for
// updates.
func NewWithSender(s Sender, self tgbotapi.User) *Bot {
	return &Bot{API: s, Self: self}
}

// Updates starts long polling.
func (b *Bot) Updates(timeout int) (tgbotapi.UpdatesChannel, error) {
	if b.client == nil {
		return nil, errors.New("bot has no polling client")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return b.client.GetUpdatesChan(u), nil
}

func (b *Bot) StopUpdates() {
	if b.client != nil {
		b.client.StopReceivingUpdates()
	}
}

func (b *Bot) SendMessage(chatID int64, text string, replyMarkup interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if replyMarkup != nil {
		msg.ReplyMarkup = replyMarkup
	}
	return b.API.Send(msg)
}

// SendReply posts text to chatID quoting replyTo; a zero replyTo posts a
// plain message.
func (b *Bot) SendReply(chatID int64, replyTo int, text string, replyMarkup interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if replyMarkup != nil {
		msg.ReplyMarkup = replyMarkup
	}
	return b.API.Send(msg)
}

// Reply answers message in its own chat, quoting it.
func (b *Bot) Reply(message *tgbotapi.Message, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return b.API.Send(msg)
}

// EditMessage replaces the text of a sent message. A nil replyMarkup drops
// its inline keyboard.
func (b *Bot) EditMessage(chatID int64, messageID int, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ReplyMarkup = replyMarkup
	_, err := b.API.Send(msg)
	return err
}

func (b *Bot) AnswerCallbackQuery(callbackID string, text string) error {
	_, err := b.API.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// AnswerAlert shows text as a modal alert to the clicker only.
func (b *Bot) AnswerAlert(callbackID string, text string) error {
	_, err := b.API.Request(tgbotapi.NewCallbackWithAlert(callbackID, text))
	return err
}

func (b *Bot) SendDocument(chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	_, err := b.API.Send(doc)
	return err
}

// IsChatAdmin reports whether Telegram lists userID as creator or
// administrator of the chat.
func (b *Bot) IsChatAdmin(chatID, userID int64) (bool, error) {
	admins, err := b.API.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return false, fmt.Errorf("get chat administrators: %w", err)
	}
	for _, a := range admins {
		if a.User != nil && a.User.ID == userID && (a.IsCreator() || a.IsAdministrator()) {
			return true, nil
		}
	}
	return false, nil
}

// Keyboard builders

// RosterKeyboard renders one choose button per member.
func RosterKeyboard(sessionID int64, members []models.Member) (tgbotapi.InlineKeyboardMarkup, error) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(members))
	for _, m := range members {
		data, err := marking.Choose(sessionID, m.ID).Encode()
		if err != nil {
			return tgbotapi.InlineKeyboardMarkup{}, err
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(m.DisplayName, data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), nil
}

// StatusKeyboard renders the mark choices on a single row.
func StatusKeyboard(choices []marking.Token) (tgbotapi.InlineKeyboardMarkup, error) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		data, err := c.Encode()
		if err != nil {
			return tgbotapi.InlineKeyboardMarkup{}, err
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Status.Label(), data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), nil
}
