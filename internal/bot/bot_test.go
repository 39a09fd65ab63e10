package bot

import (
	"testing"

	"attendance-bot/internal/bot/bottest"
	"attendance-bot/internal/marking"
	"attendance-bot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterKeyboard(t *testing.T) {
	kb, err := RosterKeyboard(7, []models.Member{
		{ID: 1, DisplayName: "Alice"},
		{ID: 2, DisplayName: "Bob"},
	})
	require.NoError(t, err)
	require.Len(t, kb.InlineKeyboard, 2)

	btn := kb.InlineKeyboard[1][0]
	assert.Equal(t, "Bob", btn.Text)
	require.NotNil(t, btn.CallbackData)
	assert.Equal(t, "choose:7:2", *btn.CallbackData)
}

func TestStatusKeyboard(t *testing.T) {
	choices := []marking.Token{
		marking.Mark(7, 2, models.StatusPresent),
		marking.Mark(7, 2, models.StatusLate),
		marking.Mark(7, 2, models.StatusAbsent),
	}
	kb, err := StatusKeyboard(choices)
	require.NoError(t, err)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 3)
	assert.Equal(t, "Late", kb.InlineKeyboard[0][1].Text)
	assert.Equal(t, "mark:7:2:late", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestIsChatAdmin(t *testing.T) {
	rec := bottest.New()
	rec.Admins[-100] = []int64{42}
	b := NewWithSender(rec, tgbotapi.User{ID: 1, UserName: "attendance_bot"})

	ok, err := b.IsChatAdmin(-100, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.IsChatAdmin(-100, 43)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnswerAlert(t *testing.T) {
	rec := bottest.New()
	b := NewWithSender(rec, tgbotapi.User{ID: 1})

	require.NoError(t, b.AnswerAlert("cb-1", "nope"))
	cbs := rec.Callbacks()
	require.Len(t, cbs, 1)
	assert.True(t, cbs[0].ShowAlert)
	assert.Equal(t, "nope", cbs[0].Text)
}

func TestUpdatesRequiresClient(t *testing.T) {
	b := NewWithSender(bottest.New(), tgbotapi.User{})
	_, err := b.Updates(60)
	assert.Error(t, err)
}

func TestSendReply(t *testing.T) {
	rec := bottest.New()
	b := NewWithSender(rec, tgbotapi.User{ID: 1})

	_, err := b.SendReply(-100, 50, "quoted", nil)
	require.NoError(t, err)
	_, err = b.SendReply(-100, 0, "plain", nil)
	require.NoError(t, err)

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 50, msgs[0].ReplyToMessageID)
	assert.Nil(t, msgs[0].ReplyMarkup)
	assert.Zero(t, msgs[1].ReplyToMessageID)
}
