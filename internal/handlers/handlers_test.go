package handlers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"attendance-bot/internal/auth"
	"attendance-bot/internal/bot"
	"attendance-bot/internal/bot/bottest"
	"attendance-bot/internal/database/memstore"
	"attendance-bot/internal/marking"
	"attendance-bot/internal/models"
	"attendance-bot/internal/scheduler"
	"attendance-bot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = -100

var (
	alice = &tgbotapi.User{ID: 100, FirstName: "Alice"}
	bob   = &tgbotapi.User{ID: 200, FirstName: "Bob"}
	carol = &tgbotapi.User{ID: 300, FirstName: "Carol"}
)

type fixture struct {
	h     *Handler
	rec   *bottest.Recorder
	store *memstore.Store
	sched *scheduler.Scheduler
	group *models.Group
	now   time.Time
}

// newFixture builds a handler over an in-memory store with a registered
// group where Alice and Bob are members and Carol is admin.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	rec := bottest.New()
	now := time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	authz := auth.New(store)
	sched := scheduler.New(store, nil, scheduler.WithClock(clock))
	h := New(Deps{
		Bot:       bot.NewWithSender(rec, tgbotapi.User{ID: 1, UserName: "attendance_bot", IsBot: true}),
		Store:     store,
		Auth:      authz,
		Sessions:  session.New(store, nil, session.WithClock(clock)),
		Marking:   marking.New(store, authz, clock),
		Scheduler: sched,
	})

	group, err := store.EnsureGroup(ctx, chatID, "Choir")
	require.NoError(t, err)
	_, err = store.UpsertMember(ctx, group.ID, alice.ID, "Alice", models.RoleMember)
	require.NoError(t, err)
	_, err = store.UpsertMember(ctx, group.ID, bob.ID, "Bob", models.RoleMember)
	require.NoError(t, err)
	_, err = store.UpsertMember(ctx, group.ID, carol.ID, "Carol", models.RoleAdmin)
	require.NoError(t, err)

	return &fixture{h: h, rec: rec, store: store, sched: sched, group: group, now: now}
}

func command(chatID int64, from *tgbotapi.User, text string) *tgbotapi.Message {
	cmdLen := strings.IndexByte(text, ' ')
	if cmdLen < 0 {
		cmdLen = len(text)
	}
	chatType := "supergroup"
	if chatID > 0 {
		chatType = "private"
	}
	return &tgbotapi.Message{
		MessageID: 1,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType, Title: "Choir"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func click(from *tgbotapi.User, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    from,
		Message: &tgbotapi.Message{MessageID: 50, Chat: &tgbotapi.Chat{ID: chatID, Type: "supergroup"}},
		Data:    data,
	}
}

func (f *fixture) run(from *tgbotapi.User, text string) string {
	f.h.HandleMessage(context.Background(), command(chatID, from, text))
	return f.rec.LastText()
}

func (f *fixture) member(t *testing.T, extID int64) *models.Member {
	t.Helper()
	m, err := f.store.ActiveMemberByExternalID(context.Background(), f.group.ID, extID)
	require.NoError(t, err)
	return m
}

func (f *fixture) latest(t *testing.T) *models.Session {
	t.Helper()
	s, err := f.store.LatestSession(context.Background(), f.group.ID)
	require.NoError(t, err)
	return s
}

func lastCallback(t *testing.T, rec *bottest.Recorder) tgbotapi.CallbackConfig {
	t.Helper()
	cbs := rec.Callbacks()
	require.NotEmpty(t, cbs)
	return cbs[len(cbs)-1]
}

func TestHelpWorksAnywhere(t *testing.T) {
	f := newFixture(t)
	f.h.HandleMessage(context.Background(), command(55, alice, "/help"))
	assert.Contains(t, f.rec.LastText(), "/attendance")
}

func TestPrivateChatGetsHint(t *testing.T) {
	f := newFixture(t)

	f.h.HandleMessage(context.Background(), command(55, alice, "/attendance"))
	assert.Equal(t, "This command must be used in a group chat.", f.rec.LastText())

	f.h.HandleMessage(context.Background(), command(55, alice, "/start"))
	assert.Equal(t, "Use me inside a group where you manage attendance.", f.rec.LastText())
}

func TestStart_RegistersChatAdministrator(t *testing.T) {
	f := newFixture(t)
	dave := &tgbotapi.User{ID: 400, FirstName: "Dave", LastName: "Lister"}
	erin := &tgbotapi.User{ID: 500, FirstName: "Erin"}
	f.rec.Admins[chatID] = []int64{dave.ID}

	assert.Contains(t, f.run(dave, "/start"), "/register")
	m := f.member(t, dave.ID)
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.Equal(t, "Dave Lister", m.DisplayName)

	f.run(erin, "/start")
	_, err := f.store.ActiveMemberByExternalID(context.Background(), f.group.ID, erin.ID)
	assert.Error(t, err, "non-administrators are not registered by /start")
}

func TestStart_KeepsRegisteredName(t *testing.T) {
	f := newFixture(t)
	f.rec.Admins[chatID] = []int64{bob.ID}

	assert.Equal(t, "Registered Robert Smith for attendance.", f.run(bob, "/register Robert Smith"))
	f.run(bob, "/start")

	m := f.member(t, bob.ID)
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.Equal(t, "Robert Smith", m.DisplayName)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	dave := &tgbotapi.User{ID: 400, FirstName: "Dave"}

	assert.Equal(t, "Registered Dave for attendance.", f.run(dave, "/register"))
	assert.Equal(t, "Registered David Lister for attendance.", f.run(dave, "/register David Lister"))
	assert.Equal(t, "David Lister", f.member(t, dave.ID).DisplayName)

	// An admin registering again stays admin.
	f.run(carol, "/register Carol Danvers")
	assert.Equal(t, models.RoleAdmin, f.member(t, carol.ID).Role)
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		text string
		want string
	}{
		{"/add_member 400 Dave", "Only group admins can add members."},
		{"/promote 200", "Only group admins can promote members."},
		{"/remove_member 200", "Only group admins can remove members."},
		{"/schedule sun 9 0 service", "Only group admins can schedule sessions."},
		{"/unschedule service", "Only group admins can unschedule sessions."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, f.run(alice, tt.text))
		})
	}
	assert.Equal(t, models.RoleMember, f.member(t, bob.ID).Role)
}

func TestAddPromoteRemove(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Added Dave Lister to the group.", f.run(carol, "/add_member 400 Dave Lister"))
	assert.Equal(t, "Dave Lister", f.member(t, 400).DisplayName)

	assert.Contains(t, f.run(carol, "/add_member @dave Dave"), "numeric Telegram id")
	assert.Equal(t, "Usage: /add_member <telegram_id> <full name>", f.run(carol, "/add_member 400"))

	assert.Equal(t, "Promoted user 200 to admin.", f.run(carol, "/promote 200"))
	assert.Equal(t, models.RoleAdmin, f.member(t, bob.ID).Role)
	assert.Equal(t, "Member not found (maybe removed).", f.run(carol, "/promote 999"))

	assert.Equal(t, "Removed user 100 from future rosters.", f.run(carol, "/remove_member 100"))
	_, err := f.store.ActiveMemberByExternalID(context.Background(), f.group.ID, alice.ID)
	assert.Error(t, err)
}

func TestAttendance_UnregisteredGroup(t *testing.T) {
	f := newFixture(t)
	f.h.HandleMessage(context.Background(), command(-999, alice, "/attendance"))
	assert.Equal(t, "Group not registered. Use /start in the group first.", f.rec.LastText())
}

func TestAttendance_PostsRosterAndRecordsPrompt(t *testing.T) {
	f := newFixture(t)

	f.run(alice, "/attendance Sunday service")

	msgs := f.rec.Messages()
	require.NotEmpty(t, msgs)
	prompt := msgs[len(msgs)-1]
	assert.Equal(t, "Attendance started: Sunday service\nClick your name to mark attendance.", prompt.Text)

	kb, ok := prompt.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Equal(t, "Alice", kb.InlineKeyboard[0][0].Text)

	sess := f.latest(t)
	assert.Equal(t, "Sunday service", sess.Title)
	require.NotNil(t, sess.CreatedBy)
	assert.Equal(t, alice.ID, *sess.CreatedBy)
	require.NotNil(t, sess.PromptMessageID, "prompt association recorded")
	assert.Equal(t, fmt.Sprintf("choose:%d:%d", sess.ID, f.member(t, alice.ID).ID), *kb.InlineKeyboard[0][0].CallbackData)
}

func TestAttendance_DefaultTitleAndEmptyRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.EnsureGroup(ctx, -200, "Empty")
	require.NoError(t, err)

	f.h.HandleMessage(ctx, command(-200, alice, "/attendance"))
	assert.Equal(t, emptyRosterText, f.rec.LastText())

	g, _ := f.store.GroupByChatID(ctx, -200)
	sess, err := f.store.LatestSession(ctx, g.ID)
	require.NoError(t, err, "the session is still persisted")
	assert.Equal(t, "Attendance 2026-06-07", sess.Title)
	assert.Nil(t, sess.PromptMessageID)
}

func TestMarkingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.run(carol, "/attendance")
	sess := f.latest(t)
	a := f.member(t, alice.ID)

	chooseAlice := marking.Choose(sess.ID, a.ID).String()

	// Bob may not act for Alice.
	before := len(f.rec.Messages())
	f.h.HandleCallbackQuery(ctx, click(bob, chooseAlice))
	cb := lastCallback(t, f.rec)
	assert.True(t, cb.ShowAlert)
	assert.Equal(t, "You cannot mark for another member.", cb.Text)
	assert.Len(t, f.rec.Messages(), before, "nothing posted to the group")

	f.h.HandleCallbackQuery(ctx, click(bob, marking.Mark(sess.ID, a.ID, models.StatusAbsent).String()))
	assert.Equal(t, "You cannot mark for another member.", lastCallback(t, f.rec).Text)
	assert.Equal(t, 0, f.store.RecordCount(sess.ID))

	// Alice chooses herself and is offered three statuses.
	f.h.HandleCallbackQuery(ctx, click(alice, chooseAlice))
	msgs := f.rec.Messages()
	choices := msgs[len(msgs)-1]
	assert.Equal(t, "Alice: choose your attendance status", choices.Text)
	assert.Equal(t, 50, choices.ReplyToMessageID, "choices quote the pressed roster")
	kb := choices.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, kb.InlineKeyboard[0], 3)
	assert.Equal(t, "Present", kb.InlineKeyboard[0][0].Text)

	f.h.HandleCallbackQuery(ctx, click(alice, *kb.InlineKeyboard[0][1].CallbackData))
	assert.Equal(t, "Marked Alice as late", lastCallback(t, f.rec).Text)
	assert.Equal(t, "Alice marked as late by Alice", f.rec.LastText())
	msgs = f.rec.Messages()
	assert.Equal(t, 50, msgs[len(msgs)-1].ReplyToMessageID)

	// The spent status choices are rewritten without buttons.
	edits := f.rec.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, int64(chatID), edits[0].ChatID)
	assert.Equal(t, 50, edits[0].MessageID)
	assert.Equal(t, "Alice: Late", edits[0].Text)
	assert.Nil(t, edits[0].ReplyMarkup)

	// Carol, an admin, overrides.
	f.h.HandleCallbackQuery(ctx, click(carol, marking.Mark(sess.ID, a.ID, models.StatusPresent).String()))
	assert.Equal(t, "Alice marked as present by Carol", f.rec.LastText())

	rows, err := f.store.SessionRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusPresent, rows[0].Status)
}

func TestCallback_RemovedMemberAndBadData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.run(carol, "/attendance")
	sess := f.latest(t)
	a := f.member(t, alice.ID)

	require.NoError(t, f.store.DeactivateMember(ctx, f.group.ID, alice.ID))
	f.h.HandleCallbackQuery(ctx, click(alice, marking.Choose(sess.ID, a.ID).String()))
	assert.Equal(t, "Member not found (maybe removed).", lastCallback(t, f.rec).Text)

	f.h.HandleCallbackQuery(ctx, click(carol, "mark:1:2:sick"))
	assert.Equal(t, "This button is no longer valid.", lastCallback(t, f.rec).Text)
}

func TestReportAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Session not found.", f.run(alice, "/report latest"))
	assert.Equal(t, "Usage: /report latest OR /report <session_id>", f.run(alice, "/report"))

	f.run(carol, "/attendance Sunday")
	sess := f.latest(t)
	b := f.member(t, bob.ID)
	a := f.member(t, alice.ID)

	header := fmt.Sprintf("Report for Sunday (id=%d, date=2026-06-07)\n", sess.ID)
	assert.Equal(t, header+"No records yet", f.run(alice, "/report latest"))

	f.h.HandleCallbackQuery(ctx, click(bob, marking.Mark(sess.ID, b.ID, models.StatusAbsent).String()))
	f.h.HandleCallbackQuery(ctx, click(alice, marking.Mark(sess.ID, a.ID, models.StatusPresent).String()))

	assert.Equal(t, header+"present: 1\nabsent: 1\ntotal: 2", f.run(alice, fmt.Sprintf("/report %d", sess.ID)))
	assert.Equal(t, "Invalid input: invalid session id \"abc\"", f.run(alice, "/report abc"))

	f.run(bob, "/export latest")
	docs := f.rec.Documents()
	require.Len(t, docs, 1)
	file, ok := docs[0].File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("attendance_session_%d.csv", sess.ID), file.Name)
	assert.Equal(t, "Full Name,Status,Timestamp\n"+
		"Alice,present,2026-06-07T10:00:00Z\n"+
		"Bob,absent,2026-06-07T10:00:00Z\n", string(file.Bytes))
}

func TestReport_ForeignSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, _ := f.store.EnsureGroup(ctx, -200, "Band")
	foreign, err := f.store.CreateSession(ctx, models.Session{GroupID: other.ID, Title: "x", SessionDate: f.now})
	require.NoError(t, err)

	assert.Equal(t, "Session not found.", f.run(alice, fmt.Sprintf("/report %d", foreign.ID)))
}

func TestScheduleCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Invalid input: hour must be between 0 and 23", f.run(carol, "/schedule sun 25 0 service"))
	assert.Equal(t, "Invalid input: hour must be an integer", f.run(carol, "/schedule sun nine 0 service"))
	assert.Contains(t, f.run(carol, "/schedule sun 9"), "Usage: /schedule")

	assert.Equal(t, "Scheduled job service on sun at 09:00 (next run Sun 2026-06-14 09:00)",
		f.run(carol, "/schedule sun 9 0 service"))

	jobs, err := f.store.ListGroupScheduledJobs(ctx, f.group.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	assert.Equal(t, "Scheduled attendance:\nservice: sun at 09:00", f.run(alice, "/schedules"))

	assert.Equal(t, "Removed scheduled job service.", f.run(carol, "/unschedule service"))
	assert.Equal(t, "No scheduled job named service.", f.run(carol, "/unschedule service"))
	assert.Equal(t, "No scheduled attendance.", f.run(alice, "/schedules"))
}

func TestHandleFire_PostsScheduledSession(t *testing.T) {
	f := newFixture(t)

	f.h.HandleFire(context.Background(), scheduler.Fire{GroupID: f.group.ID, ChatID: chatID, JobName: "service", At: f.now})

	msgs := f.rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(chatID), msgs[0].ChatID)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "Attendance time!"))

	sess := f.latest(t)
	assert.Equal(t, "Scheduled attendance 2026-06-07", sess.Title)
	assert.Nil(t, sess.CreatedBy)
	assert.NotNil(t, sess.PromptMessageID)
}

func TestBotAddedToGroupRegistersIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := &tgbotapi.Message{
		MessageID:      9,
		From:           carol,
		Chat:           &tgbotapi.Chat{ID: -300, Type: "group", Title: "Orchestra"},
		NewChatMembers: []tgbotapi.User{{ID: 1, IsBot: true}},
	}
	f.h.HandleMessage(ctx, msg)

	g, err := f.store.GroupByChatID(ctx, -300)
	require.NoError(t, err)
	assert.Equal(t, "Orchestra", g.Title)
	assert.Contains(t, f.rec.LastText(), "/start")
}
