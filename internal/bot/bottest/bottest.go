// Package bottest provides a recording bot.Sender for tests.
package bottest

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Recorder captures every outgoing request and answers with canned values.
type Recorder struct {
	mu       sync.Mutex
	nextID   int
	Sent     []tgbotapi.Chattable
	Requests []tgbotapi.Chattable

	// Admins maps a chat id to the user ids Telegram reports as administrators.
	Admins map[int64][]int64

	// SendErr, when set, is returned by Send.
	SendErr error
}

func New() *Recorder {
	return &Recorder{nextID: 100, Admins: make(map[int64][]int64)}
}

func (r *Recorder) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SendErr != nil {
		return tgbotapi.Message{}, r.SendErr
	}
	r.Sent = append(r.Sent, c)
	r.nextID++
	return tgbotapi.Message{MessageID: r.nextID}, nil
}

func (r *Recorder) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Requests = append(r.Requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (r *Recorder) GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []tgbotapi.ChatMember
	for _, id := range r.Admins[config.ChatID] {
		out = append(out, tgbotapi.ChatMember{User: &tgbotapi.User{ID: id}, Status: "administrator"})
	}
	return out, nil
}

// Messages returns the text messages sent so far.
func (r *Recorder) Messages() []tgbotapi.MessageConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []tgbotapi.MessageConfig
	for _, c := range r.Sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

// LastText returns the text of the most recent message, or "".
func (r *Recorder) LastText() string {
	msgs := r.Messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

// Documents returns the documents sent so far.
func (r *Recorder) Documents() []tgbotapi.DocumentConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []tgbotapi.DocumentConfig
	for _, c := range r.Sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

// Edits returns the message edits sent so far.
func (r *Recorder) Edits() []tgbotapi.EditMessageTextConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []tgbotapi.EditMessageTextConfig
	for _, c := range r.Sent {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

// Callbacks returns the callback answers sent so far.
func (r *Recorder) Callbacks() []tgbotapi.CallbackConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []tgbotapi.CallbackConfig
	for _, c := range r.Requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = nil
	r.Requests = nil
}
