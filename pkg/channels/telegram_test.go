package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HKUDS/imagebot-go/pkg/bus"
	"github.com/HKUDS/imagebot-go/pkg/config"
)

const testToken = "123:abc"

type apiCall struct {
	Method string
	Form   map[string]string
	File   []byte
}

// fakeTelegram is a Bot API stand-in. Unscripted getUpdates calls return an
// empty list after a short pause, like an idle long poll.
type fakeTelegram struct {
	*httptest.Server
	mu      sync.Mutex
	calls   []apiCall
	updates []func(w http.ResponseWriter, form map[string]string)
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	ft := &fakeTelegram{}
	ft.Server = httptest.NewServer(http.HandlerFunc(ft.serve))
	t.Cleanup(ft.Close)
	return ft
}

func (ft *fakeTelegram) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]

	call := apiCall{Method: method, Form: map[string]string{}}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			if f, _, err := r.FormFile("photo"); err == nil {
				call.File, _ = io.ReadAll(f)
				f.Close()
			}
		}
	} else {
		_ = r.ParseForm()
	}
	for k := range r.Form {
		call.Form[k] = r.Form.Get(k)
	}

	ft.mu.Lock()
	ft.calls = append(ft.calls, call)
	var script func(w http.ResponseWriter, form map[string]string)
	if method == "getUpdates" && len(ft.updates) > 0 {
		script = ft.updates[0]
		ft.updates = ft.updates[1:]
	}
	ft.mu.Unlock()

	switch method {
	case "getMe":
		ok(w, map[string]any{"id": 1, "is_bot": true, "first_name": "Image", "username": "imagebot"})
	case "deleteWebhook", "deleteMessage":
		ok(w, true)
	case "sendMessage", "sendPhoto":
		ok(w, map[string]any{"message_id": 77, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}})
	case "getUpdates":
		if script != nil {
			script(w, call.Form)
			return
		}
		time.Sleep(10 * time.Millisecond)
		ok(w, []any{})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (ft *fakeTelegram) methodCalls(method string) []apiCall {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []apiCall
	for _, c := range ft.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func ok(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func conflict(w http.ResponseWriter, _ map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":          false,
		"error_code":  409,
		"description": "Conflict: terminated by other getUpdates request; make sure that only one bot instance is running",
	})
}

func textUpdate(id int, text string) func(http.ResponseWriter, map[string]string) {
	return func(w http.ResponseWriter, _ map[string]string) {
		msg := map[string]any{
			"message_id": 5,
			"date":       1700000000,
			"from":       map[string]any{"id": 7, "is_bot": false, "first_name": "Anna", "username": "anna"},
			"chat":       map[string]any{"id": 42, "type": "private"},
			"text":       text,
		}
		if strings.HasPrefix(text, "/") {
			msg["entities"] = []any{map[string]any{"type": "bot_command", "offset": 0, "length": len(text)}}
		}
		ok(w, []any{map[string]any{"update_id": id, "message": msg}})
	}
}

func newTestChannel(ft *fakeTelegram, allow ...string) (*TelegramChannel, *bus.MessageBus) {
	cfg := &config.TelegramConfig{
		Token:           testToken,
		AllowFrom:       allow,
		APIEndpoint:     ft.URL + "/bot%s/%s",
		RequestTimeout:  5 * time.Second,
		PollTimeout:     time.Second,
		ConflictBackoff: 10 * time.Millisecond,
	}
	b := bus.NewMessageBus()
	return NewTelegramChannel(cfg, b, nil), b
}

func receive(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	select {
	case msg := <-b.ConsumeInbound():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
		return bus.InboundMessage{}
	}
}

func TestStartDropsPendingUpdatesAndPolls(t *testing.T) {
	ft := newFakeTelegram(t)
	ft.updates = append(ft.updates, textUpdate(100, "/start"))
	ch, b := newTestChannel(ft)

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	msg := receive(t, b)
	assert.Equal(t, "start", msg.Command)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, 5, msg.MessageID)
	assert.Equal(t, "7|anna", msg.SenderID)
	assert.Equal(t, "telegram:42", msg.SessionKey())

	hooks := ft.methodCalls("deleteWebhook")
	require.Len(t, hooks, 1)
	assert.Equal(t, "true", hooks[0].Form["drop_pending_updates"])

	require.Eventually(t, func() bool {
		for _, c := range ft.methodCalls("getUpdates") {
			if c.Form["offset"] == "101" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "offset advances past the handled update")
}

func TestConflictResyncs(t *testing.T) {
	ft := newFakeTelegram(t)
	ft.updates = append(ft.updates,
		conflict,
		textUpdate(200, "stale"),
		textUpdate(201, "Stability AI"),
	)
	ch, b := newTestChannel(ft)

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	msg := receive(t, b)
	assert.Equal(t, "Stability AI", msg.Content, "the update returned by the resync call is skipped")

	polls := ft.methodCalls("getUpdates")
	require.GreaterOrEqual(t, len(polls), 3)
	assert.Equal(t, "-1", polls[1].Form["offset"])
	assert.Equal(t, "201", polls[2].Form["offset"])
}

func TestAllowListDropsStrangers(t *testing.T) {
	ft := newFakeTelegram(t)
	ft.updates = append(ft.updates, textUpdate(300, "hello"))
	ch, b := newTestChannel(ft, "someone_else")

	require.NoError(t, ch.Start(context.Background()))
	require.Eventually(t, func() bool { return len(ft.methodCalls("getUpdates")) >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ch.Stop())

	select {
	case msg := <-b.ConsumeInbound():
		t.Fatalf("unexpected message %+v", msg)
	default:
	}
}

func TestSendTextWithKeyboard(t *testing.T) {
	ft := newFakeTelegram(t)
	ch, _ := newTestChannel(ft)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	id, err := ch.SendText(context.Background(), 42, "Выбери модель:", [][]string{{"Stability AI"}, {"Hugging Face"}})
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	sent := ft.methodCalls("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "42", sent[0].Form["chat_id"])
	assert.Equal(t, "Выбери модель:", sent[0].Form["text"])

	var markup struct {
		Keyboard [][]struct {
			Text string `json:"text"`
		} `json:"keyboard"`
		Resize bool `json:"resize_keyboard"`
	}
	require.NoError(t, json.Unmarshal([]byte(sent[0].Form["reply_markup"]), &markup))
	assert.True(t, markup.Resize)
	require.Len(t, markup.Keyboard, 2)
	assert.Equal(t, "Hugging Face", markup.Keyboard[1][0].Text)
}

func TestSendPhotoAndDelete(t *testing.T) {
	ft := newFakeTelegram(t)
	ch, _ := newTestChannel(ft)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	require.NoError(t, ch.SendPhoto(context.Background(), 42, []byte("\x89PNG"), "Запрос: лиса", nil))
	require.NoError(t, ch.DeleteMessage(context.Background(), 42, 77))

	photos := ft.methodCalls("sendPhoto")
	require.Len(t, photos, 1)
	assert.Equal(t, []byte("\x89PNG"), photos[0].File)
	assert.Equal(t, "Запрос: лиса", photos[0].Form["caption"])

	deleted := ft.methodCalls("deleteMessage")
	require.Len(t, deleted, 1)
	assert.Equal(t, "77", deleted[0].Form["message_id"])
}

func TestSendBeforeStart(t *testing.T) {
	ch := NewTelegramChannel(&config.TelegramConfig{Token: testToken}, bus.NewMessageBus(), nil)
	_, err := ch.SendText(context.Background(), 1, "hi", nil)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, ch.Stop())
}

func TestStartWithoutToken(t *testing.T) {
	ch := NewTelegramChannel(&config.TelegramConfig{}, bus.NewMessageBus(), nil)
	assert.ErrorIs(t, ch.Start(context.Background()), config.ErrMissingTelegramToken)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(&tgbotapi.Error{Code: 409, Message: "Conflict: terminated by other getUpdates request"}))
	assert.True(t, isConflict(fmt.Errorf("poll: %w", &tgbotapi.Error{Code: 409})))
	assert.False(t, isConflict(&tgbotapi.Error{Code: 401, Message: "Unauthorized"}))
	assert.False(t, isConflict(errors.New("connection reset by peer")))
}

func TestIsAllowed(t *testing.T) {
	c := &BaseChannel{AllowFrom: []string{"@anna", "99"}}
	assert.True(t, c.IsAllowed("7|anna"))
	assert.True(t, c.IsAllowed("99"))
	assert.True(t, c.IsAllowed("99|bob"))
	assert.False(t, c.IsAllowed("8|bob"))

	open := &BaseChannel{}
	assert.True(t, open.IsAllowed("anyone"))
}
