package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "subwatch/internal/transport"
	logx "subwatch/pkg/logx"
)

// fakeAPI answers Bot API calls by method name.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string]string
	reply  map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, method)
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[method] = string(raw)
	body, ok := f.reply[method]
	f.mu.Unlock()
	if !ok {
		body = `{"ok":true,"result":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) Body(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method]
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestAdapter(t *testing.T, reply map[string]string) (*Adapter, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	a, err := New(Config{Token: "123:abc", URL: srv.URL, Offline: true}, logx.Nop())
	require.NoError(t, err)
	return a, api
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: " "}, logx.Nop())
	assert.Error(t, err)
}

func TestSendTextAndDelete(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":-100,"type":"supergroup"},"text":"x"}}`,
	})

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100}, "<b>x</b>", &kit.SendOptions{ParseMode: "HTML"})
	require.NoError(t, err)
	assert.Equal(t, kit.MessageRef{ChatID: -100, MessageID: 42}, ref)

	require.NoError(t, a.Delete(context.Background(), ref))
	assert.Equal(t, []string{"sendMessage", "deleteMessage"}, api.Calls())
}

func TestReact(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t, nil)

	require.NoError(t, a.React(context.Background(), kit.MessageRef{ChatID: -100, MessageID: 42}, "❤"))
	assert.Equal(t, []string{"setMessageReaction"}, api.Calls())
	body := api.Body("setMessageReaction")
	assert.Contains(t, body, `"message_id":"42"`)
	assert.Contains(t, body, "❤")

	var _ kit.Reactor = a
}

func TestSendErrorsAreClassified(t *testing.T) {
	t.Parallel()
	flood, _ := newTestAdapter(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`,
	})
	_, err := flood.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil)
	require.Error(t, err)
	d, ok := kit.RetryDelay(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
	assert.False(t, errors.Is(err, kit.ErrPermanent))

	missing, _ := newTestAdapter(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
	})
	_, err = missing.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil)
	assert.ErrorIs(t, err, kit.ErrPermanent)
}

func TestCanBroadcast(t *testing.T) {
	t.Parallel()
	member := func(status string) string {
		b, _ := json.Marshal(map[string]any{
			"ok":     true,
			"result": map[string]any{"status": status, "user": map[string]any{"id": 1, "is_bot": true, "first_name": "bot"}},
		})
		return string(b)
	}

	admin, _ := newTestAdapter(t, map[string]string{"getChatMember": member("administrator")})
	ok, err := admin.CanBroadcast(context.Background(), -100)
	require.NoError(t, err)
	assert.True(t, ok)

	plain, _ := newTestAdapter(t, map[string]string{"getChatMember": member("member")})
	ok, err = plain.CanBroadcast(context.Background(), -100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t, nil)
	cmds := []kit.BotCommand{{Command: "statystyki", Description: "Statystyki zastępstw"}}

	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, []string{"setMyCommands"}, api.Calls())
}

func TestSendUpdateDropsWhenFull(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t, nil)
	out := make(chan kit.Update, 1)
	a.out.Store((chan<- kit.Update)(out))

	a.sendUpdate(kit.Update{Message: &kit.Message{Text: "/statystyki"}})
	a.sendUpdate(kit.Update{Message: &kit.Message{Text: "/informacje"}})
	assert.Equal(t, uint64(1), a.droppedUpdates.Load())
	assert.Equal(t, "/statystyki", (<-out).Message.Text)
}
