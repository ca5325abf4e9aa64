package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu    sync.Mutex
	calls map[string][]url.Values
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], r.PostForm)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Kinguin","username":"kinguin_test_bot"}}`))
	case "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":7,"type":"private"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{calls: map[string][]url.Values{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	h, _ := newTestHandler(nil)
	b, err := NewBotWithClient("123:abc", srv.URL+"/bot%s/%s", srv.Client(), h, nullLogger())
	require.NoError(t, err)
	return b, fake
}

func TestNewBotWithClient(t *testing.T) {
	b, fake := newTestBot(t)
	assert.Equal(t, "kinguin_test_bot", b.Username())
	assert.Len(t, fake.calls["getMe"], 1)
}

func TestNotify(t *testing.T) {
	b, fake := newTestBot(t)

	require.NoError(t, b.Notify(context.Background(), 7, "✅ <b>Заказ завершен!</b>"))

	require.Len(t, fake.calls["sendMessage"], 1)
	form := fake.calls["sendMessage"][0]
	assert.Equal(t, "7", form.Get("chat_id"))
	assert.Equal(t, "HTML", form.Get("parse_mode"))
	assert.Equal(t, "✅ <b>Заказ завершен!</b>", form.Get("text"))
}

func TestKeyboard(t *testing.T) {
	_, ok := keyboard(nil)
	assert.False(t, ok)

	markup, ok := keyboard([][]Button{
		{{Text: "yes", Data: CallbackConfirm}},
		{{Text: "no", Data: CallbackCancel}},
	})
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, CallbackConfirm, *markup.InlineKeyboard[0][0].CallbackData)
}
