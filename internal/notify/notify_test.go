package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" BondExpired ", "", "LeakAdjudicated"}, discard())

	require.NoError(t, n.Notify(context.Background(), "BondPosted", "posted", ""))
	require.NoError(t, n.Notify(context.Background(), "BondExpired", "expired", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "forced", ""))
	assert.Equal(t, []string{"expired", "forced"}, s.titles)

	open := NewNotifier(nil, nil, discard())
	assert.True(t, open.Allows("anything"))
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "X", "title", "msg")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"title"}, good.titles)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Bond claimed", "paid"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Bond claimed*\npaid", got["text"])
	assert.Equal(t, "telegram", s.Name())
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
	assert.Contains(t, err.Error(), "rate limited")

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	require.NoError(t, NewDiscordSender(ok.URL).Send(context.Background(), "t", "m"))
}
