package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersByEvent(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"cycle_failed", " position_closed "}, discard())

	ctx := context.Background()
	_ = n.Notify(ctx, Event{Type: EventOrderPlaced, Title: "placed"})
	_ = n.Notify(ctx, Event{Type: EventPositionClosed, Title: "closed"})
	_ = n.Notify(ctx, Event{Type: EventCycleFailed, Title: "failed"})

	if strings.Join(s.titles, ",") != "closed,failed" {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifierKeepsGoingAfterSenderFailure(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), Event{Type: EventOrderPlaced, Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("second sender skipped")
	}
}

func TestNotifierWithoutSenders(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier enabled")
	}
	if err := n.Notify(context.Background(), Event{Type: EventCycleFailed}); err != nil {
		t.Fatal(err)
	}
}

func TestTelegramEscapesHTML(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "exit <max_hold>", "BRK.B & co"); err != nil {
		t.Fatal(err)
	}
	if got["text"] != "<b>exit &lt;max_hold&gt;</b>\nBRK.B &amp; co" || got["parse_mode"] != "HTML" || got["chat_id"] != "42" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordStatusAndTruncation(t *testing.T) {
	var content string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "t", strings.Repeat("x", 3000)); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(content)); n != discordMaxContent {
		t.Fatalf("content runes = %d", n)
	}

	status = http.StatusTooManyRequests
	if err := d.Send(context.Background(), "t", "m"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}
