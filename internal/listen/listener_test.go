package listen

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vmelniki2828/qodeq-finder/internal/configstore"
	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/results"
)

type captureNotifier struct {
	calls []core.Finding
	err   error
}

func (n *captureNotifier) Notify(_ context.Context, _ string, f core.Finding) error {
	n.calls = append(n.calls, f)
	return n.err
}

func newFixture(t *testing.T, scanning bool, chats, terms []string, target string) (*configstore.Store, *results.Store) {
	t.Helper()
	cfg := configstore.Open(filepath.Join(t.TempDir(), "settings.json"), nil)
	for _, c := range chats {
		if err := cfg.AddChat(c); err != nil {
			t.Fatal(err)
		}
	}
	for _, term := range terms {
		if err := cfg.AddTerm(term); err != nil {
			t.Fatal(err)
		}
	}
	if target != "" {
		if err := cfg.SetNotificationTarget(target); err != nil {
			t.Fatal(err)
		}
	}
	if err := cfg.SetScanning(scanning); err != nil {
		t.Fatal(err)
	}
	return cfg, results.New(cfg, nil, results.Options{}, nil)
}

func liveMessage(chatID string, id int64, text string) core.Message {
	return core.Message{
		ChatID:    chatID,
		ChatTitle: "Crypto Chat",
		ID:        id,
		Text:      text,
		Author:    "alice",
		Unix:      1720000000,
	}
}

func TestHandleMatchesChatMonitoredByHandle(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"@qodeqnews"}, []string{"bitcoin"}, "")
	l := NewListener(cfg, store, nil, nil)

	msg := liveMessage("-1005550001", 7, "bitcoin rally continues")
	msg.ChatHandle = "qodeqnews"
	l.Handle(context.Background(), msg)

	if store.Len() != 1 {
		t.Fatalf("stored = %d, want 1 (handle-monitored chat dropped)", store.Len())
	}

	other := liveMessage("-1007770001", 8, "bitcoin rally continues")
	other.ChatHandle = "somewhere_else"
	l.Handle(context.Background(), other)

	if store.Len() != 1 {
		t.Fatalf("stored = %d, want 1 (unmonitored handle accepted)", store.Len())
	}
}

func TestHandleStoresAndNotifiesOnMatch(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, []string{"bitcoin"}, "-1009990001")
	notifier := &captureNotifier{}
	l := NewListener(cfg, store, notifier, nil)

	l.Handle(context.Background(), liveMessage("-1005550001", 42, "Bitcoin just dipped"))

	if store.Len() != 1 {
		t.Fatalf("stored = %d, want 1", store.Len())
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.calls))
	}
	f := notifier.calls[0]
	if f.Term != "bitcoin" || f.Link != "https://t.me/c/5550001/42" {
		t.Fatalf("finding = %+v", f)
	}
	if f.Date == "" {
		t.Fatal("finding date not set")
	}
}

func TestHandleDiscardsWhileIdle(t *testing.T) {
	cfg, store := newFixture(t, false, []string{"-1005550001"}, []string{"bitcoin"}, "")
	l := NewListener(cfg, store, nil, nil)

	l.Handle(context.Background(), liveMessage("-1005550001", 1, "bitcoin"))

	if store.Len() != 0 {
		t.Fatal("idle watch must not collect")
	}
}

func TestHandleDiscardsUnmonitoredChat(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, []string{"bitcoin"}, "")
	l := NewListener(cfg, store, nil, nil)

	l.Handle(context.Background(), liveMessage("-1007770002", 1, "bitcoin"))

	if store.Len() != 0 {
		t.Fatal("chat off the monitored list must be dropped")
	}
}

func TestHandleDiscardsWithoutTerms(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, nil, "")
	l := NewListener(cfg, store, nil, nil)

	l.Handle(context.Background(), liveMessage("-1005550001", 1, "anything"))

	if store.Len() != 0 {
		t.Fatal("empty term list must match nothing")
	}
}

func TestHandleMatchesHiddenLinkTarget(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, []string{"bitcoin"}, "")
	l := NewListener(cfg, store, nil, nil)

	msg := liveMessage("-1005550001", 7, "check this out")
	msg.Spans = []core.LinkSpan{{Offset: 6, Length: 4, URL: "https://bitcoin.example/buy"}}
	l.Handle(context.Background(), msg)

	if store.Len() != 1 {
		t.Fatal("link target must be searchable")
	}
}

func TestHandleDuplicateDoesNotReNotify(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, []string{"bitcoin"}, "-1009990001")
	notifier := &captureNotifier{}
	l := NewListener(cfg, store, notifier, nil)

	msg := liveMessage("-1005550001", 42, "bitcoin twice")
	l.Handle(context.Background(), msg)
	l.Handle(context.Background(), msg)

	if store.Len() != 1 {
		t.Fatalf("stored = %d, want 1", store.Len())
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.calls))
	}
}

func TestHandleNotifierFailureIsSwallowed(t *testing.T) {
	cfg, store := newFixture(t, true, []string{"-1005550001"}, []string{"bitcoin"}, "-1009990001")
	notifier := &captureNotifier{err: errors.New("chat not found")}
	l := NewListener(cfg, store, notifier, nil)

	l.Handle(context.Background(), liveMessage("-1005550001", 1, "bitcoin"))

	if store.Len() != 1 {
		t.Fatal("finding must survive a failed alert")
	}
}

func TestFromUpdateTextMessage(t *testing.T) {
	u := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 42,
		Date:      1720000000,
		Chat:      &tgbotapi.Chat{ID: -1005550001, Title: "Crypto Chat", UserName: "qodeqnews", Type: "supergroup"},
		From:      &tgbotapi.User{FirstName: "Alice", UserName: "alice"},
		Text:      "take a look",
		Entities: []tgbotapi.MessageEntity{
			{Type: "text_link", Offset: 7, Length: 4, URL: "https://example.com"},
			{Type: "bold", Offset: 0, Length: 4},
		},
	}}

	msg, ok := FromUpdate(u)
	if !ok {
		t.Fatal("message update rejected")
	}
	if msg.ChatID != "-1005550001" || msg.ID != 42 || msg.Author != "Alice" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.ChatHandle != "qodeqnews" {
		t.Fatalf("chat handle = %q", msg.ChatHandle)
	}
	if len(msg.Spans) != 1 || msg.Spans[0].URL != "https://example.com" {
		t.Fatalf("spans = %+v", msg.Spans)
	}
}

func TestFromUpdateChannelPostCaption(t *testing.T) {
	u := tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 9,
		Chat:      &tgbotapi.Chat{ID: -1005550001, Title: "News", Type: "channel"},
		Caption:   "photo caption",
		CaptionEntities: []tgbotapi.MessageEntity{
			{Type: "url", Offset: 0, Length: 5},
		},
	}}

	msg, ok := FromUpdate(u)
	if !ok {
		t.Fatal("channel post rejected")
	}
	if msg.Text != "photo caption" || msg.Author != "Channel" {
		t.Fatalf("msg = %+v", msg)
	}
	if len(msg.Spans) != 1 {
		t.Fatalf("spans = %+v", msg.Spans)
	}
}

func TestFromUpdateRejectsEmpty(t *testing.T) {
	if _, ok := FromUpdate(tgbotapi.Update{}); ok {
		t.Fatal("empty update accepted")
	}
	u := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
	}}
	if _, ok := FromUpdate(u); ok {
		t.Fatal("textless message accepted")
	}
}
