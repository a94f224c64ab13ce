// Package listen filters live Bot API traffic against the watch
// configuration and feeds matches into the shared result store.
package listen

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vmelniki2828/qodeq-finder/internal/configstore"
	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/match"
)

// Notifier delivers a match alert to the configured notification target.
type Notifier interface {
	Notify(ctx context.Context, target string, f core.Finding) error
}

// Results is the subset of the result store the listener needs. Append
// reports whether the finding was new; repeats of an already collected
// message never re-alert.
type Results interface {
	Append(f core.Finding) (bool, error)
}

type Listener struct {
	cfg      *configstore.Store
	results  Results
	notifier Notifier
	log      *slog.Logger
}

func NewListener(cfg *configstore.Store, results Results, notifier Notifier, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{cfg: cfg, results: results, notifier: notifier, log: log}
}

// Handle inspects one live message. Messages are dropped silently while
// the watch is idle, when the chat is not on the monitored list, or when
// no term matches; only a genuinely new match produces a notification.
func (l *Listener) Handle(ctx context.Context, msg core.Message) {
	doc := l.cfg.Snapshot()
	if !doc.SearchEnabled {
		return
	}
	if len(doc.MonitoredChats) > 0 && !monitored(doc.MonitoredChats, msg) {
		return
	}
	if len(doc.SearchTerms) == 0 {
		return
	}

	term, ok := match.FindTerm(match.Searchable(msg.Text, msg.Spans), doc.SearchTerms)
	if !ok {
		return
	}

	f := core.Finding{
		ChatID:    msg.ChatID,
		ChatName:  msg.ChatTitle,
		MessageID: msg.ID,
		Text:      msg.Text,
		Author:    msg.Author,
		Date:      core.FormatDate(msg.Unix),
		Link:      core.Permalink(msg.ChatID, msg.ID),
		Term:      term,
	}

	added, err := l.results.Append(f)
	if err != nil {
		l.log.Error("listen: store finding", "chat", f.ChatID, "message", f.MessageID, "err", err)
	}
	if !added {
		return
	}
	l.log.Info("listen: live match", "chat", f.ChatID, "message", f.MessageID, "term", term)

	if l.notifier == nil || doc.NotificationChatID == "" {
		return
	}
	if err := l.notifier.Notify(ctx, doc.NotificationChatID, f); err != nil {
		// Alert delivery is best effort; the finding is already stored.
		l.log.Warn("listen: notification failed", "target", doc.NotificationChatID, "err", err)
	}
}

// monitored accepts a live message when its numeric chat ID is configured,
// or when the chat's public handle is configured (with or without the @).
func monitored(chats []string, msg core.Message) bool {
	for _, c := range chats {
		if c == msg.ChatID {
			return true
		}
		if msg.ChatHandle != "" && strings.EqualFold(strings.TrimPrefix(c, "@"), msg.ChatHandle) {
			return true
		}
	}
	return false
}
