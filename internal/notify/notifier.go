// Package notify delivers match alerts through the Bot API.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

// Sender is the slice of the Bot API client the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot Sender
	log *slog.Logger
}

func New(bot Sender, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{bot: bot, log: log}
}

// Notify sends a formatted alert for one finding. The target is either a
// numeric chat id or an @channel handle.
func (n *Notifier) Notify(ctx context.Context, target string, f core.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := FormatAlert(f)
	msg, err := buildMessage(target, text)
	if err != nil {
		return err
	}
	if _, err := n.bot.Send(msg); err != nil {
		return errors.Wrapf(err, "send alert to %s", target)
	}
	n.log.Debug("notify: alert delivered", "target", target, "chat", f.ChatID, "message", f.MessageID)
	return nil
}

// NotifyText sends a plain status line, such as a scan completion notice.
func (n *Notifier) NotifyText(ctx context.Context, target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(target, text)
	if err != nil {
		return err
	}
	if _, err := n.bot.Send(msg); err != nil {
		return errors.Wrapf(err, "send notice to %s", target)
	}
	return nil
}

func buildMessage(target, text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(target, "@") {
		return tgbotapi.NewMessageToChannel(target, text), nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, errors.Wrapf(err, "notification target %q", target)
	}
	return tgbotapi.NewMessage(id, text), nil
}

// FormatAlert renders the plain-text alert body for a finding.
func FormatAlert(f core.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Match for %q\n", f.Term)
	fmt.Fprintf(&b, "Chat: %s\n", f.ChatName)
	fmt.Fprintf(&b, "From: %s\n", f.Author)
	if f.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", f.Date)
	}
	fmt.Fprintf(&b, "\n%s\n", truncate(f.Text, 500))
	if f.Link != "" {
		fmt.Fprintf(&b, "\n%s", f.Link)
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
