package listen

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

// FromUpdate converts a Bot API update into the normalized message shape.
// Returns false for updates that carry no message payload (callback
// queries, edits, member events) or a message with no text at all.
func FromUpdate(u tgbotapi.Update) (core.Message, bool) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return core.Message{}, false
	}

	text := msg.Text
	entities := msg.Entities
	if text == "" {
		text = msg.Caption
		entities = msg.CaptionEntities
	}
	if text == "" {
		return core.Message{}, false
	}

	return core.Message{
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		ChatTitle:  chatTitle(msg.Chat),
		ChatHandle: msg.Chat.UserName,
		ID:         int64(msg.MessageID),
		Text:       text,
		Spans:      linkSpans(entities),
		Author:     authorName(msg),
		Unix:       int64(msg.Date),
	}, true
}

func chatTitle(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.UserName != "" {
		return chat.UserName
	}
	return strconv.FormatInt(chat.ID, 10)
}

// linkSpans keeps only the entity kinds that carry a link: explicit URLs
// in the text and anchor-text links with a hidden target.
func linkSpans(entities []tgbotapi.MessageEntity) []core.LinkSpan {
	var spans []core.LinkSpan
	for _, e := range entities {
		switch e.Type {
		case "url", "text_link":
			spans = append(spans, core.LinkSpan{
				Offset: e.Offset,
				Length: e.Length,
				URL:    e.URL,
			})
		}
	}
	return spans
}

func authorName(msg *tgbotapi.Message) string {
	if msg.From != nil {
		if msg.From.FirstName != "" {
			return msg.From.FirstName
		}
		if msg.From.UserName != "" {
			return msg.From.UserName
		}
	}
	if msg.SenderChat != nil && msg.SenderChat.Title != "" {
		return msg.SenderChat.Title
	}
	if msg.Chat != nil && msg.Chat.IsChannel() {
		return "Channel"
	}
	return "Unknown"
}
