package telegram

import (
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
)

func chatList(chats tg.MessagesChatsClass) []tg.ChatClass {
	switch c := chats.(type) {
	case *tg.MessagesChats:
		return c.Chats
	case *tg.MessagesChatsSlice:
		return c.Chats
	default:
		return nil
	}
}

func firstResolved(chats []tg.ChatClass) (resolve.Resolved, error) {
	for _, c := range chats {
		if res, ok := resolvedFromChat(c); ok {
			return res, nil
		}
	}
	return resolve.Resolved{}, errors.New("response contained no usable chat")
}

// resolvedFromChat maps channels and basic groups to peers. Forbidden and
// deleted chats report false.
func resolvedFromChat(c tg.ChatClass) (resolve.Resolved, bool) {
	switch chat := c.(type) {
	case *tg.Channel:
		return resolve.Resolved{
			BareID:   chat.ID,
			Title:    chat.Title,
			Username: chat.Username,
			Peer:     &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
		}, true
	case *tg.Chat:
		return resolve.Resolved{
			BareID: chat.ID,
			Title:  chat.Title,
			Peer:   &tg.InputPeerChat{ChatID: chat.ID},
		}, true
	default:
		return resolve.Resolved{}, false
	}
}

func userNames(users []tg.UserClass) map[int64]string {
	names := make(map[int64]string, len(users))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		switch {
		case user.FirstName != "":
			names[user.ID] = user.FirstName
		case user.Username != "":
			names[user.ID] = user.Username
		}
	}
	return names
}

// normalize converts one MTProto message; entity offsets stay in UTF-16
// units.
func normalize(msg *tg.Message, names map[int64]string) core.Message {
	return core.Message{
		ID:     int64(msg.ID),
		Text:   msg.Message,
		Spans:  linkSpans(msg.Entities),
		Author: author(msg, names),
		Unix:   int64(msg.Date),
	}
}

func linkSpans(entities []tg.MessageEntityClass) []core.LinkSpan {
	var spans []core.LinkSpan
	for _, e := range entities {
		switch ent := e.(type) {
		case *tg.MessageEntityTextURL:
			spans = append(spans, core.LinkSpan{Offset: ent.Offset, Length: ent.Length, URL: ent.URL})
		case *tg.MessageEntityURL:
			spans = append(spans, core.LinkSpan{Offset: ent.Offset, Length: ent.Length})
		}
	}
	return spans
}

func author(msg *tg.Message, names map[int64]string) string {
	if msg.PostAuthor != "" {
		return msg.PostAuthor
	}
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		if name, ok := names[from.UserID]; ok {
			return name
		}
	}
	if msg.Post {
		return "Channel"
	}
	return "Unknown"
}
