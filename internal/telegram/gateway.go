package telegram

import (
	"context"
	"log/slog"

	"github.com/gotd/td/tg"
	"github.com/pkg/errors"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
)

// Gateway adapts raw MTProto calls to the resolver's directory surface and
// the crawler's history pager.
type Gateway struct {
	api *tg.Client
	log *slog.Logger
}

func NewGateway(api *tg.Client, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{api: api, log: log}
}

// LookupHandle resolves a public @username via contacts.resolveUsername.
func (g *Gateway) LookupHandle(ctx context.Context, handle string) (resolve.Resolved, error) {
	peer, err := g.api.ContactsResolveUsername(ctx, handle)
	if err != nil {
		return resolve.Resolved{}, errors.Wrapf(err, "resolve username %q", handle)
	}
	for _, c := range peer.Chats {
		if res, ok := resolvedFromChat(c); ok {
			return res, nil
		}
	}
	return resolve.Resolved{}, errors.Errorf("username %q resolved to no chat", handle)
}

// LookupID asks messages.getChats for a numeric ID. Works for basic
// groups; channels answer with an error and the caller falls through.
func (g *Gateway) LookupID(ctx context.Context, id int64) (resolve.Resolved, error) {
	chats, err := g.api.MessagesGetChats(ctx, []int64{id})
	if err != nil {
		return resolve.Resolved{}, errors.Wrapf(err, "get chat %d", id)
	}
	return firstResolved(chatList(chats))
}

// LookupChannelRaw queries channels.getChannels with a zero access hash,
// which Telegram accepts for some chats the session can already see.
func (g *Gateway) LookupChannelRaw(ctx context.Context, channelID int64) (resolve.Resolved, error) {
	chats, err := g.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: channelID, AccessHash: 0},
	})
	if err != nil {
		return resolve.Resolved{}, errors.Wrapf(err, "get channel %d without access hash", channelID)
	}
	return firstResolved(chatList(chats))
}

// RecentDialogs lists the session's own conversations, newest first.
func (g *Gateway) RecentDialogs(ctx context.Context, limit int) ([]resolve.Resolved, error) {
	dialogs, err := g.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get dialogs")
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	default:
		return nil, errors.Errorf("unexpected dialogs response %T", dialogs)
	}

	out := make([]resolve.Resolved, 0, len(chats))
	for _, c := range chats {
		if res, ok := resolvedFromChat(c); ok {
			out = append(out, res)
		}
	}
	return out, nil
}

// HistoryPage fetches one page of history strictly older than beforeID.
// A zero beforeID starts from the newest message.
func (g *Gateway) HistoryPage(ctx context.Context, peer tg.InputPeerClass, beforeID int64, limit int) ([]core.Message, error) {
	hist, err := g.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: int(beforeID),
		Limit:    limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get history")
	}

	var (
		msgs  []tg.MessageClass
		users []tg.UserClass
	)
	switch h := hist.(type) {
	case *tg.MessagesMessages:
		msgs, users = h.Messages, h.Users
	case *tg.MessagesMessagesSlice:
		msgs, users = h.Messages, h.Users
	case *tg.MessagesChannelMessages:
		msgs, users = h.Messages, h.Users
	default:
		return nil, errors.Errorf("unexpected history response %T", hist)
	}

	names := userNames(users)
	out := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		// Callers size pages and place cursors from what upstream actually
		// sent, so service and deleted entries stay in the page as textless
		// placeholders instead of being dropped.
		switch msg := m.(type) {
		case *tg.Message:
			out = append(out, normalize(msg, names))
		case *tg.MessageService:
			out = append(out, core.Message{ID: int64(msg.ID), Unix: int64(msg.Date)})
		case *tg.MessageEmpty:
			out = append(out, core.Message{ID: int64(msg.ID)})
		}
	}
	return out, nil
}
