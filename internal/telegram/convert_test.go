package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestResolvedFromChannel(t *testing.T) {
	res, ok := resolvedFromChat(&tg.Channel{
		ID:         5550001,
		AccessHash: 777,
		Title:      "Crypto Chat",
		Username:   "cryptochat",
	})
	if !ok {
		t.Fatal("channel rejected")
	}
	if res.BareID != 5550001 || res.Title != "Crypto Chat" || res.Username != "cryptochat" {
		t.Fatalf("res = %+v", res)
	}
	peer, ok := res.Peer.(*tg.InputPeerChannel)
	if !ok || peer.ChannelID != 5550001 || peer.AccessHash != 777 {
		t.Fatalf("peer = %#v", res.Peer)
	}
}

func TestResolvedFromBasicGroup(t *testing.T) {
	res, ok := resolvedFromChat(&tg.Chat{ID: 42, Title: "Small Group"})
	if !ok {
		t.Fatal("basic group rejected")
	}
	if _, ok := res.Peer.(*tg.InputPeerChat); !ok {
		t.Fatalf("peer = %#v", res.Peer)
	}
}

func TestResolvedRejectsForbidden(t *testing.T) {
	if _, ok := resolvedFromChat(&tg.ChannelForbidden{ID: 1}); ok {
		t.Fatal("forbidden channel accepted")
	}
}

func TestNormalizeMessage(t *testing.T) {
	names := userNames([]tg.UserClass{
		&tg.User{ID: 10, FirstName: "Alice"},
		&tg.User{ID: 11, Username: "bob_handle"},
	})

	msg := normalize(&tg.Message{
		ID:      42,
		Date:    1720000000,
		Message: "see here for details",
		FromID:  &tg.PeerUser{UserID: 10},
		Entities: []tg.MessageEntityClass{
			&tg.MessageEntityTextURL{Offset: 4, Length: 4, URL: "https://bitcoin.example"},
			&tg.MessageEntityBold{Offset: 0, Length: 3},
		},
	}, names)

	if msg.ID != 42 || msg.Author != "Alice" || msg.Unix != 1720000000 {
		t.Fatalf("msg = %+v", msg)
	}
	if len(msg.Spans) != 1 || msg.Spans[0].URL != "https://bitcoin.example" {
		t.Fatalf("spans = %+v", msg.Spans)
	}
}

func TestNormalizeChannelPostAuthor(t *testing.T) {
	msg := normalize(&tg.Message{ID: 1, Post: true, Message: "news"}, nil)
	if msg.Author != "Channel" {
		t.Fatalf("author = %q", msg.Author)
	}

	msg = normalize(&tg.Message{ID: 2, Post: true, PostAuthor: "editor", Message: "news"}, nil)
	if msg.Author != "editor" {
		t.Fatalf("author = %q", msg.Author)
	}
}

func TestUserNamesFallsBackToUsername(t *testing.T) {
	names := userNames([]tg.UserClass{&tg.User{ID: 11, Username: "bob_handle"}})
	if names[11] != "bob_handle" {
		t.Fatalf("names = %v", names)
	}
}
