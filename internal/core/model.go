package core

import (
	"strconv"
	"strings"
	"time"
)

// channelPrefix is the fixed marker Bot-API chat IDs carry for
// supergroups/channels; t.me permalinks use the bare numeric form.
const channelPrefix = "-100"

// Finding is one message that matched a search term. Immutable once built;
// the JSON keys match the persisted settings document.
type Finding struct {
	ChatID    string `json:"chatId"`
	ChatName  string `json:"chatName"`
	MessageID int64  `json:"messageId"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Date      string `json:"date"`
	Link      string `json:"link"`
	Term      string `json:"term"`
}

// Key identifies the underlying physical message across both ingestion
// paths, so live and backfill hits for the same message collapse into one.
func (f Finding) Key() string {
	return f.ChatID + "/" + strconv.FormatInt(f.MessageID, 10)
}

// LinkSpan is a rich-text link annotation. Offset and Length are UTF-16
// code units, as Telegram defines entity offsets. URL is empty when the
// covered text itself is the link target.
type LinkSpan struct {
	Offset int
	Length int
	URL    string
}

// Message is the normalized inbound message shared by both transports.
// Each transport has exactly one adapter producing it.
type Message struct {
	ChatID     string
	ChatTitle  string
	ChatHandle string // public @username without the @, when the chat has one
	ID         int64
	Text       string
	Spans      []LinkSpan
	Author     string
	Unix       int64
}

// FormatDate renders a message timestamp the way findings persist it.
// RFC3339 in UTC keeps the archive's date ordering lexicographic.
func FormatDate(unix int64) string {
	if unix <= 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// BareChannelID strips the channel prefix from a chat identifier.
func BareChannelID(chatID string) string {
	if strings.HasPrefix(chatID, channelPrefix) && len(chatID) > len(channelPrefix) {
		return chatID[len(channelPrefix):]
	}
	return strings.TrimPrefix(chatID, "-")
}

// Permalink builds the t.me deep link for a message in a channel or
// supergroup.
func Permalink(chatID string, messageID int64) string {
	return "https://t.me/c/" + BareChannelID(chatID) + "/" + strconv.FormatInt(messageID, 10)
}
