// Package crawl walks a chat's message history backward in fixed pages,
// matching each message against the active term set. It self-limits with a
// mandatory delay between page fetches and survives partial failure: a
// broken fetch returns what was already collected together with the error.
package crawl

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/match"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
)

const (
	DefaultPageSize  = 100
	DefaultPageDelay = 100 * time.Millisecond
)

// Pager fetches one page of history strictly older than beforeID.
// beforeID == 0 means "start from the newest message".
type Pager interface {
	HistoryPage(ctx context.Context, peer tg.InputPeerClass, beforeID int64, limit int) ([]core.Message, error)
}

// Result carries the findings of one chat's crawl plus how many messages
// were examined. Findings may be non-empty even when Crawl also returns an
// error.
type Result struct {
	Findings  []core.Finding
	Processed int
}

type Options struct {
	PageSize  int
	PageDelay time.Duration
}

type Crawler struct {
	pager    Pager
	pageSize int
	limiter  *rate.Limiter
	log      *slog.Logger
}

func New(pager Pager, opts Options, log *slog.Logger) *Crawler {
	if log == nil {
		log = slog.Default()
	}
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	delay := opts.PageDelay
	if delay <= 0 {
		delay = DefaultPageDelay
	}
	// Burst 1 lets the first fetch go immediately; every later fetch waits
	// out the fixed delay.
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	return &Crawler{pager: pager, pageSize: size, limiter: limiter, log: log}
}

// Crawl pages backward through chat's history until the history is
// exhausted, maxMessages have been examined, or a fetch fails. Findings
// are emitted oldest-to-newest within each page.
func (c *Crawler) Crawl(ctx context.Context, chat resolve.Resolved, terms []string, maxMessages int) (Result, error) {
	var res Result
	var cursor int64 // older-than message ID; 0 = newest
	chatID := chat.CanonicalID()

	c.log.Info("crawl: starting history scan", "chat", chat.Identifier, "title", chat.Title)

	for {
		if maxMessages > 0 && res.Processed >= maxMessages {
			break
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return res, err
		}

		page, err := c.pager.HistoryPage(ctx, chat.Peer, cursor, c.pageSize)
		if err != nil {
			// Unrecoverable for this chat; partial results stand.
			return res, errors.Wrapf(err, "fetch history page before id %d", cursor)
		}
		if len(page) == 0 {
			break
		}

		sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })

		capped := false
		for _, msg := range page {
			if maxMessages > 0 && res.Processed >= maxMessages {
				capped = true
				break
			}
			res.Processed++

			// Service and deleted entries arrive as textless placeholders;
			// they count toward the page and the cap but never match.
			if msg.Text == "" && len(msg.Spans) == 0 {
				continue
			}

			searchable := match.Searchable(msg.Text, msg.Spans)
			term, ok := match.FindTerm(searchable, terms)
			if !ok {
				continue
			}
			res.Findings = append(res.Findings, core.Finding{
				ChatID:    chatID,
				ChatName:  chat.Title,
				MessageID: msg.ID,
				Text:      msg.Text,
				Author:    msg.Author,
				Date:      core.FormatDate(msg.Unix),
				Link:      permalink(chat, msg.ID),
				Term:      term,
			})
			c.log.Info("crawl: match", "chat", chat.Title, "message_id", msg.ID, "term", term)
		}

		cursor = page[0].ID // ascending sort: smallest ID seen this page
		if capped || len(page) < c.pageSize {
			break
		}
	}

	c.log.Info("crawl: finished", "chat", chat.Identifier,
		"found", len(res.Findings), "processed", res.Processed)
	return res, nil
}

// permalink prefers the public handle, then the bare channel ID; the raw
// identifier is the fallback for chats resolved without either.
func permalink(chat resolve.Resolved, messageID int64) string {
	if chat.Username != "" {
		return "https://t.me/" + chat.Username + "/" + strconv.FormatInt(messageID, 10)
	}
	if chat.BareID > 0 {
		return "https://t.me/c/" + strconv.FormatInt(chat.BareID, 10) + "/" + strconv.FormatInt(messageID, 10)
	}
	return core.Permalink(chat.Identifier, messageID)
}
