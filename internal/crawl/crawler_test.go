package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
)

// fakePager serves a synthetic history of messages with IDs 1..total,
// newest first, honoring the older-than cursor.
type fakePager struct {
	total    int
	text     func(id int64) string
	fetches  int
	failOn   int // 1-based fetch index to fail at; 0 = never
	blockCtx bool
}

func (p *fakePager) HistoryPage(ctx context.Context, _ tg.InputPeerClass, beforeID int64, limit int) ([]core.Message, error) {
	p.fetches++
	if p.failOn > 0 && p.fetches == p.failOn {
		return nil, errors.New("FLOOD_WAIT_30")
	}
	if p.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	newest := int64(p.total)
	if beforeID > 0 {
		newest = beforeID - 1
	}
	var page []core.Message
	for id := newest; id >= 1 && len(page) < limit; id-- {
		text := fmt.Sprintf("message %d", id)
		if p.text != nil {
			text = p.text(id)
		}
		page = append(page, core.Message{ID: id, Text: text, Unix: 1700000000 + id})
	}
	return page, nil
}

func testChat() resolve.Resolved {
	return resolve.Resolved{Identifier: "-1005550001", BareID: 5550001, Title: "Test Channel"}
}

func newTestCrawler(p Pager) *Crawler {
	return New(p, Options{PageSize: 100, PageDelay: time.Microsecond}, nil)
}

func TestCrawlPaginationTerminatesOnShortPage(t *testing.T) {
	pager := &fakePager{total: 250}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"zzz-no-match"}, 1000)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if pager.fetches != 3 {
		t.Fatalf("fetches = %d, want 3 (100, 100, 50)", pager.fetches)
	}
	if res.Processed != 250 {
		t.Fatalf("processed = %d, want 250", res.Processed)
	}
	if len(res.Findings) != 0 {
		t.Fatalf("unexpected findings: %d", len(res.Findings))
	}
}

func TestCrawlCapTruncatesMidPage(t *testing.T) {
	pager := &fakePager{total: 300}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"nope"}, 150)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if res.Processed != 150 {
		t.Fatalf("processed = %d, want 150", res.Processed)
	}
	if pager.fetches != 2 {
		t.Fatalf("fetches = %d, want 2", pager.fetches)
	}
}

func TestCrawlServiceMessagesDoNotEndPagination(t *testing.T) {
	// Joins, pins and deleted entries arrive as textless placeholders. A
	// page containing them is still a full page, so the crawl must keep
	// walking instead of declaring the history exhausted.
	pager := &fakePager{
		total: 250,
		text: func(id int64) string {
			if id%100 == 0 {
				return ""
			}
			return fmt.Sprintf("message %d", id)
		},
	}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"message"}, 1000)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if pager.fetches != 3 {
		t.Fatalf("fetches = %d, want 3 (crawl stopped early)", pager.fetches)
	}
	if res.Processed != 250 {
		t.Fatalf("processed = %d, want 250", res.Processed)
	}
	if len(res.Findings) != 248 {
		t.Fatalf("findings = %d, want 248 (textless entries must not match)", len(res.Findings))
	}
}

func TestCrawlCapOnPageBoundarySkipsExtraFetch(t *testing.T) {
	pager := &fakePager{total: 300}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"nope"}, 100)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if res.Processed != 100 {
		t.Fatalf("processed = %d, want 100", res.Processed)
	}
	if pager.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (cap reached, no further page needed)", pager.fetches)
	}
}

func TestCrawlHandleChatKeysFindingsByNumericID(t *testing.T) {
	pager := &fakePager{
		total: 1,
		text:  func(int64) string { return "bitcoin news" },
	}
	c := newTestCrawler(pager)
	chat := resolve.Resolved{
		Identifier: "@qodeqnews",
		BareID:     5550001,
		Title:      "Qodeq News",
		Username:   "qodeqnews",
		Peer:       &tg.InputPeerChannel{ChannelID: 5550001},
	}

	res, err := c.Crawl(context.Background(), chat, []string{"bitcoin"}, 10)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	if f.ChatID != "-1005550001" {
		t.Fatalf("chat id = %q, want the Bot API numeric form", f.ChatID)
	}
	if f.Link != "https://t.me/qodeqnews/1" {
		t.Fatalf("link = %q", f.Link)
	}
}

func TestCrawlPartialFailureKeepsEarlierFindings(t *testing.T) {
	pager := &fakePager{
		total:  250,
		failOn: 2,
		text: func(id int64) string {
			if id > 150 { // first page covers IDs 151..250
				return fmt.Sprintf("bitcoin giveaway %d", id)
			}
			return fmt.Sprintf("message %d", id)
		},
	}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"bitcoin"}, 1000)
	if err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if !strings.Contains(err.Error(), "fetch history page") {
		t.Fatalf("error lacks context: %v", err)
	}
	if len(res.Findings) != 100 {
		t.Fatalf("findings = %d, want the 100 from page one", len(res.Findings))
	}
	if res.Processed != 100 {
		t.Fatalf("processed = %d, want 100", res.Processed)
	}
}

func TestCrawlFindingsAscendWithinPage(t *testing.T) {
	pager := &fakePager{
		total: 50,
		text:  func(id int64) string { return fmt.Sprintf("promo %d", id) },
	}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"promo"}, 1000)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Findings) != 50 {
		t.Fatalf("findings = %d, want 50", len(res.Findings))
	}
	for i := 1; i < len(res.Findings); i++ {
		if res.Findings[i-1].MessageID >= res.Findings[i].MessageID {
			t.Fatalf("findings not ascending at %d: %d then %d",
				i, res.Findings[i-1].MessageID, res.Findings[i].MessageID)
		}
	}
	f := res.Findings[0]
	if f.MessageID != 1 || f.Link != "https://t.me/c/5550001/1" || f.ChatName != "Test Channel" {
		t.Fatalf("finding fields wrong: %+v", f)
	}
	if f.Term != "promo" {
		t.Fatalf("matched term = %q", f.Term)
	}
}

func TestCrawlCancelledContextStopsFetchLoop(t *testing.T) {
	pager := &fakePager{total: 10, blockCtx: true}
	c := newTestCrawler(pager)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Crawl(ctx, testChat(), []string{"x"}, 1000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCrawlEmptyHistory(t *testing.T) {
	pager := &fakePager{total: 0}
	c := newTestCrawler(pager)

	res, err := c.Crawl(context.Background(), testChat(), []string{"x"}, 1000)
	if err != nil || res.Processed != 0 || len(res.Findings) != 0 {
		t.Fatalf("empty history: res=%+v err=%v", res, err)
	}
	if pager.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", pager.fetches)
	}
}
