// Package watch owns the idle/scanning toggle that gates both ingestion
// paths, and drives the backfill run launched by a toggle-on. Each run
// carries a generation number: stopping or restarting the watch bumps the
// generation, so a stale run's completion cannot flip state for a newer
// one.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vmelniki2828/qodeq-finder/internal/configstore"
	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/crawl"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
)

var (
	// ErrNoChats and ErrNoTerms are user-facing refusals; the toggle is
	// rejected with no state change.
	ErrNoChats = errors.New("no chats configured: add a channel or group before starting")
	ErrNoTerms = errors.New("no search terms configured: add a term before starting")
)

const DefaultMaxPerChat = 1000

// Resolver turns a configured identifier into a queryable chat.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (resolve.Resolved, error)
}

// Backfill crawls one resolved chat's history.
type Backfill interface {
	Crawl(ctx context.Context, chat resolve.Resolved, terms []string, maxMessages int) (crawl.Result, error)
}

// Results is the slice of the result store the controller needs.
type Results interface {
	Clear() error
	AppendAll([]core.Finding) (int, error)
}

// ChatError records a per-chat failure; it never aborts the rest of the
// run.
type ChatError struct {
	ChatID string
	Err    error
}

// Summary describes one completed (or cancelled) backfill run.
type Summary struct {
	Found     int
	Processed int
	Errors    []ChatError
	Cancelled bool
}

type Controller struct {
	cfg        *configstore.Store
	results    Results
	resolver   Resolver
	backfill   Backfill
	maxPerChat int
	onDone     func(Summary)
	log        *slog.Logger

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
}

type Options struct {
	MaxPerChat int
	// OnDone fires after a run finishes naturally; the presentation layer
	// uses it to announce completion. Not called for cancelled runs.
	OnDone func(Summary)
}

func NewController(cfg *configstore.Store, results Results, resolver Resolver, backfill Backfill, opts Options, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	maxPerChat := opts.MaxPerChat
	if maxPerChat <= 0 {
		maxPerChat = DefaultMaxPerChat
	}
	return &Controller{
		cfg:        cfg,
		results:    results,
		resolver:   resolver,
		backfill:   backfill,
		maxPerChat: maxPerChat,
		onDone:     opts.OnDone,
		log:        log,
	}
}

func (c *Controller) Scanning() bool { return c.cfg.Scanning() }

// Start transitions idle -> scanning: clears collected findings, persists
// the flag, and launches the backfill run in the background. Refused when
// either the chat list or the term list is empty.
func (c *Controller) Start(ctx context.Context) error {
	doc := c.cfg.Snapshot()
	if len(doc.MonitoredChats) == 0 {
		return ErrNoChats
	}
	if len(doc.SearchTerms) == 0 {
		return ErrNoTerms
	}

	if err := c.results.Clear(); err != nil {
		c.log.Error("watch: clear results", "err", err)
	}
	if err := c.cfg.SetScanning(true); err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.log.Info("watch: scanning started",
		"chats", len(doc.MonitoredChats), "terms", len(doc.SearchTerms))
	go c.run(runCtx, gen, doc.MonitoredChats, doc.SearchTerms)
	return nil
}

// Stop transitions scanning -> idle and cancels the in-flight run. The
// run's eventual completion becomes a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.mu.Unlock()

	c.log.Info("watch: scanning stopped")
	return c.cfg.SetScanning(false)
}

// run crawls each monitored chat sequentially in list order, appending and
// persisting after every chat so a mid-run failure keeps earlier chats'
// findings.
func (c *Controller) run(ctx context.Context, gen int, chats, terms []string) {
	var sum Summary

	for _, chatID := range chats {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		resolved, err := c.resolver.Resolve(ctx, chatID)
		if err != nil {
			c.log.Warn("watch: chat resolution failed", "chat", chatID, "err", err)
			sum.Errors = append(sum.Errors, ChatError{ChatID: chatID, Err: err})
			continue
		}

		res, err := c.backfill.Crawl(ctx, resolved, terms, c.maxPerChat)
		sum.Processed += res.Processed
		if len(res.Findings) > 0 {
			added, appendErr := c.results.AppendAll(res.Findings)
			sum.Found += added
			if appendErr != nil {
				c.log.Error("watch: persist chat findings", "chat", chatID, "err", appendErr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				sum.Cancelled = true
				break
			}
			c.log.Warn("watch: chat crawl stopped early", "chat", chatID, "err", err)
			sum.Errors = append(sum.Errors, ChatError{ChatID: chatID, Err: err})
		}
	}

	c.finish(gen, sum)
}

// finish applies the scanning -> idle transition for a naturally completed
// run. A generation mismatch means the watch was stopped (or restarted)
// while this run was in flight; it must not resurrect or re-idle anything.
func (c *Controller) finish(gen int, sum Summary) {
	c.mu.Lock()
	current := gen == c.gen
	if current {
		c.cancel = nil
	}
	c.mu.Unlock()

	if !current || sum.Cancelled {
		c.log.Info("watch: stale run finished, no state change",
			"found", sum.Found, "cancelled", sum.Cancelled)
		return
	}

	if err := c.cfg.SetScanning(false); err != nil {
		c.log.Error("watch: persist idle state", "err", err)
	}
	c.log.Info("watch: backfill run complete",
		"found", sum.Found, "processed", sum.Processed, "chat_errors", len(sum.Errors))
	if c.onDone != nil {
		c.onDone(sum)
	}
}
