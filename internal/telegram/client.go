// Package telegram wraps the MTProto client used for the history crawl.
// Live traffic arrives over the Bot API instead; only resolution and
// backfill go through this path.
package telegram

import (
	"context"
	"log/slog"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	AppID       int
	AppHash     string
	SessionFile string
	// BotToken lets a fresh session log in as a bot. An already
	// authorized session file takes precedence.
	BotToken string
	Logger   *zap.Logger
}

// Client owns the MTProto connection lifecycle. API calls are valid only
// after Ready is closed.
type Client struct {
	tg       *telegram.Client
	botToken string
	ready    chan struct{}
	log      *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	opts := telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
	}
	if cfg.Logger != nil {
		opts.Logger = cfg.Logger
	}
	return &Client{
		tg:       telegram.NewClient(cfg.AppID, cfg.AppHash, opts),
		botToken: cfg.BotToken,
		ready:    make(chan struct{}),
		log:      log,
	}
}

// Run connects and blocks until ctx is cancelled. It refuses to serve an
// unauthorized session unless a bot token is available for a first login.
func (c *Client) Run(ctx context.Context) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		status, err := c.tg.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "query auth status")
		}
		if !status.Authorized {
			if c.botToken == "" {
				return errors.New("session is not authorized and no bot token is configured")
			}
			if _, err := c.tg.Auth().Bot(ctx, c.botToken); err != nil {
				return errors.Wrap(err, "bot login")
			}
			c.log.Info("telegram: fresh bot session authorized")
		}
		close(c.ready)
		c.log.Info("telegram: mtproto client connected")

		<-ctx.Done()
		return ctx.Err()
	})
}

// Ready is closed once the connection is authorized and usable.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Gateway returns the lookup and history surface backed by this client.
func (c *Client) Gateway() *Gateway {
	return NewGateway(c.tg.API(), c.log)
}
