package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vmelniki2828/qodeq-finder/internal/config"
	"github.com/vmelniki2828/qodeq-finder/internal/configstore"
	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/crawl"
	"github.com/vmelniki2828/qodeq-finder/internal/httpapi"
	"github.com/vmelniki2828/qodeq-finder/internal/listen"
	"github.com/vmelniki2828/qodeq-finder/internal/notify"
	"github.com/vmelniki2828/qodeq-finder/internal/resolve"
	"github.com/vmelniki2828/qodeq-finder/internal/results"
	"github.com/vmelniki2828/qodeq-finder/internal/sink"
	"github.com/vmelniki2828/qodeq-finder/internal/telegram"
	"github.com/vmelniki2828/qodeq-finder/internal/version"
	"github.com/vmelniki2828/qodeq-finder/internal/watch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("finder: load .env: %v", err)
	}

	var (
		versionFlag     bool
		settingsPath    string
		dbPath          string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		pageSize        int
		pageDelayMS     int
		maxPerChat      int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&settingsPath, "settings", "bot_settings.json", "Path to the watch settings document")
	flag.StringVar(&dbPath, "sqlite", "findings.db", "Path to SQLite findings archive")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address (e.g., :8080)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.IntVar(&pageSize, "page-size", 0, "History page size per crawl request")
	flag.IntVar(&pageDelayMS, "page-delay-ms", 0, "Delay between history pages in milliseconds")
	flag.IntVar(&maxPerChat, "max-per-chat", 0, "Maximum messages to inspect per chat during backfill")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"finder version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["settings"] {
		cfg.Settings.Path = strings.TrimSpace(settingsPath)
	}
	if overrides["sqlite"] {
		cfg.Sink.SQLite.Path = strings.TrimSpace(dbPath)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateLimitRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateLimitBurst = httpRateBurst
	}
	if overrides["page-size"] && pageSize > 0 {
		cfg.Watch.PageSize = pageSize
	}
	if overrides["page-delay-ms"] && pageDelayMS > 0 {
		cfg.Watch.PageDelayMS = pageDelayMS
	}
	if overrides["max-per-chat"] && maxPerChat > 0 {
		cfg.Watch.MaxPerChat = maxPerChat
	}

	log.Printf("%s", cfg.SummaryJSON())

	if cfg.Telegram.BotToken == "" {
		log.Fatal("finder: bot token is required (QODEQ_BOT_TOKEN)")
	}
	if cfg.Telegram.AppID == 0 || cfg.Telegram.AppHash == "" {
		log.Fatal("finder: mtproto credentials are required (QODEQ_APP_ID, QODEQ_APP_HASH)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("finder: received %s, shutting down", sig)
		cancel()
	}()

	store := configstore.Open(cfg.Settings.Path, logger)
	stopWatching, err := store.Watch(func(doc configstore.Document) {
		logger.Info("finder: settings reloaded from disk",
			"chats", len(doc.MonitoredChats), "terms", len(doc.SearchTerms), "scanning", doc.SearchEnabled)
	})
	if err != nil {
		log.Printf("finder: settings file watch unavailable: %v", err)
	} else {
		defer stopWatching()
	}

	resultStore := results.New(store, store.Snapshot().SearchResults, results.Options{
		SendDelay: cfg.SendDelay(),
	}, logger)

	sinkDB, err := sink.OpenSQLite(cfg.Sink.SQLite.Path)
	if err != nil {
		log.Fatalf("finder: open sqlite: %v", err)
	}
	defer func() {
		if err := sinkDB.Close(); err != nil {
			log.Printf("finder: closing sink: %v", err)
		}
	}()
	if err := sinkDB.Ping(); err != nil {
		log.Fatalf("finder: ping sqlite: %v", err)
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(resultStore, sinkDB, httpapi.Options{
		Addr:           cfg.HTTP.Addr,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Build:          build,
	})

	var archive sink.Writer = sink.WithAPI(sinkDB, api)
	buffered := sink.NewBufferedWriter(archive, sink.BufferedOptions{
		BatchSize:     cfg.Batch(),
		FlushInterval: cfg.FlushInterval(),
	})
	defer func() {
		if err := buffered.Close(); err != nil {
			log.Printf("finder: flush archive: %v", err)
		}
	}()
	resultStore.OnAppend(func(f core.Finding) {
		if err := buffered.Write(f); err != nil {
			log.Printf("finder: archive finding: %v", err)
		}
	})

	zapLog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("finder: zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	mtproto := telegram.New(telegram.Config{
		AppID:       cfg.Telegram.AppID,
		AppHash:     cfg.Telegram.AppHash,
		SessionFile: cfg.Telegram.SessionFile,
		BotToken:    cfg.Telegram.BotToken,
		Logger:      zapLog.Named("mtproto"),
	}, logger)
	go func() {
		if err := mtproto.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("finder: mtproto client exited: %v", err)
			cancel()
		}
	}()

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatalf("finder: bot api login: %v", err)
	}
	log.Printf("finder: bot api authorized as @%s", bot.Self.UserName)

	notifier := notify.New(bot, logger)

	gateway := mtproto.Gateway()
	resolver := resolve.New(gateway, logger)
	crawler := crawl.New(gateway, crawl.Options{
		PageSize:  cfg.Watch.PageSize,
		PageDelay: cfg.PageDelay(),
	}, logger)

	controller := watch.NewController(store, resultStore, resolver, crawler, watch.Options{
		MaxPerChat: cfg.Watch.MaxPerChat,
		OnDone: func(sum watch.Summary) {
			target := store.Snapshot().NotificationChatID
			if target == "" {
				return
			}
			text := fmt.Sprintf("Scan finished: %d findings across %d messages", sum.Found, sum.Processed)
			if len(sum.Errors) > 0 {
				text += fmt.Sprintf(" (%d chats failed)", len(sum.Errors))
			}
			if err := notifier.NotifyText(ctx, target, text); err != nil {
				logger.Warn("finder: completion notice failed", "err", err)
				return
			}
			err := resultStore.Stream(ctx, 5, func(batch []core.Finding) error {
				var b strings.Builder
				for _, f := range batch {
					fmt.Fprintf(&b, "%s: %q\n%s\n\n", f.ChatName, f.Term, f.Link)
				}
				return notifier.NotifyText(ctx, target, strings.TrimSpace(b.String()))
			})
			if err != nil {
				logger.Warn("finder: result delivery stopped", "err", err)
			}
		},
	}, logger)

	admin := httpapi.NewAdmin(ctx, store, controller, resultStore)
	admin.Register(api.Mux())
	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("finder: http api: %v", err)
		}
	}()
	log.Printf("finder: http api ready on %s", cfg.HTTP.Addr)

	listener := listen.NewListener(store, resultStore, notifier, logger)

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := bot.GetUpdatesChan(updateCfg)

	log.Printf("finder: watching for live updates")
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := api.Shutdown(shutdownCtx); err != nil {
				log.Printf("finder: http shutdown: %v", err)
			}
			shutdownCancel()
			bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				cancel()
				continue
			}
			if handleCommand(ctx, bot, controller, update) {
				continue
			}
			if msg, ok := listen.FromUpdate(update); ok {
				listener.Handle(ctx, msg)
			}
		}
	}
}

// handleCommand answers the bot's own chat commands; everything else is
// treated as monitored traffic.
func handleCommand(ctx context.Context, bot *tgbotapi.BotAPI, controller *watch.Controller, update tgbotapi.Update) bool {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return false
	}

	reply := func(text string) {
		out := tgbotapi.NewMessage(msg.Chat.ID, text)
		if _, err := bot.Send(out); err != nil {
			log.Printf("finder: command reply: %v", err)
		}
	}

	switch msg.Command() {
	case "scan_start":
		if err := controller.Start(ctx); err != nil {
			reply("Cannot start: " + err.Error())
			return true
		}
		reply("Scanning started")
	case "scan_stop":
		if err := controller.Stop(); err != nil {
			reply("Cannot stop: " + err.Error())
			return true
		}
		reply("Scanning stopped")
	case "status":
		if controller.Scanning() {
			reply("Scanning is ON")
		} else {
			reply("Scanning is OFF")
		}
	default:
		return false
	}
	return true
}
