// Package config reads the QODEQ_* environment surface. Everything has a
// default so a bare binary starts; credentials are required only by the
// components that use them.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig
	Watch    WatchConfig
	Sink     SinkConfig
	HTTP     HTTPConfig
	Settings SettingsConfig
}

type TelegramConfig struct {
	BotToken    string
	AppID       int
	AppHash     string
	SessionFile string
}

type WatchConfig struct {
	PageSize    int
	PageDelayMS int
	SendDelayMS int
	MaxPerChat  int
}

type SinkConfig struct {
	SQLite     SQLiteConfig
	BatchSize  int
	FlushMaxMS int
}

type SQLiteConfig struct {
	Path string
}

type HTTPConfig struct {
	Addr           string
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
}

type SettingsConfig struct {
	Path string
}

const (
	defaultSettingsPath = "bot_settings.json"
	defaultSessionFile  = "session.json"
	defaultSQLitePath   = "findings.db"
	defaultHTTPAddr     = ":8080"
	defaultBatchSize    = 1
	defaultFlushMS      = 0
	defaultPageSize     = 100
	defaultPageDelayMS  = 100
	defaultSendDelayMS  = 100
	defaultMaxPerChat   = 1000
)

func Load() Config {
	cfg := Config{}

	cfg.Telegram.BotToken = strings.TrimSpace(os.Getenv("QODEQ_BOT_TOKEN"))
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	cfg.Telegram.AppID = readInt("QODEQ_APP_ID", 0)
	if cfg.Telegram.AppID == 0 {
		cfg.Telegram.AppID = readInt("API_ID", 0)
	}
	cfg.Telegram.AppHash = strings.TrimSpace(os.Getenv("QODEQ_APP_HASH"))
	if cfg.Telegram.AppHash == "" {
		cfg.Telegram.AppHash = strings.TrimSpace(os.Getenv("API_HASH"))
	}
	cfg.Telegram.SessionFile = strings.TrimSpace(os.Getenv("QODEQ_SESSION_FILE"))
	if cfg.Telegram.SessionFile == "" {
		cfg.Telegram.SessionFile = defaultSessionFile
	}

	cfg.Settings.Path = strings.TrimSpace(os.Getenv("QODEQ_SETTINGS_FILE"))
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = defaultSettingsPath
	}

	cfg.Watch.PageSize = readInt("QODEQ_PAGE_SIZE", defaultPageSize)
	cfg.Watch.PageDelayMS = readInt("QODEQ_PAGE_DELAY_MS", defaultPageDelayMS)
	cfg.Watch.SendDelayMS = readInt("QODEQ_SEND_DELAY_MS", defaultSendDelayMS)
	cfg.Watch.MaxPerChat = readInt("QODEQ_MAX_PER_CHAT", defaultMaxPerChat)

	cfg.Sink.SQLite.Path = strings.TrimSpace(os.Getenv("QODEQ_SINK_SQLITE_PATH"))
	if cfg.Sink.SQLite.Path == "" {
		cfg.Sink.SQLite.Path = defaultSQLitePath
	}
	cfg.Sink.BatchSize = readInt("QODEQ_SINK_BATCH_SIZE", defaultBatchSize)
	cfg.Sink.FlushMaxMS = readInt("QODEQ_SINK_FLUSH_MAX_MS", defaultFlushMS)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("QODEQ_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("QODEQ_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateLimitRPS = readInt("QODEQ_HTTP_RATE_RPS", 0)
	cfg.HTTP.RateLimitBurst = readInt("QODEQ_HTTP_RATE_BURST", 0)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func (c Config) PageDelay() time.Duration {
	if c.Watch.PageDelayMS <= 0 {
		return 0
	}
	return time.Duration(c.Watch.PageDelayMS) * time.Millisecond
}

func (c Config) SendDelay() time.Duration {
	if c.Watch.SendDelayMS <= 0 {
		return 0
	}
	return time.Duration(c.Watch.SendDelayMS) * time.Millisecond
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

type Summary struct {
	SettingsPath string          `json:"settings_path"`
	SQLitePath   string          `json:"sqlite_path"`
	BatchSize    int             `json:"batch"`
	FlushMaxMS   int             `json:"flush_ms"`
	Telegram     TelegramSummary `json:"telegram"`
	Watch        WatchSummary    `json:"watch"`
	HTTPAddr     string          `json:"http_addr"`
}

type TelegramSummary struct {
	BotToken    string `json:"bot_token,omitempty"`
	AppID       int    `json:"app_id,omitempty"`
	AppHash     string `json:"app_hash,omitempty"`
	SessionFile string `json:"session_file"`
}

type WatchSummary struct {
	PageSize    int `json:"page_size"`
	PageDelayMS int `json:"page_delay_ms"`
	SendDelayMS int `json:"send_delay_ms"`
	MaxPerChat  int `json:"max_per_chat"`
}

func (c Config) Summary() Summary {
	return Summary{
		SettingsPath: c.Settings.Path,
		SQLitePath:   c.Sink.SQLite.Path,
		BatchSize:    c.Sink.BatchSize,
		FlushMaxMS:   c.Sink.FlushMaxMS,
		Telegram: TelegramSummary{
			BotToken:    redactString(c.Telegram.BotToken),
			AppID:       c.Telegram.AppID,
			AppHash:     redactString(c.Telegram.AppHash),
			SessionFile: c.Telegram.SessionFile,
		},
		Watch: WatchSummary{
			PageSize:    c.Watch.PageSize,
			PageDelayMS: c.Watch.PageDelayMS,
			SendDelayMS: c.Watch.SendDelayMS,
			MaxPerChat:  c.Watch.MaxPerChat,
		},
		HTTPAddr: c.HTTP.Addr,
	}
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, err := json.Marshal(summary)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
