package sink

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
)

// The archive runs fine on SQLite defaults; a watch covering many busy
// chats can opt into throughput pragmas. WAL mode is not listed here, it
// is always set at open time.
var tuningPragmas = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA mmap_size=268435456;",
}

func tuningEnabled() bool {
	return os.Getenv("QODEQ_SQLITE_TUNING") == "1"
}

func applyTuning(ctx context.Context, db *sql.DB) {
	log := slog.Default()
	for _, pragma := range tuningPragmas {
		value, err := execPragma(ctx, db, pragma)
		if err != nil {
			log.Warn("sink: tuning pragma failed", "pragma", pragma, "err", err)
			continue
		}
		log.Info("sink: tuning pragma applied", "pragma", pragma, "result", value)
	}
}

// execPragma reads the pragma's result when it reports one; statements
// with no result row fall back to a plain exec.
func execPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	err := db.QueryRowContext(ctx, pragma).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, pragma); err != nil {
		return nil, err
	}
	return "ok", nil
}
