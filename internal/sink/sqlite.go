package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
	"github.com/vmelniki2828/qodeq-finder/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS findings (
  chat_id TEXT NOT NULL,
  chat_name TEXT NOT NULL DEFAULT '',
  message_id INTEGER NOT NULL,
  text TEXT NOT NULL,
  author TEXT NOT NULL DEFAULT '',
  date TEXT NOT NULL DEFAULT '',
  link TEXT NOT NULL DEFAULT '',
  term TEXT NOT NULL,
  PRIMARY KEY (chat_id, message_id)
);`

// SQLiteSink archives every finding ever collected. Unlike the settings
// document, the archive survives watch restarts and result clears.
type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if tuningEnabled() {
		applyTuning(context.Background(), db)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// Write inserts one finding. A repeat of an already archived message is a
// silent no-op.
func (s *SQLiteSink) Write(f core.Finding) error {
	const q = `INSERT INTO findings (chat_id, chat_name, message_id, text, author, date, link, term)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chat_id, message_id) DO NOTHING;`
	_, err := s.db.Exec(q, f.ChatID, f.ChatName, f.MessageID, f.Text, f.Author, f.Date, f.Link, f.Term)
	return errors.Wrap(err, "insert finding")
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountFindings(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildFindingQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListFindings(ctx context.Context, filters httpapi.Filters) ([]core.Finding, error) {
	query, args := buildFindingQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list findings")
	}
	defer rows.Close()

	var out []core.Finding
	for rows.Next() {
		var f core.Finding
		if err := rows.Scan(&f.ChatID, &f.ChatName, &f.MessageID, &f.Text, &f.Author, &f.Date, &f.Link, &f.Term); err != nil {
			return nil, errors.Wrap(err, "scan finding")
		}
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate findings")
	}
	return out, nil
}

func buildFindingQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM findings")
	} else {
		builder.WriteString("SELECT chat_id, chat_name, message_id, text, author, date, link, term FROM findings")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Chats) > 0 {
		placeholders := make([]string, 0, len(filters.Chats))
		for _, c := range filters.Chats {
			placeholders = append(placeholders, "?")
			args = append(args, c)
		}
		conditions = append(conditions, fmt.Sprintf("chat_id IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Terms) > 0 {
		ors := make([]string, 0, len(filters.Terms))
		for _, t := range filters.Terms {
			ors = append(ors, "LOWER(term) = LOWER(?)")
			args = append(args, t)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY date ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
