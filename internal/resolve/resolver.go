// Package resolve maps user-supplied chat identifiers (numeric IDs,
// @handles, bare digits) onto queryable Telegram peers. Access credentials
// are often incomplete, so resolution walks an ordered fallback chain and
// reports every attempted step when nothing works.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

const channelPrefix = "-100"

// DefaultDialogScanLimit bounds the recency scan over the caller's own
// dialog list, the resolver's last resort.
const DefaultDialogScanLimit = 500

// Resolved is the queryable form of a chat identifier. It lives for one
// crawl run only; every new run re-resolves.
type Resolved struct {
	Identifier string // the identifier exactly as configured
	BareID     int64  // channel/chat ID without the -100 prefix
	Title      string
	Username   string
	Peer       tg.InputPeerClass
}

// CanonicalID is the chat ID in the Bot API form: -100-prefixed for
// channels and supergroups, plain negative for basic groups. Findings from
// the crawl and the live path key on the same string this way, whatever
// form the chat was configured in.
func (r Resolved) CanonicalID() string {
	switch r.Peer.(type) {
	case *tg.InputPeerChannel:
		return channelPrefix + strconv.FormatInt(r.BareID, 10)
	case *tg.InputPeerChat:
		return strconv.FormatInt(-r.BareID, 10)
	}
	return r.Identifier
}

// Directory is the upstream lookup surface the chain runs against.
type Directory interface {
	// LookupHandle resolves a public @username.
	LookupHandle(ctx context.Context, handle string) (Resolved, error)
	// LookupID resolves a numeric chat ID directly.
	LookupID(ctx context.Context, id int64) (Resolved, error)
	// LookupChannelRaw queries a channel by bare ID with a zero access
	// hash; succeeds only for chats the protocol treats as public.
	LookupChannelRaw(ctx context.Context, channelID int64) (Resolved, error)
	// RecentDialogs lists the caller's own conversations, newest first.
	RecentDialogs(ctx context.Context, limit int) ([]Resolved, error)
}

// Attempt records one failed resolution step for diagnostics.
type Attempt struct {
	Step string
	Err  error
}

// Error reports that every step of the chain failed for an identifier.
type Error struct {
	Identifier string
	Attempts   []Attempt
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolve %q: all %d lookup steps failed", e.Identifier, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Step, a.Err)
	}
	return b.String()
}

type Resolver struct {
	dir         Directory
	dialogLimit int
	log         *slog.Logger
}

func New(dir Directory, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{dir: dir, dialogLimit: DefaultDialogScanLimit, log: log}
}

// Resolve walks the fallback chain for one identifier. Each step runs only
// after the previous one errored; the first success wins.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Resolved, error) {
	ident := strings.TrimSpace(identifier)
	resErr := &Error{Identifier: ident}

	fail := func(step string, err error) {
		resErr.Attempts = append(resErr.Attempts, Attempt{Step: step, Err: err})
		r.log.Debug("resolve: step failed", "identifier", ident, "step", step, "err", err)
	}
	won := func(step string, res Resolved) (Resolved, error) {
		res.Identifier = ident
		r.log.Info("resolve: identifier resolved", "identifier", ident, "step", step, "title", res.Title)
		return res, nil
	}

	if strings.HasPrefix(ident, "@") {
		handle := strings.TrimPrefix(ident, "@")
		if res, err := r.dir.LookupHandle(ctx, handle); err == nil {
			return won("username", res)
		} else {
			fail("username", err)
		}
		if res, err := r.scanDialogs(ctx, func(d Resolved) bool {
			return d.Username != "" && strings.EqualFold(d.Username, handle)
		}); err == nil {
			return won("dialog-scan", res)
		} else {
			fail("dialog-scan", err)
		}
		return Resolved{}, resErr
	}

	full, err := strconv.ParseInt(ident, 10, 64)
	if err != nil {
		fail("parse", fmt.Errorf("identifier is neither @handle nor numeric: %w", err))
		return Resolved{}, resErr
	}

	bare := full
	if bare < 0 {
		bare = -bare
	}
	prefixed := strings.HasPrefix(ident, channelPrefix) && len(ident) > len(channelPrefix)
	if prefixed {
		bare, _ = strconv.ParseInt(strings.TrimPrefix(ident, channelPrefix), 10, 64)
	}

	if res, err := r.dir.LookupID(ctx, full); err == nil {
		return won("direct", res)
	} else {
		fail("direct", err)
	}

	if prefixed {
		if res, err := r.dir.LookupID(ctx, bare); err == nil {
			return won("strip-prefix", res)
		} else {
			fail("strip-prefix", err)
		}
	}

	if bare > 0 {
		if res, err := r.dir.LookupChannelRaw(ctx, bare); err == nil {
			return won("raw-channel", res)
		} else {
			fail("raw-channel", err)
		}
	}

	if res, err := r.scanDialogs(ctx, func(d Resolved) bool {
		return d.BareID == bare || d.BareID == full || channelPrefix+strconv.FormatInt(d.BareID, 10) == ident
	}); err == nil {
		return won("dialog-scan", res)
	} else {
		fail("dialog-scan", err)
	}

	return Resolved{}, resErr
}

func (r *Resolver) scanDialogs(ctx context.Context, match func(Resolved) bool) (Resolved, error) {
	dialogs, err := r.dir.RecentDialogs(ctx, r.dialogLimit)
	if err != nil {
		return Resolved{}, err
	}
	for _, d := range dialogs {
		if match(d) {
			return d, nil
		}
	}
	return Resolved{}, fmt.Errorf("no dialog entry matched among %d most recent", len(dialogs))
}
