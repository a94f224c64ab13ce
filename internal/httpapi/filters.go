package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order represents the chronological order to use when listing findings.
type Order string

const (
	// OrderDesc returns findings newest first.
	OrderDesc Order = "desc"
	// OrderAsc returns findings oldest first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for archive lookups.
type Filters struct {
	Chats []string
	Terms []string
	Since *time.Time
	Limit int
	Order Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	f.Chats = splitParam(values, "chat")
	f.Terms = splitParam(values, "term")

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

// splitParam collects repeated and comma-separated values, deduplicated
// case-insensitively.
func splitParam(values url.Values, key string) []string {
	raws := values[key]
	if len(raws) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range raws {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lowered := strings.ToLower(part)
			if _, exists := seen[lowered]; !exists {
				out = append(out, part)
				seen[lowered] = struct{}{}
			}
		}
	}
	return out
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the provided finding satisfies the filters.
func (f Filters) Matches(finding core.Finding) bool {
	if len(f.Chats) > 0 {
		match := false
		for _, c := range f.Chats {
			if finding.ChatID == c {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Terms) > 0 {
		match := false
		for _, t := range f.Terms {
			if strings.EqualFold(finding.Term, t) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Since != nil {
		ts, err := time.Parse(time.RFC3339, finding.Date)
		if err != nil || ts.Before(f.Since.UTC()) {
			return false
		}
	}

	return true
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	return f
}
