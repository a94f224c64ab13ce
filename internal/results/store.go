// Package results keeps the ordered list of findings produced by the live
// listener and the backfill crawler. Appends deduplicate on the underlying
// message so both ingestion paths can report the same physical message
// without doubling it.
package results

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

// DefaultSendDelay paces "show all" style streaming so the egress side
// respects the same self-imposed rate discipline as the crawler's fetches.
const DefaultSendDelay = 100 * time.Millisecond

// Persister mirrors the findings list into durable storage after every
// mutation.
type Persister interface {
	SaveFindings([]core.Finding) error
}

type Store struct {
	persist   Persister
	sendDelay time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	findings []core.Finding
	keys     map[string]struct{}
	hooks    []func(core.Finding)
}

type Options struct {
	SendDelay time.Duration
}

// New builds a store seeded with previously persisted findings (duplicates
// in the seed are collapsed).
func New(persist Persister, seed []core.Finding, opts Options, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	delay := opts.SendDelay
	if delay <= 0 {
		delay = DefaultSendDelay
	}
	s := &Store{persist: persist, sendDelay: delay, log: log, keys: make(map[string]struct{})}
	for _, f := range seed {
		if _, dup := s.keys[f.Key()]; dup {
			continue
		}
		s.keys[f.Key()] = struct{}{}
		s.findings = append(s.findings, f)
	}
	return s
}

// OnAppend registers a hook invoked for every newly inserted finding.
// Hooks run outside the lock. Register before producers start.
func (s *Store) OnAppend(fn func(core.Finding)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Append inserts one finding unless its message is already recorded.
// Returns whether the finding was inserted; a persistence failure is
// reported but the in-memory list keeps the entry.
func (s *Store) Append(f core.Finding) (bool, error) {
	s.mu.Lock()
	if _, dup := s.keys[f.Key()]; dup {
		s.mu.Unlock()
		return false, nil
	}
	s.keys[f.Key()] = struct{}{}
	s.findings = append(s.findings, f)
	snapshot := append([]core.Finding(nil), s.findings...)
	hooks := append(s.hooks[:0:0], s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		h(f)
	}
	if err := s.persist.SaveFindings(snapshot); err != nil {
		return true, errors.Wrap(err, "persist findings")
	}
	return true, nil
}

// AppendAll inserts a batch and persists once, so a chat's crawl results
// land durably as a unit. Returns the number actually inserted.
func (s *Store) AppendAll(findings []core.Finding) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	var added []core.Finding
	for _, f := range findings {
		if _, dup := s.keys[f.Key()]; dup {
			continue
		}
		s.keys[f.Key()] = struct{}{}
		s.findings = append(s.findings, f)
		added = append(added, f)
	}
	snapshot := append([]core.Finding(nil), s.findings...)
	hooks := append(s.hooks[:0:0], s.hooks...)
	s.mu.Unlock()

	for _, f := range added {
		for _, h := range hooks {
			h(f)
		}
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := s.persist.SaveFindings(snapshot); err != nil {
		return len(added), errors.Wrap(err, "persist findings")
	}
	return len(added), nil
}

// Clear drops every finding.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.findings = nil
	s.keys = make(map[string]struct{})
	s.mu.Unlock()

	if err := s.persist.SaveFindings(nil); err != nil {
		return errors.Wrap(err, "persist cleared findings")
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.findings)
}

// All returns a copy of every finding in insertion order.
func (s *Store) All() []core.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Finding(nil), s.findings...)
}

// Page returns the 0-based page of the given size and the total page
// count. An out-of-range index clamps to the last valid page rather than
// returning an empty slice.
func (s *Store) Page(index, size int) ([]core.Finding, int) {
	if size <= 0 {
		size = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total := (len(s.findings) + size - 1) / size
	if total == 0 {
		return nil, 0
	}
	if index < 0 {
		index = 0
	}
	if index >= total {
		index = total - 1
	}
	start := index * size
	end := start + size
	if end > len(s.findings) {
		end = len(s.findings)
	}
	return append([]core.Finding(nil), s.findings[start:end]...), total
}

// Stream sends every finding to send in batches, pacing between batches.
// Stops early when send fails or ctx is cancelled.
func (s *Store) Stream(ctx context.Context, batchSize int, send func([]core.Finding) error) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	all := s.All()
	limiter := rate.NewLimiter(rate.Every(s.sendDelay), 1)

	for start := 0; start < len(all); start += batchSize {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := send(all[start:end]); err != nil {
			return errors.Wrap(err, "stream findings batch")
		}
	}
	return nil
}
