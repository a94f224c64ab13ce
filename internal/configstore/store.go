// Package configstore owns the persisted settings document: monitored
// chats, search terms, the notification target, the watch flag, and the
// collected findings. Readers get immutable snapshots; every mutation is a
// serialized read-modify-write of the whole document followed by an atomic
// file replace.
package configstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

var (
	ErrDuplicateChat = errors.New("chat is already monitored")
	ErrDuplicateTerm = errors.New("term is already in the list")
	ErrUnknownChat   = errors.New("chat is not in the monitored list")
	ErrUnknownTerm   = errors.New("term is not in the list")
	ErrEmptyTerm     = errors.New("term must not be empty")
	ErrEmptyChat     = errors.New("chat identifier must not be empty")
)

// Document is the whole settings file. Field names match the JSON document
// the watcher has always persisted.
type Document struct {
	MonitoredChats     []string       `json:"monitoredChats"`
	SearchTerms        []string       `json:"searchTerms"`
	NotificationChatID string         `json:"notificationChatId"`
	SearchEnabled      bool           `json:"searchEnabled"`
	SearchResults      []core.Finding `json:"searchResults"`
}

// DefaultDocument is the fallback for a missing or unreadable settings
// file. The watch starts idle; scanning requires an explicit start.
func DefaultDocument() Document {
	return Document{
		MonitoredChats: []string{},
		SearchTerms:    []string{},
		SearchResults:  []core.Finding{},
	}
}

func (d Document) clone() Document {
	out := d
	out.MonitoredChats = append([]string(nil), d.MonitoredChats...)
	out.SearchTerms = append([]string(nil), d.SearchTerms...)
	out.SearchResults = append([]core.Finding(nil), d.SearchResults...)
	return out
}

// Store keeps the current document in memory and mirrors every mutation to
// disk. All access goes through the mutex so no write is ever split across
// a suspension point.
type Store struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	doc Document
}

// Open loads the document at path. A missing or malformed file degrades to
// the default document rather than failing the process.
func Open(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log, doc: DefaultDocument()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("configstore: read settings", "path", path, "err", err)
		}
		return s
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("configstore: malformed settings, using defaults", "path", path, "err", err)
		return s
	}
	normalize(&doc)
	s.doc = doc
	return s
}

func normalize(doc *Document) {
	if doc.MonitoredChats == nil {
		doc.MonitoredChats = []string{}
	}
	if doc.SearchTerms == nil {
		doc.SearchTerms = []string{}
	}
	if doc.SearchResults == nil {
		doc.SearchResults = []core.Finding{}
	}
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

// Update applies mutate to the document under the lock and persists the
// result. When mutate returns an error nothing is changed or written.
func (s *Store) Update(mutate func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := mutate(&next); err != nil {
		return err
	}
	normalize(&next)
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// writeLocked replaces the settings file atomically (tmp + rename) so a
// crash mid-write never leaves a torn document behind.
func (s *Store) writeLocked(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "encode settings")
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return pkgerrors.Wrap(err, "create temp settings")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return pkgerrors.Wrap(err, "write settings")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return pkgerrors.Wrap(err, "close settings")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return pkgerrors.Wrap(err, "replace settings")
	}
	return nil
}

// AddChat registers a chat identifier for monitoring. Order is preserved;
// duplicates are refused.
func (s *Store) AddChat(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyChat
	}
	return s.Update(func(doc *Document) error {
		for _, existing := range doc.MonitoredChats {
			if existing == id {
				return ErrDuplicateChat
			}
		}
		doc.MonitoredChats = append(doc.MonitoredChats, id)
		return nil
	})
}

func (s *Store) RemoveChat(id string) error {
	return s.Update(func(doc *Document) error {
		for i, existing := range doc.MonitoredChats {
			if existing == id {
				doc.MonitoredChats = append(doc.MonitoredChats[:i], doc.MonitoredChats[i+1:]...)
				return nil
			}
		}
		return ErrUnknownChat
	})
}

// AddTerm case-folds and stores a search term. Insertion order is kept for
// display and drives first-match priority.
func (s *Store) AddTerm(term string) error {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return ErrEmptyTerm
	}
	return s.Update(func(doc *Document) error {
		for _, existing := range doc.SearchTerms {
			if existing == term {
				return ErrDuplicateTerm
			}
		}
		doc.SearchTerms = append(doc.SearchTerms, term)
		return nil
	})
}

func (s *Store) RemoveTerm(term string) error {
	term = strings.ToLower(strings.TrimSpace(term))
	return s.Update(func(doc *Document) error {
		for i, existing := range doc.SearchTerms {
			if existing == term {
				doc.SearchTerms = append(doc.SearchTerms[:i], doc.SearchTerms[i+1:]...)
				return nil
			}
		}
		return ErrUnknownTerm
	})
}

func (s *Store) SetNotificationTarget(chatID string) error {
	return s.Update(func(doc *Document) error {
		doc.NotificationChatID = strings.TrimSpace(chatID)
		return nil
	})
}

func (s *Store) SetScanning(on bool) error {
	return s.Update(func(doc *Document) error {
		doc.SearchEnabled = on
		return nil
	})
}

func (s *Store) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.SearchEnabled
}

// SaveFindings persists the full findings list. Implements the result
// store's Persister port.
func (s *Store) SaveFindings(findings []core.Finding) error {
	return s.Update(func(doc *Document) error {
		doc.SearchResults = append([]core.Finding(nil), findings...)
		return nil
	})
}
