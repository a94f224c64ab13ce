package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the settings document when something edits the file
// externally, debouncing bursts of events. onReload receives the fresh
// snapshot. The returned stop function closes the watcher.
func (s *Store) Watch(onReload func(Document)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.path); err != nil {
		// The file may not exist until the first write; watch the parent
		// events via its directory instead.
		if err := w.Add(filepath.Dir(s.path)); err != nil {
			w.Close()
			return nil, err
		}
	}

	go func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					_ = w.Add(s.path)
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if doc, ok := s.reload(); ok && onReload != nil {
					onReload(doc)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Error("configstore: watch error", "err", err)
			}
		}
	}()
	return func() { _ = w.Close() }, nil
}

// reload replaces the in-memory document with the on-disk state; malformed
// content is ignored so a half-written external edit cannot wipe settings.
func (s *Store) reload() (Document, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("configstore: ignoring malformed external edit", "err", err)
		return Document{}, false
	}
	normalize(&doc)

	s.mu.Lock()
	s.doc = doc
	snap := doc.clone()
	s.mu.Unlock()

	s.log.Info("configstore: settings reloaded from disk",
		"chats", len(snap.MonitoredChats), "terms", len(snap.SearchTerms))
	return snap, true
}
