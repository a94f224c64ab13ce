package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vmelniki2828/qodeq-finder/internal/configstore"
	"github.com/vmelniki2828/qodeq-finder/internal/watch"
)

// Admin registers the mutation endpoints: watch toggling and edits to
// the monitored chats, search terms, and notification target.
type Admin struct {
	// base outlives any single request; backfill runs launched from an
	// admin call must not die with the request context.
	base    context.Context
	cfg     *configstore.Store
	watch   Toggler
	results Results
}

// Toggler controls the scanning state machine.
type Toggler interface {
	Start(ctx context.Context) error
	Stop() error
	Scanning() bool
}

func NewAdmin(base context.Context, cfg *configstore.Store, watch Toggler, results Results) *Admin {
	if base == nil {
		base = context.Background()
	}
	return &Admin{base: base, cfg: cfg, watch: watch, results: results}
}

func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/admin/watch/start", a.handleWatchStart)
	mux.HandleFunc("/admin/watch/stop", a.handleWatchStop)
	mux.HandleFunc("/admin/chats", a.handleChats)
	mux.HandleFunc("/admin/terms", a.handleTerms)
	mux.HandleFunc("/admin/notify-target", a.handleNotifyTarget)
}

type statusResponse struct {
	Scanning           bool     `json:"scanning"`
	MonitoredChats     []string `json:"monitoredChats"`
	SearchTerms        []string `json:"searchTerms"`
	NotificationChatID string   `json:"notificationChatId"`
	Collected          int      `json:"collected"`
}

func (a *Admin) handleStatus(w http.ResponseWriter, _ *http.Request) {
	doc := a.cfg.Snapshot()
	resp := statusResponse{
		Scanning:           doc.SearchEnabled,
		MonitoredChats:     doc.MonitoredChats,
		SearchTerms:        doc.SearchTerms,
		NotificationChatID: doc.NotificationChatID,
		Collected:          a.results.Len(),
	}
	if resp.MonitoredChats == nil {
		resp.MonitoredChats = []string{}
	}
	if resp.SearchTerms == nil {
		resp.SearchTerms = []string{}
	}
	writeJSON(w, resp)
}

func (a *Admin) handleWatchStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.watch.Start(a.base); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, watch.ErrNoChats) || errors.Is(err, watch.ErrNoTerms) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]bool{"scanning": true})
}

func (a *Admin) handleWatchStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.watch.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"scanning": false})
}

type listMutation struct {
	Value string `json:"value"`
}

func (a *Admin) handleChats(w http.ResponseWriter, r *http.Request) {
	a.handleListEdit(w, r, a.cfg.AddChat, a.cfg.RemoveChat, func() []string {
		return a.cfg.Snapshot().MonitoredChats
	})
}

func (a *Admin) handleTerms(w http.ResponseWriter, r *http.Request) {
	a.handleListEdit(w, r, a.cfg.AddTerm, a.cfg.RemoveTerm, func() []string {
		return a.cfg.Snapshot().SearchTerms
	})
}

func (a *Admin) handleListEdit(w http.ResponseWriter, r *http.Request, add, remove func(string) error, list func() []string) {
	switch r.Method {
	case http.MethodGet:
		out := list()
		if out == nil {
			out = []string{}
		}
		writeJSON(w, out)
	case http.MethodPost, http.MethodDelete:
		var body listMutation
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == "" {
			http.Error(w, "body must be {\"value\": ...}", http.StatusBadRequest)
			return
		}
		op := add
		if r.Method == http.MethodDelete {
			op = remove
		}
		if err := op(body.Value); err != nil {
			http.Error(w, err.Error(), mutationStatus(err))
			return
		}
		writeJSON(w, map[string]string{"ok": "true", "value": body.Value})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Admin) handleNotifyTarget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]string{"target": a.cfg.Snapshot().NotificationChatID})
	case http.MethodPost:
		var body listMutation
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "body must be {\"value\": ...}", http.StatusBadRequest)
			return
		}
		if err := a.cfg.SetNotificationTarget(body.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"ok": "true", "target": body.Value})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func mutationStatus(err error) int {
	switch {
	case errors.Is(err, configstore.ErrDuplicateChat),
		errors.Is(err, configstore.ErrDuplicateTerm):
		return http.StatusConflict
	case errors.Is(err, configstore.ErrUnknownChat),
		errors.Is(err, configstore.ErrUnknownTerm):
		return http.StatusNotFound
	case errors.Is(err, configstore.ErrEmptyChat),
		errors.Is(err, configstore.ErrEmptyTerm):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
