// Package httpapi exposes the collected findings and the watch controls
// over HTTP: paged reads, an archive query surface, SSE and WebSocket
// streams of live matches, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

// Results is the in-memory result store surface the API reads from.
type Results interface {
	Page(index, size int) ([]core.Finding, int)
	Len() int
}

// Archive is the long-term findings store behind /archive.
type Archive interface {
	CountFindings(ctx context.Context, filters Filters) (int64, error)
	ListFindings(ctx context.Context, filters Filters) ([]core.Finding, error)
}

type Server struct {
	httpServer *http.Server
	results    Results
	archive    Archive
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy
	started    time.Time

	mu      sync.Mutex
	clients map[chan core.Finding]struct{}
	closed  bool
}

type Options struct {
	Addr           string
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	Build          BuildInfo
}

const defaultPageSize = 50

func New(results Results, archive Archive, opts Options) *Server {
	srv := &Server{
		results: results,
		archive: archive,
		opts:    opts,
		metrics: newMetrics(),
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		started: time.Now(),
		clients: make(map[chan core.Finding]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("info", srv.handleInfo))
	mux.HandleFunc("/findings", srv.wrap("findings", srv.handleFindings))
	mux.HandleFunc("/archive", srv.wrap("archive", srv.handleArchive))
	mux.HandleFunc("/archive/count", srv.wrap("archive_count", srv.handleArchiveCount))
	mux.HandleFunc("/stream", srv.wrap("stream", srv.handleStream))
	mux.HandleFunc("/ws", srv.wrap("ws", srv.handleWS))
	mux.Handle("/metrics", srv.metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the underlying mux so admin routes can share the listener.
func (s *Server) Mux() *http.ServeMux {
	return s.httpServer.Handler.(*http.ServeMux)
}

// wrap applies rate limiting, CORS, metrics, and access logging.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, time.Since(start), rec.Bytes())
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start), rec.Bytes())
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start), rec.Bytes())
			return
		}

		h(rec, r)

		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur, rec.Bytes())
		log.Printf("http: %s %s -> %d (%d bytes, %s)", r.Method, r.URL.Path, rec.Status(), rec.Bytes(), dur)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleFindings pages through the current run's results. Pages are
// zero-based; an out-of-range page clamps to the last one.
func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page = n
		}
	}
	size := defaultPageSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			size = n
			if size > maxLimit {
				size = maxLimit
			}
		}
	}

	findings, total := s.results.Page(page, size)
	if findings == nil {
		findings = []core.Finding{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total":    total,
		"page":     page,
		"size":     size,
		"findings": findings,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.archive.ListFindings(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.Finding{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleArchiveCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	count, err := s.archive.CountFindings(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	clientCh, err := s.subscribe()
	if err != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(clientCh)

	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(":ping\n\n"))
			flusher.Flush()
		case f, ok := <-clientCh:
			if !ok {
				return
			}
			if !filters.Matches(f) {
				continue
			}
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: finding\ndata: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
			s.metrics.IncMessagesSent("sse")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientCh, err := s.subscribe()
	if err != nil {
		return
	}
	defer s.unsubscribe(clientCh)

	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-clientCh:
			if !ok {
				return
			}
			if !filters.Matches(f) {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, f)
			cancel()
			if err != nil {
				return
			}
			s.metrics.IncMessagesSent("ws")
		}
	}
}

func (s *Server) subscribe() (chan core.Finding, error) {
	ch := make(chan core.Finding, 256)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("server closed")
	}
	s.clients[ch] = struct{}{}
	return ch, nil
}

func (s *Server) unsubscribe(ch chan core.Finding) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

// Broadcast fans a new finding out to every connected stream. Slow
// clients drop instead of blocking the caller.
func (s *Server) Broadcast(f core.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- f:
		default:
			s.metrics.IncBroadcastDrops("any")
		}
	}
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
