package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// BuildInfo identifies the running finder binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type infoResponse struct {
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuiltAt       string `json:"builtAt,omitempty"`
	Go            string `json:"go"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// handleInfo reports the binary's build identity and process uptime so a
// deployment can be checked without shell access to the host.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:       s.opts.Build.Version,
		Revision:      s.opts.Build.Revision,
		Go:            runtime.Version(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
