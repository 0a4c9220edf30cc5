package api

import (
	"net/http"
	"time"

	"loadplanner/internal/buildinfo"
)

// DebugJSON reports build info and the effective, redacted configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	info := map[string]any{
		"build":  buildinfo.Info(),
		"time":   s.now().UTC().Format(time.RFC3339),
		"config": s.Config.Redacted(),
	}
	if b, ok := s.Broker.(*Broker); ok {
		info["subscribers"] = b.Subscribers()
	}
	writeJSON(w, http.StatusOK, info)
}
