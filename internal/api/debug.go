package api

import (
	"net/http"
	"time"

	"courieropt/internal/buildinfo"
)

// DebugJSON reports build info, the effective settings and in-flight solves.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":        cfg.Server.Port,
			"solver":      cfg.Solver,
			"dispatch":    cfg.Dispatch,
			"hasDatabase": cfg.Database.URL != "",
			"hasRedis":    cfg.Redis.URL != "",
			"logLevel":    cfg.Logging.Level,
		},
		"jobs": s.Planner.Jobs(),
	})
}
