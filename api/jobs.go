package api

import (
	"net/http"
	"strings"
)

// RequireCronAuth guards the scheduler-triggered endpoints with the shared
// bearer token.
func (s *Server) RequireCronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != s.cronSecret {
			writeError(w, http.StatusUnauthorized, "invalid scheduler token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// The three sweep endpoints are idempotent: each processes a bounded page of
// due work and reports how many items it handled. An external scheduler
// calls them on a fixed interval; the in-process cron calls the same engine
// entry points.

func (s *Server) HandleBroadcastSweep(w http.ResponseWriter, r *http.Request) {
	processed := s.broadcasts.SweepScheduled(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) HandleStepSweep(w http.ResponseWriter, r *http.Request) {
	processed := s.steps.Advance(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) HandleMenuSweep(w http.ResponseWriter, r *http.Request) {
	processed := s.sweeper.SweepWindows(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
