package http

import (
	"net/http"

	"github.com/guide-lms/guide-router/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady is the readiness probe. It fails while any dependency check fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// DeactivateAllResponse is returned by POST /admin/sessions/deactivate-all.
type DeactivateAllResponse struct {
	Deactivated int    `json:"deactivated"`
	Error       string `json:"error,omitempty"`
}

// handleDeactivateAll ends every active session. A partial failure still
// reports how many sessions were ended.
func (s *Server) handleDeactivateAll(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	n, err := s.deps.Sessions.DeactivateAll(r.Context())
	if err != nil {
		log.Error("deactivate all sessions failed", logger.Int("deactivated", n), logger.Err(err))
		if n == 0 {
			writeJSONErrorWithDetails(w, http.StatusInternalServerError, "deactivate_failed", "Failed to deactivate sessions", err.Error())
			return
		}
		writeJSON(w, r, http.StatusMultiStatus, DeactivateAllResponse{Deactivated: n, Error: err.Error()})
		return
	}

	log.Info("deactivated all sessions", logger.Int("deactivated", n))
	writeJSON(w, r, http.StatusOK, DeactivateAllResponse{Deactivated: n})
}
