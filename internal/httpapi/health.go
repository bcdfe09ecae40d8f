package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// HealthResponse is the response structure for the probe endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "UP"})
}

// handleReady handles the /ready endpoint for readiness probes. Every
// registered dependency check must pass.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	ready := true
	for name, check := range s.readyChecks {
		if err := check(r.Context()); err != nil {
			log.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			details[name] = err.Error()
			ready = false
			continue
		}
		details[name] = "ok"
	}

	if !ready {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "NOT_READY",
			Details: details,
		})
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "READY",
		Details: details,
	})
}
