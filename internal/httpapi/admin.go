package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

type jobsDebugResponse struct {
	Counts    *model.JobStatusCounts `json:"counts"`
	StuckJobs []model.OutboundJob    `json:"stuck_jobs"`
	OpenTasks []model.FollowupTask   `json:"open_tasks"`
}

// authorizeAdmin gates the operator endpoints on the static runner token.
// A missing token in config is a deployment mistake and surfaced as 500,
// not as an auth failure.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	log := logger.FromContext(r.Context())

	if s.cfg.Runner.Token == "" {
		log.Error("Admin endpoint hit but runner token is not configured")
		http.Error(w, "runner token not configured", http.StatusInternalServerError)
		return false
	}

	provided := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Runner.Token)) != 1 {
		log.Warn("Admin endpoint rejected: bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// handleRunOutbound triggers one runner batch. The external scheduler
// calls this on its cadence; overlapping calls are safe.
func (s *Server) handleRunOutbound(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	log := logger.FromContext(r.Context())

	max := 0
	if rawMax := r.URL.Query().Get("max"); rawMax != "" {
		parsed, err := strconv.Atoi(rawMax)
		if err != nil || parsed < 0 {
			http.Error(w, "max must be a non-negative integer", http.StatusBadRequest)
			return
		}
		max = parsed
	}

	report, err := s.runner.RunOnce(r.Context(), max)
	if err != nil {
		log.Error("Runner invocation failed", zap.Error(err))
		http.Error(w, "runner failed", http.StatusInternalServerError)
		return
	}

	log.Info("Runner batch completed",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed))
	utils.WriteJSONResponse(w, http.StatusOK, report)
}

// handleJobsDebug is the operator view of the queue: per-status counts,
// jobs stuck in running, and unresolved followup tasks.
func (s *Server) handleJobsDebug(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	log := logger.FromContext(r.Context())

	counts, err := s.jobs.CountByStatus(r.Context())
	if err != nil {
		log.Error("Failed to count jobs by status", zap.Error(err))
		http.Error(w, "job counts unavailable", http.StatusInternalServerError)
		return
	}

	stuck, err := s.runner.FindStuck(r.Context())
	if err != nil {
		log.Error("Failed to list stuck jobs", zap.Error(err))
		http.Error(w, "stuck job listing unavailable", http.StatusInternalServerError)
		return
	}

	tasks, err := s.tasks.FindUnresolved(r.Context(), 50)
	if err != nil {
		log.Error("Failed to list open followup tasks", zap.Error(err))
		http.Error(w, "task listing unavailable", http.StatusInternalServerError)
		return
	}

	if stuck == nil {
		stuck = []model.OutboundJob{}
	}
	if tasks == nil {
		tasks = []model.FollowupTask{}
	}
	utils.WriteJSONResponse(w, http.StatusOK, jobsDebugResponse{
		Counts:    counts,
		StuckJobs: stuck,
		OpenTasks: tasks,
	})
}

type contactsMergeRequest struct {
	CanonicalID string `json:"canonical_id"`
	DuplicateID string `json:"duplicate_id"`
}

// handleContactsMerge folds a duplicate contact into a canonical one. The
// operator decides which id wins; the repo re-points every dependent row
// and tombstones the loser.
func (s *Server) handleContactsMerge(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	log := logger.FromContext(r.Context())

	var req contactsMergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.CanonicalID == "" || req.DuplicateID == "" {
		http.Error(w, "canonical_id and duplicate_id are required", http.StatusBadRequest)
		return
	}

	if err := s.contacts.Merge(r.Context(), req.CanonicalID, req.DuplicateID); err != nil {
		switch {
		case apperrors.IsBadRequestError(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case apperrors.IsNotFoundError(err):
			http.Error(w, "contact not found", http.StatusNotFound)
		default:
			log.Error("Contact merge failed",
				zap.String("canonical_id", req.CanonicalID),
				zap.String("duplicate_id", req.DuplicateID),
				zap.Error(err))
			http.Error(w, "merge failed", http.StatusInternalServerError)
		}
		return
	}

	log.Info("Merged contacts via operator endpoint",
		zap.String("canonical_id", req.CanonicalID),
		zap.String("duplicate_id", req.DuplicateID))
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"merged_into": req.CanonicalID})
}
