package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleEnableSync(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnableRealTimeSync(); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleDisableSync(w http.ResponseWriter, r *http.Request) {
	s.engine.DisableRealTimeSync()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunSyncCycle(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFailedVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := s.engine.FailedVouchers(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, vouchers)
}

func (s *Server) handleRetryVoucher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.RetryVoucher(r.Context(), id); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "pending"})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	conflicts, err := s.engine.Conflicts(r.Context(), all)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// AcknowledgeRequest picks the winning version of a held conflict.
type AcknowledgeRequest struct {
	VersionID string `json:"versionId"`
}

func (s *Server) handleAcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	c, err := s.engine.AcknowledgeConflict(r.Context(), chi.URLParam(r, "id"), req.VersionID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
