package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/store"
)

// MaxBodySize caps JSON request bodies (10MB).
const MaxBodySize = 10 << 20

// decodeJSON reads a JSON body into dst. Malformed bodies are reported as
// invalid requests.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidOptions, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !s.engine.IsInitialized() {
		status = http.StatusServiceUnavailable
		state = "starting"
	}
	writeJSON(w, status, map[string]string{"status": state})
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	core.AutomationStats
	Queue   store.Counts               `json:"queue"`
	Limiter core.WorkflowLimiterStatus `json:"limiter"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.QueueCounts(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		AutomationStats: s.engine.GetAutomationStats(),
		Queue:           counts,
		Limiter:         s.engine.Limiter().Status(),
	})
}

// DataEntryRequest is the body of POST /api/workflows/data-entry.
// Omitted options keep autoSync on and take the rest from settings.
type DataEntryRequest struct {
	Documents []model.Document `json:"documents"`
	Options   core.Options     `json:"options"`
}

func (s *Server) handleDataEntry(w http.ResponseWriter, r *http.Request) {
	req := DataEntryRequest{Options: core.Options{AutoSync: true}}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	for i := range req.Documents {
		d := &req.Documents[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.SourceType == "" {
			d.SourceType = "api"
		}
		if d.ReceivedAt.IsZero() {
			d.ReceivedAt = now
		}
	}

	results, err := s.engine.RunDataEntryWorkflow(r.Context(), req.Documents, req.Options)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	sel := core.SourceSelector{Options: core.Options{AutoSync: true}}
	if err := decodeJSON(w, r, &sel); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	wf, err := s.engine.RunCollectionWorkflow(r.Context(), sel)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs := s.engine.Workflows()
	if limit := parseIntParam(r, "limit", 0); limit > 0 && limit < len(wfs) {
		wfs = wfs[:limit]
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.engine.Workflow(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
