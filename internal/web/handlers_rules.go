package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

// RuleRequest is the body of POST /api/rules. Schedule is a Go duration
// string ("15m"); empty means the rule only runs on demand.
type RuleRequest struct {
	Name       string            `json:"name"`
	Triggers   []string          `json:"triggers"`
	Actions    []string          `json:"actions"`
	Conditions map[string]string `json:"conditions"`
	Schedule   string            `json:"schedule"`
	Enabled    *bool             `json:"enabled"`
}

func (req RuleRequest) rule() (model.AutomationRule, error) {
	rule := model.AutomationRule{
		Name:       req.Name,
		Triggers:   req.Triggers,
		Actions:    req.Actions,
		Conditions: req.Conditions,
		Enabled:    true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Schedule != "" {
		d, err := time.ParseDuration(req.Schedule)
		if err != nil {
			return model.AutomationRule{}, fmt.Errorf("invalid rule: %w: schedule %q", core.ErrInvalidOptions, req.Schedule)
		}
		rule.Schedule = d
	}
	return rule, nil
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Rules())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	rule, err := req.rule()
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	created, err := s.engine.CreateRule(rule)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Rule(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.EnableRule(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.DisableRule(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.RunRule(r.Context(), id); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	rule, err := s.engine.Rule(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
