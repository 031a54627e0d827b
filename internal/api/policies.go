package api

import (
	"net/http"

	"aegis/internal/audit"
	"aegis/internal/policy"
)

// ====== Policy CRUD ======

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	rules := s.opts.Policies.List()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"rules": rules,
		"total": len(rules),
	})
}

func (s *Server) handlePolicyCreate(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := s.opts.Policies.Create(rule)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RULE", err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.opts.Policies.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "rule not found")
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	updated, err := s.opts.Policies.Update(r.PathValue("id"), rule)
	if err != nil {
		if _, ok := s.opts.Policies.Get(r.PathValue("id")); !ok {
			writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_RULE", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handlePolicyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Policies.Delete(r.PathValue("id")); err != nil {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ====== Versions ======

func (s *Server) handleVersionList(w http.ResponseWriter, r *http.Request) {
	versions := s.opts.Policies.Versions()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"versions": versions,
		"total":    len(versions),
	})
}

func (s *Server) handleVersionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		CreatedBy   string `json:"createdBy,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	v := s.opts.Policies.CreateVersion(req.Description, req.CreatedBy)
	writeJSON(w, r, http.StatusCreated, v)
}

func (s *Server) handleVersionGet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.opts.Policies.GetVersion(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "version not found")
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.opts.Policies.Rollback(id); err != nil {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"rolledBackTo": id,
		"activeRules":  len(s.opts.Policies.Active()),
	})
}

// handlePolicyReload re-reads the policy directory. Without a configured
// directory there is nothing to reload from.
func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.PolicyDir == "" {
		writeError(w, r, http.StatusNotImplemented, "NOT_IMPLEMENTED", "no policy directory configured")
		return
	}
	n, err := policy.LoadDir(s.opts.Policies, s.opts.PolicyDir)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "RELOAD_FAILED", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"reloaded": n})
}

// ====== Alerts ======

func (s *Server) handleAlertRules(w http.ResponseWriter, r *http.Request) {
	rules := s.opts.Alerts.Rules()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"rules": rules,
		"total": len(rules),
	})
}

func (s *Server) handleAlertRuleCreate(w http.ResponseWriter, r *http.Request) {
	var rule audit.AlertRule
	if !decodeBody(w, r, &rule) {
		return
	}
	if rule.Name == "" || rule.Metric == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "name and metric are required")
		return
	}
	created := s.opts.Alerts.AddRule(rule)
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleAlertEvaluate(w http.ResponseWriter, r *http.Request) {
	stats := s.opts.Audit.Stats()
	snap := audit.Snapshot{
		BlockRate:   stats.BlockRate,
		ThreatCount: float64(s.opts.Audit.ThreatCount()),
		AvgLatency:  stats.AvgLatencyMs,
		ErrorRate:   stats.ErrorRate,
	}
	if s.opts.Conversation != nil {
		snap.ActiveSessions = float64(s.opts.Conversation.ActiveSessions())
	}
	fired := s.opts.Alerts.Evaluate(snap)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"fired": fired,
		"total": len(fired),
	})
}
