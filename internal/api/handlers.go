package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"aegis/internal/agent"
	"aegis/internal/audit"
	"aegis/internal/inspect"
	"aegis/internal/llmproxy"
	"aegis/internal/mcp"
	"aegis/internal/patterns"
	"aegis/internal/policy"
	"aegis/internal/rag"
)

// ====== Inspection ======

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req inspect.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "message is required")
		return
	}

	result := s.opts.Inspector.Inspect(r.Context(), req)
	s.applyPolicies(r, req.Message, result)

	var threatTypes []string
	for _, f := range result.Findings {
		threatTypes = append(threatTypes, string(f.Type))
		s.opts.Audit.RecordThreat(audit.ThreatEvent{
			SessionID:   req.SessionID,
			Type:        f.Type,
			Severity:    f.RiskLevel,
			Confidence:  f.Confidence,
			Source:      "/inspect",
			Description: f.Description,
		})
	}
	s.opts.Audit.Record(audit.Entry{
		RequestID:   requestID(r),
		Endpoint:    "/inspect",
		SessionID:   req.SessionID,
		Blocked:     !result.Passed,
		RiskScore:   result.RiskScore,
		LatencyMs:   result.LatencyMs,
		ThreatTypes: threatTypes,
	})
	s.opts.Telemetry.RecordDecision(r.Context(), "/inspect", req.SessionID, !result.Passed, result.RiskScore, threatTypes)

	status := http.StatusOK
	if !result.Passed {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, result)
}

// applyPolicies folds active custom-rule matches into the pipeline verdict.
// A rule with a block action fails the inspection outright.
func (s *Server) applyPolicies(r *http.Request, message string, result *inspect.Result) {
	if s.opts.PolicyEngine == nil {
		return
	}
	for _, f := range s.opts.PolicyEngine.Evaluate(r.Context(), message) {
		result.Findings = append(result.Findings, inspect.Finding{
			Type:        f.Type,
			Description: fmt.Sprintf("policy rule %q matched", f.RuleName),
			Confidence:  f.Confidence,
			RiskLevel:   f.RiskLevel,
			PatternIDs:  f.MatchedPatterns,
		})
		if w := riskWeight(f.RiskLevel); w > result.RiskScore {
			result.RiskScore = w
		}
		if f.Action == policy.ActionBlock {
			result.Passed = false
		}
	}
}

func riskWeight(r patterns.RiskLevel) float64 {
	switch r {
	case patterns.RiskLow:
		return 0.2
	case patterns.RiskMedium:
		return 0.4
	case patterns.RiskHigh:
		return 0.7
	case patterns.RiskCritical:
		return 1.0
	default:
		return 0
	}
}

func (s *Server) handleOutputAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Output  string `json:"output"`
		Context string `json:"context,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Output == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "output is required")
		return
	}

	analysis := s.opts.Output.Analyze(r.Context(), req.Output)

	s.opts.Audit.Record(audit.Entry{
		RequestID: requestID(r),
		Endpoint:  "/output/analyze",
		Blocked:   false,
	})
	writeJSON(w, r, http.StatusOK, analysis)
}

// ====== RAG ======

type ragDocument struct {
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) recordScan(r *http.Request, endpoint, source string, result *rag.ScanResult) {
	var threatTypes []string
	for _, f := range result.Findings {
		threatTypes = append(threatTypes, string(f.Type))
		s.opts.Audit.RecordThreat(audit.ThreatEvent{
			Type:        f.Type,
			Severity:    f.Severity,
			Source:      endpoint,
			Description: f.Description,
		})
	}
	s.opts.Audit.Record(audit.Entry{
		RequestID:   requestID(r),
		Endpoint:    endpoint,
		SessionID:   source,
		Blocked:     !result.IsSafe,
		RiskScore:   result.RiskScore,
		ThreatTypes: threatTypes,
	})
}

func (s *Server) handleRagScan(w http.ResponseWriter, r *http.Request) {
	var req ragDocument
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "content is required")
		return
	}

	result := s.opts.Scanner.Scan(rag.Document{
		Content:  req.Content,
		Source:   req.Source,
		Metadata: req.Metadata,
	})
	s.recordScan(r, "/rag/scan", req.Source, result)

	status := http.StatusOK
	if !result.IsSafe {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, result)
}

func (s *Server) handleRagIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []ragDocument `json:"documents"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "documents are required")
		return
	}

	results := make([]*rag.ScanResult, 0, len(req.Documents))
	allSafe := true
	for _, doc := range req.Documents {
		result := s.opts.Scanner.Scan(rag.Document{
			Content:  doc.Content,
			Source:   doc.Source,
			Metadata: doc.Metadata,
		})
		s.recordScan(r, "/rag/ingest", doc.Source, result)
		if !result.IsSafe {
			allSafe = false
		}
		results = append(results, result)
	}

	status := http.StatusOK
	if !allSafe {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, map[string]any{
		"allSafe": allSafe,
		"results": results,
	})
}

func (s *Server) handleRagValidateChunks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chunks []string `json:"chunks"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "chunks are required")
		return
	}

	safe := true
	scans := make([]*rag.ScanResult, 0, len(req.Chunks))
	for _, chunk := range req.Chunks {
		result := s.opts.Scanner.Scan(rag.Document{Content: chunk})
		if !result.IsSafe {
			safe = false
		}
		scans = append(scans, result)
	}
	drifts := rag.CheckChunkConsistency(req.Chunks)

	status := http.StatusOK
	if !safe {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, map[string]any{
		"isSafe":      safe,
		"scans":       scans,
		"chunkDrifts": drifts,
	})
}

func (s *Server) handleVerifyEmbedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Embedding         json.RawMessage `json:"embedding"`
		ExpectedDimension int             `json:"expectedDimension,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "embedding is required")
		return
	}

	// The embedding arrives either as a bare vector or as the full object
	// with declared dimension and checksum.
	var emb rag.Embedding
	if req.Embedding[0] == '[' {
		var values []float64
		if err := json.Unmarshal(req.Embedding, &values); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "embedding must be a number array")
			return
		}
		emb = rag.Embedding{Values: values, Dimension: len(values)}
	} else if err := json.Unmarshal(req.Embedding, &emb); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed embedding object")
		return
	}

	result := rag.VerifyEmbedding(emb, req.ExpectedDimension)
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleDetectDrift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginalContent string `json:"originalContent"`
		CurrentContent  string `json:"currentContent"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OriginalContent == "" || req.CurrentContent == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "originalContent and currentContent are required")
		return
	}

	report := rag.CompareSignatures(
		rag.GenerateSignature(req.OriginalContent),
		rag.GenerateSignature(req.CurrentContent),
	)
	writeJSON(w, r, http.StatusOK, report)
}

// ====== Provenance ======

func (s *Server) handleProvenanceCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID   string `json:"sourceId"`
		SourceType string `json:"sourceType"`
		Domain     string `json:"domain,omitempty"`
		Verified   bool   `json:"verified,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourceID == "" || req.SourceType == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "sourceId and sourceType are required")
		return
	}

	p := s.opts.Provenance.Register(req.SourceID, rag.SourceType(req.SourceType), req.Domain, req.Verified)
	writeJSON(w, r, http.StatusCreated, p)
}

func (s *Server) handleProvenanceAddEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"sourceId"`
		Action   string `json:"action"`
		Actor    string `json:"actor,omitempty"`
		Details  string `json:"details,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.opts.Provenance.RecordAction(req.SourceID, req.Action, req.Actor, req.Details); err != nil {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	p, _ := s.opts.Provenance.Get(req.SourceID)
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleProvenanceValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"sourceId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, ok := s.opts.Provenance.Get(req.SourceID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("source %s not registered", req.SourceID))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"provenance":           p,
		"needsReverification":  s.opts.Provenance.NeedsReverification(req.SourceID),
	})
}

func (s *Server) handleProvenanceCheckAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID      string `json:"sourceId"`
		RequiredLevel string `json:"requiredLevel"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	allowed := s.opts.Provenance.CheckAccess(req.SourceID, rag.TrustLevel(req.RequiredLevel))
	writeJSON(w, r, http.StatusOK, map[string]any{"allowed": allowed})
}

// ====== Agent / MCP / LLM ======

func (s *Server) handleAgentValidate(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "toolName is required")
		return
	}

	decision := s.opts.Agent.Validate(req)

	s.opts.Audit.Record(audit.Entry{
		RequestID:   requestID(r),
		Endpoint:    "/agent/validate-tool",
		Blocked:     !decision.Allowed,
		LatencyMs:   decision.LatencyMs,
		ThreatTypes: denialTypes(decision),
	})

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, decision)
}

func denialTypes(d *agent.Decision) []string {
	if d.Allowed || d.DenialType == "" {
		return nil
	}
	return []string{d.DenialType}
}

func (s *Server) handleMCPValidate(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if !decodeBody(w, r, &req) {
		return
	}

	result := s.opts.MCP.Validate(req)

	var threatTypes []string
	for _, f := range result.Findings {
		threatTypes = append(threatTypes, string(f.Type))
		s.opts.Audit.RecordThreat(audit.ThreatEvent{
			Type:        f.Type,
			Severity:    f.Severity,
			Source:      "/mcp/validate",
			Description: f.Description,
		})
	}
	s.opts.Audit.Record(audit.Entry{
		RequestID:   requestID(r),
		Endpoint:    "/mcp/validate",
		Blocked:     !result.IsSafe,
		RiskScore:   result.RiskScore,
		ThreatTypes: threatTypes,
	})

	status := http.StatusOK
	if !result.IsSafe {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, result)
}

func (s *Server) handleLLMChat(w http.ResponseWriter, r *http.Request) {
	var req llmproxy.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "messages are required")
		return
	}

	resp := s.opts.Orchestrator.Complete(r.Context(), req)

	var riskScore float64
	var threatTypes []string
	if resp.InputGuard != nil {
		riskScore = resp.InputGuard.RiskScore
		for _, f := range resp.InputGuard.Findings {
			threatTypes = append(threatTypes, string(f.Type))
		}
	}
	s.opts.Audit.Record(audit.Entry{
		RequestID:   requestID(r),
		Endpoint:    "/llm/chat",
		SessionID:   req.SessionID,
		Blocked:     resp.Blocked,
		RiskScore:   riskScore,
		LatencyMs:   resp.LatencyMs,
		ThreatTypes: threatTypes,
	})

	status := http.StatusOK
	if resp.Blocked {
		status = http.StatusForbidden
	}
	writeJSON(w, r, status, resp)
}

// ====== Operational ======

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports subsystem status without failing the probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]any{
		"policyStore": s.opts.Policies != nil,
		"auditSink":   s.opts.AuditSinkOK,
	}
	if s.opts.Models != nil {
		subsystems["models"] = s.opts.Models.Names()
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":     "ready",
		"subsystems": subsystems,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.opts.Audit.Stats()

	var b strings.Builder
	writeMetric := func(name string, value float64) {
		fmt.Fprintf(&b, "# TYPE %s gauge\n%s %g\n", name, name, value)
	}
	writeMetric("aegis_requests_total", float64(stats.TotalRequests))
	writeMetric("aegis_requests_blocked_total", float64(stats.BlockedRequests))
	writeMetric("aegis_block_rate", stats.BlockRate)
	writeMetric("aegis_error_rate", stats.ErrorRate)
	writeMetric("aegis_avg_latency_ms", stats.AvgLatencyMs)
	writeMetric("aegis_threat_events_total", float64(s.opts.Audit.ThreatCount()))
	if s.opts.Conversation != nil {
		writeMetric("aegis_active_sessions", float64(s.opts.Conversation.ActiveSessions()))
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func (s *Server) handleReportGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReportType string `json:"reportType"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	stats := s.opts.Audit.Stats()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"reportType": req.ReportType,
		"stats":      stats,
	})
}
