// Package api exposes the gateway's wire surface: inspection, RAG, agent,
// MCP, LLM proxy, policy CRUD, audit, and operational endpoints, with
// request-id, CORS, logging, and tracing middleware.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/agent"
	"aegis/internal/audit"
	"aegis/internal/conversation"
	"aegis/internal/inspect"
	"aegis/internal/llmproxy"
	"aegis/internal/mcp"
	"aegis/internal/ml"
	"aegis/internal/policy"
	"aegis/internal/rag"
	"aegis/internal/redaction"
	"aegis/internal/telemetry"
)

// RequestIDHeader propagates the request id end-to-end.
const RequestIDHeader = "X-Aegis-Request-Id"

// maxBodyBytes caps request bodies; larger bodies answer 400.
const maxBodyBytes = 1 << 20

type ctxKey int

const requestIDKey ctxKey = iota

// Options carries the subsystems the server fronts. Telemetry may be nil.
type Options struct {
	Inspector    *inspect.Inspector
	Output       *redaction.Analyzer
	Scanner      *rag.Scanner
	Provenance   *rag.Tracker
	Agent        *agent.Validator
	MCP          *mcp.Validator
	Orchestrator *llmproxy.Orchestrator
	Policies     *policy.Store
	PolicyEngine *policy.Engine
	PolicyDir    string
	Audit        *audit.Logger
	Alerts       *audit.AlertEngine
	Conversation *conversation.Analyzer
	Models       *ml.Registry
	Telemetry    *telemetry.Provider
	CORSOrigins  []string
	AuditSinkOK  bool
}

// Server is the HTTP front of the gateway.
type Server struct {
	opts Options
	mux  *http.ServeMux

	streamMu    sync.Mutex
	subscribers map[chan audit.ThreatEvent]struct{}
}

// New wires all routes.
func New(opts Options) *Server {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NoopProvider()
	}
	s := &Server{
		opts:        opts,
		mux:         http.NewServeMux(),
		subscribers: make(map[chan audit.ThreatEvent]struct{}),
	}

	if opts.Audit != nil {
		opts.Audit.OnThreat(s.broadcast)
	}

	s.mux.HandleFunc("POST /inspect", s.handleInspect)
	s.mux.HandleFunc("POST /output/analyze", s.handleOutputAnalyze)

	s.mux.HandleFunc("POST /rag/scan", s.handleRagScan)
	s.mux.HandleFunc("POST /rag/ingest", s.handleRagIngest)
	s.mux.HandleFunc("POST /rag/validate-chunks", s.handleRagValidateChunks)
	s.mux.HandleFunc("POST /rag/verify-embedding", s.handleVerifyEmbedding)
	s.mux.HandleFunc("POST /rag/detect-drift", s.handleDetectDrift)
	s.mux.HandleFunc("POST /rag/provenance/create", s.handleProvenanceCreate)
	s.mux.HandleFunc("POST /rag/provenance/add-entry", s.handleProvenanceAddEntry)
	s.mux.HandleFunc("POST /rag/provenance/validate", s.handleProvenanceValidate)
	s.mux.HandleFunc("POST /rag/provenance/check-access", s.handleProvenanceCheckAccess)

	s.mux.HandleFunc("POST /agent/validate-tool", s.handleAgentValidate)
	s.mux.HandleFunc("POST /mcp/validate", s.handleMCPValidate)
	s.mux.HandleFunc("POST /llm/chat", s.handleLLMChat)

	s.mux.HandleFunc("GET /policies", s.handlePolicyList)
	s.mux.HandleFunc("POST /policies", s.handlePolicyCreate)
	s.mux.HandleFunc("GET /policies/versions", s.handleVersionList)
	s.mux.HandleFunc("POST /policies/versions", s.handleVersionCreate)
	s.mux.HandleFunc("GET /policies/versions/{id}", s.handleVersionGet)
	s.mux.HandleFunc("POST /policies/rollback/{id}", s.handleRollback)
	s.mux.HandleFunc("POST /policies/reload", s.handlePolicyReload)
	s.mux.HandleFunc("GET /policies/{id}", s.handlePolicyGet)
	s.mux.HandleFunc("PUT /policies/{id}", s.handlePolicyUpdate)
	s.mux.HandleFunc("DELETE /policies/{id}", s.handlePolicyDelete)

	s.mux.HandleFunc("GET /audit/logs", s.handleAuditLogs)
	s.mux.HandleFunc("GET /audit/stats", s.handleAuditStats)
	s.mux.HandleFunc("GET /audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /alerts/rules", s.handleAlertRules)
	s.mux.HandleFunc("POST /alerts/rules", s.handleAlertRuleCreate)
	s.mux.HandleFunc("POST /alerts/evaluate", s.handleAlertEvaluate)
	s.mux.HandleFunc("POST /reports/generate", s.handleReportGenerate)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	return s
}

// ServeHTTP implements http.Handler with the middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	ctx := context.WithValue(r.Context(), requestIDKey, requestID)

	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := s.opts.Telemetry.StartRequestSpan(ctx, requestID, r.Method, r.URL.Path)
	r = r.WithContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.opts.Telemetry.EndRequestSpan(span, rec.status, nil)
	slog.Info("request completed",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowed := ""
	for _, o := range s.opts.CORSOrigins {
		if o == "*" {
			allowed = "*"
			break
		}
		if o == origin {
			allowed = origin
			break
		}
	}
	if allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func requestID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// writeJSON writes v with the request id injected at the top level.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	if len(data) > 0 && data[0] == '{' {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil {
			m["requestId"] = requestID(r)
			if enriched, err := json.Marshal(m); err == nil {
				data = enriched
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// apiError is the wire error shape.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, apiError{Code: code, Message: message})
}

// decodeBody parses a JSON body into dst; failures answer 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed request body: "+err.Error())
		return false
	}
	return true
}
