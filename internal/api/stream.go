package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"aegis/internal/audit"
)

// ====== Audit queries ======

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("threat_type"); v != "" {
		q.ThreatType = v
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "start_time must be RFC3339")
			return
		}
		q.Since = &t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "end_time must be RFC3339")
			return
		}
		q.Until = &t
	}

	logs, total := s.opts.Audit.Logs(q)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.opts.Audit.Stats())
}

// ====== Threat event stream ======

// broadcast fans a threat event out to stream subscribers. Slow subscribers
// drop events rather than stall the recorder.
func (s *Server) broadcast(ev audit.ThreatEvent) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) subscribe() chan audit.ThreatEvent {
	ch := make(chan audit.ThreatEvent, 64)
	s.streamMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.streamMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan audit.ThreatEvent) {
	s.streamMu.Lock()
	delete(s.subscribers, ch)
	s.streamMu.Unlock()
}

// handleAuditStream upgrades to a websocket and pushes threat events as they
// are recorded.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
