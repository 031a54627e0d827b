// Package audit keeps bounded in-memory request and threat logs, derives
// dashboard statistics, evaluates metric alert rules, and mirrors records
// into an optional SQLite sink.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/patterns"
)

// ringCap bounds each in-memory log; oldest entries evicted on insert.
const ringCap = 10000

// Entry is one audited request decision.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"requestId,omitempty"`
	Endpoint    string    `json:"endpoint"`
	SessionID   string    `json:"sessionId,omitempty"`
	Blocked     bool      `json:"blocked"`
	RiskScore   float64   `json:"riskScore"`
	LatencyMs   int64     `json:"latencyMs"`
	ThreatTypes []string  `json:"threatTypes,omitempty"`
	Error       bool      `json:"error,omitempty"`
}

// ThreatEvent is one detected threat.
type ThreatEvent struct {
	ID          string              `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	SessionID   string              `json:"sessionId,omitempty"`
	Type        patterns.ThreatType `json:"type"`
	Severity    patterns.RiskLevel  `json:"severity"`
	Confidence  float64             `json:"confidence"`
	Source      string              `json:"source,omitempty"`
	Description string              `json:"description,omitempty"`
}

// ring is a fixed-capacity FIFO buffer.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// items returns oldest-first copies.
func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int { return r.n }

// Logger is the process-wide audit pipeline. The in-memory rings are
// authoritative; the sink, when present, is a fire-and-forget mirror.
type Logger struct {
	mu        sync.RWMutex
	entries   *ring[Entry]
	threats   *ring[ThreatEvent]
	listeners []func(ThreatEvent)
	sink      *Sink
}

// NewLogger builds an audit logger. sink may be nil.
func NewLogger(sink *Sink) *Logger {
	return &Logger{
		entries: newRing[Entry](ringCap),
		threats: newRing[ThreatEvent](ringCap),
		sink:    sink,
	}
}

// OnThreat registers a listener for new threat events, called outside the
// logger lock. Used by the live event stream.
func (l *Logger) OnThreat(fn func(ThreatEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Record appends a request entry.
func (l *Logger) Record(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries.push(entry)
	l.mu.Unlock()

	if l.sink != nil {
		go func() {
			if err := l.sink.RecordEntry(entry); err != nil {
				slog.Error("audit sink write failed", "entry_id", entry.ID, "error", err)
			}
		}()
	}
	return entry
}

// RecordThreat appends a threat event and notifies stream listeners.
func (l *Logger) RecordThreat(event ThreatEvent) ThreatEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.threats.push(event)
	listeners := append([]func(ThreatEvent){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}

	if l.sink != nil {
		go func() {
			if err := l.sink.RecordThreat(event); err != nil {
				slog.Error("audit sink write failed", "event_id", event.ID, "error", err)
			}
		}()
	}
	return event
}

// Query filters request entries newest-first.
type Query struct {
	Limit      int
	ThreatType string
	Since      *time.Time
	Until      *time.Time
}

// Logs returns matching entries, newest first, and the total number of
// retained entries.
func (l *Logger) Logs(q Query) ([]Entry, int) {
	l.mu.RLock()
	all := l.entries.items()
	total := l.entries.len()
	l.mu.RUnlock()

	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.Since != nil && e.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && e.Timestamp.After(*q.Until) {
			continue
		}
		if q.ThreatType != "" && !containsString(e.ThreatTypes, q.ThreatType) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, total
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Stats is the dashboard aggregate.
type Stats struct {
	TotalRequests   int                `json:"totalRequests"`
	BlockedRequests int                `json:"blockedRequests"`
	BlockRate       float64            `json:"blockRate"`
	RiskLevel       patterns.RiskLevel `json:"riskLevel"`
	ThreatsByType   map[string]int     `json:"threatsByType"`
	RecentEvents    []ThreatEvent      `json:"recentEvents"`
	AvgLatencyMs    float64            `json:"avgLatencyMs"`
	ErrorRate       float64            `json:"errorRate"`
}

// Stats derives the dashboard aggregate from the retained logs. The overall
// risk level follows the block rate: >10% critical, >5% high, >1% medium.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	entries := l.entries.items()
	threats := l.threats.items()
	l.mu.RUnlock()

	stats := Stats{
		TotalRequests: len(entries),
		ThreatsByType: make(map[string]int),
		RiskLevel:     patterns.RiskLow,
	}

	var latencySum int64
	var errors int
	for _, e := range entries {
		if e.Blocked {
			stats.BlockedRequests++
		}
		if e.Error {
			errors++
		}
		latencySum += e.LatencyMs
	}
	if len(entries) > 0 {
		stats.BlockRate = float64(stats.BlockedRequests) / float64(len(entries))
		stats.ErrorRate = float64(errors) / float64(len(entries))
		stats.AvgLatencyMs = float64(latencySum) / float64(len(entries))
	}

	switch {
	case stats.BlockRate > 0.10:
		stats.RiskLevel = patterns.RiskCritical
	case stats.BlockRate > 0.05:
		stats.RiskLevel = patterns.RiskHigh
	case stats.BlockRate > 0.01:
		stats.RiskLevel = patterns.RiskMedium
	}

	for _, t := range threats {
		stats.ThreatsByType[string(t.Type)]++
	}

	// Last 10 events, newest first.
	n := len(threats)
	limit := 10
	if n < limit {
		limit = n
	}
	stats.RecentEvents = make([]ThreatEvent, 0, limit)
	for i := 0; i < limit; i++ {
		stats.RecentEvents = append(stats.RecentEvents, threats[n-1-i])
	}
	return stats
}

// ThreatCount returns the number of retained threat events.
func (l *Logger) ThreatCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threats.len()
}
