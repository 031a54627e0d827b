package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Sink is the persistent mirror of the audit rings. The rings stay
// authoritative for the read API; the sink exists for retention beyond
// process restarts.
type Sink struct {
	db *sql.DB
}

// NewSink opens (or creates) the audit database at path.
func NewSink(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// WAL keeps concurrent fire-and-forget writers from blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Sink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("audit sink initialized", "path", path)
	return s, nil
}

func (s *Sink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		request_id TEXT,
		endpoint TEXT NOT NULL,
		session_id TEXT,
		blocked INTEGER NOT NULL DEFAULT 0,
		risk_score REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		threat_types TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON audit_logs(session_id);

	CREATE TABLE IF NOT EXISTS threat_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		session_id TEXT,
		threat_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		source TEXT,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_threat_events_timestamp ON threat_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_threat_events_type ON threat_events(threat_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordEntry persists one request entry.
func (s *Sink) RecordEntry(entry Entry) error {
	threatTypes, err := json.Marshal(entry.ThreatTypes)
	if err != nil {
		threatTypes = []byte("[]")
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO audit_logs
		(id, timestamp, request_id, endpoint, session_id, blocked, risk_score, latency_ms, threat_types)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp,
		entry.RequestID,
		entry.Endpoint,
		entry.SessionID,
		entry.Blocked,
		entry.RiskScore,
		entry.LatencyMs,
		string(threatTypes),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// RecordThreat persists one threat event.
func (s *Sink) RecordThreat(event ThreatEvent) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO threat_events
		(id, timestamp, session_id, threat_type, severity, confidence, source, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp,
		event.SessionID,
		string(event.Type),
		string(event.Severity),
		event.Confidence,
		event.Source,
		event.Description,
	)
	if err != nil {
		return fmt.Errorf("inserting threat event: %w", err)
	}
	return nil
}

// Counts returns the persisted row counts.
func (s *Sink) Counts() (entries, threats int64, err error) {
	if err = s.db.QueryRow("SELECT COUNT(*) FROM audit_logs").Scan(&entries); err != nil {
		return 0, 0, fmt.Errorf("counting audit logs: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM threat_events").Scan(&threats); err != nil {
		return 0, 0, fmt.Errorf("counting threat events: %w", err)
	}
	return entries, threats, nil
}

// Cleanup removes records older than the retention window.
func (s *Sink) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var deleted int64
	for _, table := range []string{"audit_logs", "threat_events"} {
		result, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
		if err != nil {
			return deleted, fmt.Errorf("cleaning up %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		deleted += n
	}
	if deleted > 0 {
		slog.Info("audit retention cleanup", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}
