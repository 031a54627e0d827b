package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/patterns"
)

// historyCap bounds the retained snapshot history.
const historyCap = 1000

// Metrics an alert rule can watch.
type Metric string

const (
	MetricBlockRate      Metric = "block_rate"
	MetricThreatCount    Metric = "threat_count"
	MetricAvgLatency     Metric = "avg_latency"
	MetricErrorRate      Metric = "error_rate"
	MetricPIICount       Metric = "pii_count"
	MetricSensitiveCount Metric = "sensitive_count"
	MetricMLErrorRate    Metric = "ml_error_rate"
	MetricActiveSessions Metric = "active_sessions"
)

// Condition compares a metric value against a threshold.
type Condition string

const (
	CondGT  Condition = "gt"
	CondGTE Condition = "gte"
	CondLT  Condition = "lt"
	CondLTE Condition = "lte"
	CondEQ  Condition = "eq"
	CondNEQ Condition = "neq"
)

// AlertRule fires when its metric crosses the threshold, at most once per
// cooldown window.
type AlertRule struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Metric          Metric             `json:"metric"`
	Condition       Condition          `json:"condition"`
	Threshold       float64            `json:"threshold"`
	WindowSeconds   int                `json:"windowSeconds,omitempty"`
	CooldownSeconds int                `json:"cooldownSeconds"`
	Severity        patterns.RiskLevel `json:"severity"`
	Enabled         bool               `json:"enabled"`
}

// Snapshot is one observation of the watched metrics.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	BlockRate      float64   `json:"blockRate"`
	ThreatCount    float64   `json:"threatCount"`
	AvgLatency     float64   `json:"avgLatency"`
	ErrorRate      float64   `json:"errorRate"`
	PIICount       float64   `json:"piiCount"`
	SensitiveCount float64   `json:"sensitiveCount"`
	MLErrorRate    float64   `json:"mlErrorRate"`
	ActiveSessions float64   `json:"activeSessions"`
}

func (s Snapshot) metric(m Metric) float64 {
	switch m {
	case MetricBlockRate:
		return s.BlockRate
	case MetricThreatCount:
		return s.ThreatCount
	case MetricAvgLatency:
		return s.AvgLatency
	case MetricErrorRate:
		return s.ErrorRate
	case MetricPIICount:
		return s.PIICount
	case MetricSensitiveCount:
		return s.SensitiveCount
	case MetricMLErrorRate:
		return s.MLErrorRate
	case MetricActiveSessions:
		return s.ActiveSessions
	default:
		return 0
	}
}

// Alert is the instantaneous firing record of a rule.
type Alert struct {
	ID        string             `json:"id"`
	RuleID    string             `json:"ruleId"`
	RuleName  string             `json:"ruleName"`
	Metric    Metric             `json:"metric"`
	Value     float64            `json:"value"`
	Threshold float64            `json:"threshold"`
	Severity  patterns.RiskLevel `json:"severity"`
	Timestamp time.Time          `json:"timestamp"`
}

// AlertEngine evaluates snapshots against its rules.
type AlertEngine struct {
	mu        sync.Mutex
	rules     []AlertRule
	lastFired map[string]time.Time
	history   *ring[Snapshot]
	handlers  []func(Alert)

	now func() time.Time
}

// NewAlertEngine builds an engine with the given rules.
func NewAlertEngine(rules []AlertRule) *AlertEngine {
	e := &AlertEngine{
		lastFired: make(map[string]time.Time),
		history:   newRing[Snapshot](historyCap),
		now:       time.Now,
	}
	for _, r := range rules {
		e.AddRule(r)
	}
	return e
}

// AddRule installs a rule, generating an ID when empty.
func (e *AlertEngine) AddRule(rule AlertRule) AlertRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return rule
}

// Rules returns a copy of the installed rules.
func (e *AlertEngine) Rules() []AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]AlertRule(nil), e.rules...)
}

// OnAlert registers a handler for fired alerts.
func (e *AlertEngine) OnAlert(fn func(Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

// Evaluate records the snapshot and fires every enabled rule whose metric
// satisfies its condition, unless the rule is cooling down.
func (e *AlertEngine) Evaluate(snap Snapshot) []Alert {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = e.now()
	}

	e.mu.Lock()
	e.history.push(snap)
	now := e.now()

	var fired []Alert
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if last, ok := e.lastFired[rule.ID]; ok {
			if now.Sub(last) < time.Duration(rule.CooldownSeconds)*time.Second {
				continue
			}
		}
		value := snap.metric(rule.Metric)
		if !test(rule.Condition, value, rule.Threshold) {
			continue
		}
		e.lastFired[rule.ID] = now
		fired = append(fired, Alert{
			ID:        uuid.NewString(),
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Metric:    rule.Metric,
			Value:     value,
			Threshold: rule.Threshold,
			Severity:  rule.Severity,
			Timestamp: now,
		})
	}
	handlers := append([]func(Alert){}, e.handlers...)
	e.mu.Unlock()

	for _, alert := range fired {
		for _, fn := range handlers {
			fn(alert)
		}
	}
	return fired
}

// History returns the retained snapshots, oldest first.
func (e *AlertEngine) History() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.items()
}

func test(cond Condition, value, threshold float64) bool {
	switch cond {
	case CondGT:
		return value > threshold
	case CondGTE:
		return value >= threshold
	case CondLT:
		return value < threshold
	case CondLTE:
		return value <= threshold
	case CondEQ:
		return value == threshold
	case CondNEQ:
		return value != threshold
	default:
		return false
	}
}
