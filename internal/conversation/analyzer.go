package conversation

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"aegis/internal/semantic"
)

// sessionLockStripes bounds the per-session lock table.
const sessionLockStripes = 64

// Fixed per-intent risk scores used by the escalation signal.
var intentRisk = map[semantic.Intent]float64{
	semantic.IntentBenign:               0,
	semantic.IntentContextConfusion:     0.3,
	semantic.IntentRoleManipulation:     0.5,
	semantic.IntentGradualEscalation:    0.6,
	semantic.IntentOverrideInstructions: 0.8,
	semantic.IntentExfiltrateData:       0.9,
	semantic.IntentJailbreakAttempt:     1.0,
}

// splitFragmentSets are attack phrases checked for distribution across
// turns. A hit requires every fragment in the combined window and at least
// one fragment missing from at least one turn.
var splitFragmentSets = [][]string{
	{"ignore", "previous", "instructions"},
	{"disregard", "system", "prompt"},
	{"forget", "everything", "before"},
	{"reveal", "system", "prompt"},
	{"bypass", "safety", "rules"},
	{"new", "instructions", "follow"},
}

// DriftMetrics describe how the conversation moves over time.
type DriftMetrics struct {
	IntentShift     float64 `json:"intentShift"`
	TopicCoherence  float64 `json:"topicCoherence"`
	EscalationScore float64 `json:"escalationScore"`
}

// Result is the multi-turn analysis output for one incoming message.
type Result struct {
	SessionID           string          `json:"sessionId"`
	Intent              semantic.Intent `json:"intent"`
	Confidence          float64         `json:"confidence"`
	CumulativeRiskScore float64      `json:"cumulativeRiskScore"`
	Patterns            []string     `json:"patterns,omitempty"`
	EscalationScore     float64      `json:"escalationScore"`
	SplitInjectionScore float64      `json:"splitInjectionScore"`
	Drift               DriftMetrics `json:"drift"`
	TurnCount           int          `json:"turnCount"`
}

// Options tune the analyzer. Zero values take the defaults.
type Options struct {
	MaxHistoryTurns     int
	SessionTTL          time.Duration
	PruneInterval       time.Duration
	EscalationThreshold float64
	DriftThreshold      float64
}

func (o *Options) defaults() {
	if o.MaxHistoryTurns == 0 {
		o.MaxHistoryTurns = 10
	}
	if o.SessionTTL == 0 {
		o.SessionTTL = 30 * time.Minute
	}
	if o.PruneInterval == 0 {
		o.PruneInterval = 5 * time.Minute
	}
	if o.EscalationThreshold == 0 {
		o.EscalationThreshold = 0.6
	}
	if o.DriftThreshold == 0 {
		o.DriftThreshold = 0.5
	}
}

// Analyzer maintains per-session turn history and computes the escalation,
// split-injection, and drift signals. Turn updates for one session are
// serialized through a striped lock, so concurrent requests never lose
// turns to a read-modify-write race.
type Analyzer struct {
	store    Store
	semantic *semantic.Analyzer
	opts     Options
	now      func() time.Time

	locks [sessionLockStripes]sync.Mutex
}

func (a *Analyzer) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &a.locks[h.Sum32()%sessionLockStripes]
}

// NewAnalyzer builds an analyzer over the given store. A nil store falls
// back to an in-memory one.
func NewAnalyzer(store Store, sem *semantic.Analyzer, opts Options) *Analyzer {
	opts.defaults()
	if store == nil {
		store = NewMemoryStore()
	}
	return &Analyzer{store: store, semantic: sem, opts: opts, now: time.Now}
}

// Analyze records the incoming message and returns the session's cumulative
// risk signals. History entries are used to backfill a fresh session.
func (a *Analyzer) Analyze(ctx context.Context, sessionID, message string, history []string) (*Result, error) {
	mu := a.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	now := a.now()

	state, ok := a.store.Get(sessionID)
	if ok && now.Sub(state.LastUpdatedAt) > a.opts.SessionTTL {
		a.store.Delete(sessionID)
		ok = false
	}
	if !ok {
		state = &SessionState{SessionID: sessionID, CreatedAt: now}
	}

	if len(state.Turns) == 0 && len(history) > 0 {
		base := now.Add(-time.Duration(len(history)) * time.Second)
		for i, msg := range history {
			intent, _ := a.classify(ctx, msg)
			state.Turns = append(state.Turns, TurnInfo{
				Message:   msg,
				Intent:    intent,
				RiskScore: intentRisk[intent],
				Timestamp: base.Add(time.Duration(i) * time.Second),
			})
		}
	}

	intent, confidence := a.classify(ctx, message)
	state.Turns = append(state.Turns, TurnInfo{
		Message:   message,
		Intent:    intent,
		RiskScore: intentRisk[intent],
		Timestamp: now,
	})
	if len(state.Turns) > a.opts.MaxHistoryTurns {
		state.Turns = state.Turns[len(state.Turns)-a.opts.MaxHistoryTurns:]
	}
	state.LastUpdatedAt = now
	a.store.Put(state)

	result := &Result{
		SessionID:  sessionID,
		Intent:     intent,
		Confidence: confidence,
		TurnCount:  len(state.Turns),
	}
	result.EscalationScore = escalationScore(state.Turns)
	result.SplitInjectionScore = splitInjectionScore(state.Turns)
	result.Drift = driftMetrics(state.Turns, result.EscalationScore)

	var avg, max float64
	for _, turn := range state.Turns {
		avg += turn.RiskScore
		if turn.RiskScore > max {
			max = turn.RiskScore
		}
	}
	avg /= float64(len(state.Turns))

	cumulative := (avg + max) / 2
	if result.EscalationScore >= a.opts.EscalationThreshold && result.EscalationScore > cumulative {
		cumulative = result.EscalationScore
	}
	if result.SplitInjectionScore > cumulative {
		cumulative = result.SplitInjectionScore
	}
	result.CumulativeRiskScore = clip01(cumulative)

	if result.EscalationScore >= a.opts.EscalationThreshold {
		result.Patterns = append(result.Patterns, "gradual_escalation")
	}
	if result.SplitInjectionScore > 0 {
		result.Patterns = append(result.Patterns, "split_injection")
	}
	if result.Drift.IntentShift >= a.opts.DriftThreshold {
		result.Patterns = append(result.Patterns, "context_confusion")
	}

	return result, nil
}

func (a *Analyzer) classify(ctx context.Context, message string) (semantic.Intent, float64) {
	if a.semantic == nil {
		return semantic.IntentBenign, 0
	}
	result, err := a.semantic.Analyze(ctx, message)
	if err != nil {
		slog.Warn("semantic classification failed, treating turn as benign", "error", err)
		return semantic.IntentBenign, 0
	}
	return result.Intent, result.Confidence
}

// escalationScore measures whether per-turn risk trends upward. Requires at
// least 3 turns.
func escalationScore(turns []TurnInfo) float64 {
	if len(turns) < 3 {
		return 0
	}
	rising := 0
	for i := 1; i < len(turns); i++ {
		if intentRisk[turns[i].Intent] > intentRisk[turns[i-1].Intent] {
			rising++
		}
	}
	trend := float64(rising) / float64(len(turns)-1)
	delta := intentRisk[turns[len(turns)-1].Intent] - intentRisk[turns[0].Intent]
	return clip01(0.4*trend + 0.6*delta)
}

// splitInjectionScore detects attack phrases spread across the last 5 turns.
func splitInjectionScore(turns []TurnInfo) float64 {
	window := turns
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	if len(window) < 2 {
		return 0
	}

	lowered := make([]string, len(window))
	var combined strings.Builder
	for i, turn := range window {
		lowered[i] = strings.ToLower(turn.Message)
		combined.WriteString(lowered[i])
		combined.WriteString(" ")
	}
	all := combined.String()

	hits := 0
	for _, fragments := range splitFragmentSets {
		complete := true
		for _, frag := range fragments {
			if !strings.Contains(all, frag) {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		// Fragments must be spread: some turn lacks at least one fragment.
		spread := false
		for _, msg := range lowered {
			for _, frag := range fragments {
				if !strings.Contains(msg, frag) {
					spread = true
					break
				}
			}
			if spread {
				break
			}
		}
		if spread {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return math.Min(1, 0.7+0.1*float64(hits))
}

func driftMetrics(turns []TurnInfo, escalation float64) DriftMetrics {
	m := DriftMetrics{EscalationScore: escalation, TopicCoherence: 1}
	if len(turns) < 2 {
		return m
	}

	changes := 0
	for i := 1; i < len(turns); i++ {
		if turns[i].Intent != turns[i-1].Intent {
			changes++
		}
	}
	m.IntentShift = float64(changes) / float64(len(turns)-1)

	var mean float64
	for _, turn := range turns {
		mean += float64(len(turn.Message))
	}
	mean /= float64(len(turns))
	var variance float64
	for _, turn := range turns {
		d := float64(len(turn.Message)) - mean
		variance += d * d
	}
	variance /= float64(len(turns))
	m.TopicCoherence = math.Max(0, 1-math.Min(1, variance/10000))
	return m
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActiveSessions reports the number of tracked sessions.
func (a *Analyzer) ActiveSessions() int {
	return a.store.Count(nil)
}

// ClearSession drops a session's tracked state.
func (a *Analyzer) ClearSession(sessionID string) {
	a.store.Delete(sessionID)
}

// RunPruner expires stale sessions on a fixed interval until ctx is done.
func (a *Analyzer) RunPruner(ctx context.Context) {
	ticker := time.NewTicker(a.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Analyzer) prune() {
	stale := a.store.List(StaleFilter(a.now(), a.opts.SessionTTL))
	for _, state := range stale {
		a.store.Delete(state.SessionID)
	}
	if len(stale) > 0 {
		slog.Debug("pruned stale sessions", "count", len(stale))
	}
}
