package rag

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SourceType classifies where a document came from.
type SourceType string

const (
	SourceInternal   SourceType = "internal"
	SourceExternal   SourceType = "external"
	SourceUserUpload SourceType = "user_upload"
	SourceAPI        SourceType = "api"
	SourceCrawl      SourceType = "crawl"
)

// TrustLevel buckets a trust score for access decisions.
type TrustLevel string

const (
	TrustUnknown   TrustLevel = "unknown"
	TrustUntrusted TrustLevel = "untrusted"
	TrustStandard  TrustLevel = "standard"
	TrustTrusted   TrustLevel = "trusted"
	TrustVerified  TrustLevel = "verified"
)

var trustOrder = map[TrustLevel]int{
	TrustUnknown:   0,
	TrustUntrusted: 1,
	TrustStandard:  2,
	TrustTrusted:   3,
	TrustVerified:  4,
}

var baseTrust = map[SourceType]float64{
	SourceInternal:   1.0,
	SourceExternal:   0.6,
	SourceUserUpload: 0.4,
	SourceAPI:        0.7,
	SourceCrawl:      0.3,
}

var trustedDomains = []string{"gov.kr", "go.kr", "ac.kr", ".edu", ".org"}
var suspiciousDomains = []string{"pastebin.com", "temp-mail.org", "anonymous"}

// reverifyAfter is how long a verification stays fresh.
const reverifyAfter = 7 * 24 * time.Hour

// ChainEntry is one recorded provenance action.
type ChainEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Provenance is the tracked trust state of one source.
type Provenance struct {
	SourceID       string       `json:"sourceId"`
	SourceType     SourceType   `json:"sourceType"`
	Domain         string       `json:"domain,omitempty"`
	Verified       bool         `json:"verified"`
	TrustScore     float64      `json:"trustScore"`
	TrustLevel     TrustLevel   `json:"trustLevel"`
	Chain          []ChainEntry `json:"chain"`
	LastVerifiedAt time.Time    `json:"lastVerifiedAt"`
}

// TrustScore computes the clipped trust score for a source.
func TrustScore(sourceType SourceType, domain string, verified bool) float64 {
	score := baseTrust[sourceType]
	lowered := strings.ToLower(domain)
	for _, d := range trustedDomains {
		if strings.HasSuffix(lowered, d) || lowered == strings.TrimPrefix(d, ".") {
			score += 0.2
			break
		}
	}
	for _, d := range suspiciousDomains {
		if strings.Contains(lowered, d) {
			score -= 0.3
			break
		}
	}
	if verified {
		score += 0.1
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// LevelFor buckets a trust score.
func LevelFor(score float64) TrustLevel {
	switch {
	case score >= 0.9:
		return TrustVerified
	case score >= 0.7:
		return TrustTrusted
	case score >= 0.4:
		return TrustStandard
	case score >= 0.2:
		return TrustUntrusted
	default:
		return TrustUnknown
	}
}

// Tracker holds the provenance records for every known source.
type Tracker struct {
	mu      sync.RWMutex
	sources map[string]*Provenance
	now     func() time.Time
}

// NewTracker builds an empty provenance tracker.
func NewTracker() *Tracker {
	return &Tracker{sources: make(map[string]*Provenance), now: time.Now}
}

// Register creates or refreshes a source record and appends a "registered"
// chain entry.
func (t *Tracker) Register(sourceID string, sourceType SourceType, domain string, verified bool) *Provenance {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	score := TrustScore(sourceType, domain, verified)
	p, ok := t.sources[sourceID]
	if !ok {
		p = &Provenance{SourceID: sourceID}
		t.sources[sourceID] = p
	}
	p.SourceType = sourceType
	p.Domain = domain
	p.Verified = verified
	p.TrustScore = score
	p.TrustLevel = LevelFor(score)
	if verified {
		p.LastVerifiedAt = now
	}
	p.Chain = append(p.Chain, ChainEntry{
		Action:    "registered",
		Details:   fmt.Sprintf("type=%s domain=%s", sourceType, domain),
		Timestamp: now,
	})
	return p.snapshot()
}

// RecordAction appends a timestamped entry to a source's chain.
func (t *Tracker) RecordAction(sourceID, action, actor, details string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.sources[sourceID]
	if !ok {
		return fmt.Errorf("unknown source %q", sourceID)
	}
	p.Chain = append(p.Chain, ChainEntry{
		Action:    action,
		Actor:     actor,
		Details:   details,
		Timestamp: t.now(),
	})
	return nil
}

// Get returns a copy of a source's provenance.
func (t *Tracker) Get(sourceID string) (*Provenance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.sources[sourceID]
	if !ok {
		return nil, false
	}
	return p.snapshot(), true
}

// NeedsReverification reports whether a source's verification has gone
// stale. Never-verified sources always need it.
func (t *Tracker) NeedsReverification(sourceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.sources[sourceID]
	if !ok {
		return true
	}
	if p.LastVerifiedAt.IsZero() {
		return true
	}
	return t.now().Sub(p.LastVerifiedAt) > reverifyAfter
}

// CheckAccess reports whether a source's trust level is at or above the
// required level.
func (t *Tracker) CheckAccess(sourceID string, required TrustLevel) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.sources[sourceID]
	if !ok {
		return trustOrder[TrustUnknown] >= trustOrder[required]
	}
	return trustOrder[p.TrustLevel] >= trustOrder[required]
}

func (p *Provenance) snapshot() *Provenance {
	out := *p
	out.Chain = append([]ChainEntry(nil), p.Chain...)
	return &out
}
