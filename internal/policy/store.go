package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeOp labels a store mutation for subscribers.
type ChangeOp string

const (
	ChangeCreate   ChangeOp = "create"
	ChangeUpdate   ChangeOp = "update"
	ChangeDelete   ChangeOp = "delete"
	ChangeRollback ChangeOp = "rollback"
	ChangeReload   ChangeOp = "reload"
)

// ChangeEvent describes one store mutation.
type ChangeEvent struct {
	Op        ChangeOp  `json:"op"`
	RuleID    string    `json:"ruleId,omitempty"`
	VersionID string    `json:"versionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the process-wide rule list plus its version history. All
// mutations serialize through the store; readers get copies.
type Store struct {
	mu          sync.RWMutex
	rules       []Rule
	versions    []Version
	nextVersion int
	listeners   []func(ChangeEvent)
}

// NewStore builds an empty store.
func NewStore() *Store {
	s := &Store{nextVersion: 1}
	slog.Info("policy store initialized")
	return s
}

// OnChange registers a listener called after every mutation. Listeners run
// outside the store lock.
func (s *Store) OnChange(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(ev ChangeEvent) {
	ev.Timestamp = time.Now()
	s.mu.RLock()
	listeners := append([]func(ChangeEvent){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// sortLocked keeps rules priority-descending. Callers hold the write lock.
func (s *Store) sortLocked() {
	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].Priority > s.rules[j].Priority
	})
}

// Create inserts a rule. An empty ID gets a generated UUID.
func (s *Store) Create(rule Rule) (Rule, error) {
	rule.normalize()
	if err := rule.validate(); err != nil {
		return Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.mu.Lock()
	for _, existing := range s.rules {
		if existing.ID == rule.ID {
			s.mu.Unlock()
			return Rule{}, fmt.Errorf("rule %s already exists", rule.ID)
		}
	}
	s.rules = append(s.rules, rule)
	s.sortLocked()
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: ChangeCreate, RuleID: rule.ID})
	return rule, nil
}

// Get returns a copy of the rule with the given ID.
func (s *Store) Get(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.ID == id {
			r.Patterns = deepCopyPatterns(r.Patterns)
			return r, true
		}
	}
	return Rule{}, false
}

// Update replaces a rule's mutable fields, bumps its version, and re-sorts.
func (s *Store) Update(id string, rule Rule) (Rule, error) {
	rule.normalize()
	rule.ID = id
	if err := rule.validate(); err != nil {
		return Rule{}, err
	}

	s.mu.Lock()
	idx := -1
	for i, r := range s.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return Rule{}, fmt.Errorf("rule %s not found", id)
	}
	prev := s.rules[idx]
	rule.Version = prev.Version + 1
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = time.Now()
	rule.Source = prev.Source
	s.rules[idx] = rule
	s.sortLocked()
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: ChangeUpdate, RuleID: id})
	return rule, nil
}

// Delete removes a rule by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := -1
	for i, r := range s.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("rule %s not found", id)
	}
	s.rules = append(s.rules[:idx], s.rules[idx+1:]...)
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: ChangeDelete, RuleID: id})
	return nil
}

// List returns a priority-ordered copy of all rules.
func (s *Store) List() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyRules(s.rules)
}

// Active returns a copy of the active rules, priority-ordered.
func (s *Store) Active() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []Rule
	for _, r := range s.rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return deepCopyRules(active)
}

// CreateVersion snapshots the current rules as a new immutable version.
func (s *Store) CreateVersion(description, createdBy string) Version {
	s.mu.Lock()
	v := s.createVersionLocked(description, createdBy)
	s.mu.Unlock()
	return v
}

func (s *Store) createVersionLocked(description, createdBy string) Version {
	v := Version{
		VersionID:   uuid.NewString(),
		Version:     s.nextVersion,
		Rules:       deepCopyRules(s.rules),
		CreatedAt:   time.Now(),
		CreatedBy:   createdBy,
		Description: description,
	}
	s.nextVersion++
	s.versions = append(s.versions, v)
	return v
}

// Versions lists all snapshots, oldest first.
func (s *Store) Versions() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, len(s.versions))
	for i, v := range s.versions {
		out[i] = v
		out[i].Rules = deepCopyRules(v.Rules)
	}
	return out
}

// GetVersion returns one snapshot by ID.
func (s *Store) GetVersion(versionID string) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.VersionID == versionID {
			v.Rules = deepCopyRules(v.Rules)
			return v, true
		}
	}
	return Version{}, false
}

// Rollback restores the rule list from a snapshot. The pre-rollback state
// is captured as its own version first.
func (s *Store) Rollback(versionID string) error {
	s.mu.Lock()
	var target *Version
	for i := range s.versions {
		if s.versions[i].VersionID == versionID {
			target = &s.versions[i]
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("version %s not found", versionID)
	}

	s.createVersionLocked(fmt.Sprintf("pre-rollback to version %d", target.Version), "system")
	s.rules = deepCopyRules(target.Rules)
	s.sortLocked()
	s.mu.Unlock()

	slog.Info("policy rollback applied", "version_id", versionID)
	s.notify(ChangeEvent{Op: ChangeRollback, VersionID: versionID})
	return nil
}

// ReplaceFileRules swaps out every file-sourced rule for the given set,
// leaving API-created rules in place. Used by policy directory reload.
func (s *Store) ReplaceFileRules(rules []Rule) error {
	now := time.Now()
	for i := range rules {
		rules[i].normalize()
		if err := rules[i].validate(); err != nil {
			return err
		}
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
		rules[i].Source = "file"
		if rules[i].Version == 0 {
			rules[i].Version = 1
		}
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now
	}

	s.mu.Lock()
	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.Source != "file" {
			kept = append(kept, r)
		}
	}
	s.rules = append(kept, rules...)
	s.sortLocked()
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: ChangeReload})
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active int
	for _, r := range s.rules {
		if r.IsActive {
			active++
		}
	}
	return map[string]interface{}{
		"total_rules":  len(s.rules),
		"active_rules": active,
		"versions":     len(s.versions),
	}
}
