package ml

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Recognized model names.
const (
	ModelInjectionClassifier = "injection_classifier"
	ModelPIIDetector         = "pii_detector"
)

// ModelConfig is the on-disk model description (config.json next to the
// vocab and model blob). Missing fields are defaulted.
type ModelConfig struct {
	Name      string   `json:"name"`
	VocabFile string   `json:"vocab_file"`
	ModelFile string   `json:"model_file"`
	MaxLength int      `json:"max_length"`
	Threshold float64  `json:"threshold"`
	Labels    []string `json:"labels"`
}

func (c *ModelConfig) applyDefaults(name string) {
	if c.Name == "" {
		c.Name = name
	}
	if c.VocabFile == "" {
		c.VocabFile = "vocab.txt"
	}
	if c.ModelFile == "" {
		c.ModelFile = "model.onnx"
	}
	if c.MaxLength == 0 {
		c.MaxLength = 128
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if len(c.Labels) == 0 {
		switch c.Name {
		case ModelInjectionClassifier:
			c.Labels = append([]string(nil), ClassifierLabels...)
		case ModelPIIDetector:
			c.Labels = append([]string(nil), BIOLabels...)
		}
	}
}

// Model couples a tokenizer, a config, and an optionally-bound session.
type Model struct {
	Config    ModelConfig
	Tokenizer *Tokenizer

	mu      sync.RWMutex
	session InferenceSession
}

// Bind attaches an inference session. Passing nil unbinds the model.
func (m *Model) Bind(s InferenceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// Session returns the bound session, or nil when the model is unavailable.
func (m *Model) Session() InferenceSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Available reports whether the model can serve inference.
func (m *Model) Available() bool { return m.Session() != nil }

// Registry holds the loaded models by name. Either model may be absent;
// callers must degrade gracefully.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// LoadDir loads model configs and vocabularies from modelDir. Each
// recognized model lives in a subdirectory named after it. Missing models
// are skipped with a log line, never an error.
func (r *Registry) LoadDir(modelDir string) error {
	for _, name := range []string{ModelInjectionClassifier, ModelPIIDetector} {
		dir := filepath.Join(modelDir, name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Info("ml model not present, skipping", "model", name, "dir", dir)
			continue
		}
		model, err := loadModel(dir, name)
		if err != nil {
			slog.Warn("ml model failed to load, continuing without it", "model", name, "error", err)
			continue
		}
		r.Put(name, model)
		slog.Info("ml model loaded",
			"model", name,
			"max_length", model.Config.MaxLength,
			"threshold", model.Config.Threshold,
			"labels", len(model.Config.Labels),
		)
	}
	return nil
}

func loadModel(dir, name string) (*Model, error) {
	cfg := ModelConfig{}
	cfgPath := filepath.Join(dir, "config.json")
	if data, err := os.ReadFile(cfgPath); err == nil { // #nosec G304 -- model dir from trusted config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", cfgPath, err)
		}
	}
	cfg.applyDefaults(name)

	tok, err := LoadTokenizer(filepath.Join(dir, cfg.VocabFile), cfg.MaxLength)
	if err != nil {
		return nil, err
	}
	return &Model{Config: cfg, Tokenizer: tok}, nil
}

// Put registers a model under name.
func (r *Registry) Put(name string, m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

// Get returns a model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Active returns a model only when it is both registered and has a bound
// session.
func (r *Registry) Active(name string) (*Model, bool) {
	m, ok := r.Get(name)
	if !ok || !m.Available() {
		return nil, false
	}
	return m, true
}

// Names lists registered model names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// Close releases every bound session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, m := range r.models {
		if s := m.Session(); s != nil {
			if err := s.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing session %s: %w", name, err)
			}
			m.Bind(nil)
		}
	}
	return firstErr
}
