// Package llmproxy forwards chat requests to upstream LLM providers with a
// deep-inspection guard on the way in and the output analyzer on the way
// out.
package llmproxy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Provider families decide request shape and auth headers.
const (
	FamilyOpenAI    = "openai"
	FamilyAzure     = "azure"
	FamilyAnthropic = "anthropic"
)

// Provider is one upstream endpoint.
type Provider struct {
	Name         string `json:"name" yaml:"name"`
	Family       string `json:"family" yaml:"family"`
	BaseURL      string `json:"baseUrl" yaml:"base_url"`
	APIKey       string `json:"apiKey" yaml:"api_key"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"default_model,omitempty"`
}

// Catalog is the named provider set.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewCatalog builds a catalog from a provider list.
func NewCatalog(providers []Provider) *Catalog {
	c := &Catalog{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		c.providers[strings.ToLower(p.Name)] = p
	}
	return c
}

// ParseCatalog decodes a JSON provider list, the LLM_PROVIDERS format.
func ParseCatalog(raw string) (*Catalog, error) {
	if strings.TrimSpace(raw) == "" {
		return NewCatalog(nil), nil
	}
	var providers []Provider
	if err := json.Unmarshal([]byte(raw), &providers); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}
	for _, p := range providers {
		if p.Name == "" || p.BaseURL == "" {
			return nil, fmt.Errorf("provider entries need name and baseUrl")
		}
	}
	return NewCatalog(providers), nil
}

// Get resolves a provider by name, case-insensitively.
func (c *Catalog) Get(name string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[strings.ToLower(name)]
	return p, ok
}

// Names lists configured provider names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}
