package search

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// Registry resolves search providers by name
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.SearchProvider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.SearchProvider),
	}
}

// Register adds a provider under its own name
func (r *Registry) Register(provider domain.SearchProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (domain.SearchProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return provider, nil
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers the arXiv, Semantic Scholar and Tavily
// providers, each behind its own breaker.
func NewRegistryFromConfig(cfg config.SearchConfig, timeout time.Duration) (*Registry, error) {
	client := &http.Client{Timeout: timeout}
	cooldown, err := time.ParseDuration(cfg.BreakerCooldown)
	if err != nil {
		cooldown = 30 * time.Second
	}

	reg := NewRegistry()
	providers := []domain.SearchProvider{
		NewArxivProvider(client, cfg.UserAgent),
		NewSemanticScholarProvider(client, cfg.SemanticScholarAPIKey, cfg.UserAgent),
		NewTavilyProvider(client, cfg.TavilyAPIKey, cfg.TavilyDepth, cfg.WebMinChars),
	}
	for _, p := range providers {
		if err := reg.Register(NewBreaker(cfg.BreakerFailures, cooldown).Guard(p)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
