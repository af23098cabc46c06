package provider

import (
	"fmt"
	"sort"

	"github.com/jeanpaul/tutor/internal/config"
)

// Registry holds one client per configured provider. It is built once at
// startup and only read afterwards.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry builds clients for every configured provider.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(cfg.Providers)), fallback: cfg.FallbackProvider}
	for name, pc := range cfg.Providers {
		p, err := New(name, pc)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}
	if _, ok := r.providers[r.fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback provider %q is not configured", config.ErrConfiguration, r.fallback)
	}
	return r, nil
}

// NewRegistryFrom is used by tests and embedders that build clients directly.
func NewRegistryFrom(fallback string, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers)), fallback: fallback}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// New constructs the client variant for a provider config.
func New(name string, pc config.ProviderConfig) (Provider, error) {
	switch Kind(pc.Type) {
	case KindOpenAI:
		return NewOpenAI(name, pc.BaseURL, pc.APIKey, pc.Model), nil
	case KindAnthropic:
		return NewAnthropic(name, pc.BaseURL, pc.APIKey, pc.Model), nil
	case KindGoogle:
		return NewGoogle(name, pc.BaseURL, pc.APIKey, pc.Model), nil
	case KindOllama:
		return NewOllama(name, pc.BaseURL, pc.Model), nil
	}
	return nil, fmt.Errorf("%w: provider %q has unknown type %q", config.ErrConfiguration, name, pc.Type)
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Fallback returns the provider used after a primary failure.
func (r *Registry) Fallback() Provider {
	return r.providers[r.fallback]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
