package provider

import (
	"fmt"
	"strings"

	"github.com/jeanpaul/tutor/internal/config"
)

// RouteSource records which resolution step produced a route.
type RouteSource string

const (
	SourceExplicit RouteSource = "explicit"
	SourcePrefix   RouteSource = "prefix"
	SourceTable    RouteSource = "table"
	SourceDefault  RouteSource = "default"
)

// Route is the resolved backend for one request. It is derived per request
// and never persisted.
type Route struct {
	ModelIdentifier string       `json:"model_identifier"`
	Provider        string       `json:"provider"`
	Kind            Kind         `json:"kind"`
	Capabilities    Capabilities `json:"capabilities"`
	Source          RouteSource  `json:"source"`
}

type prefixRule struct {
	prefix   string
	provider string
}

// Resolver maps model identifiers to providers using only static
// configuration. It holds no mutable state after construction, so Resolve is
// safe for concurrent use and its result depends only on its inputs.
type Resolver struct {
	rules           []prefixRule
	models          map[string]string
	kinds           map[string]Kind
	defaultProvider string
}

func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{
		models:          make(map[string]string, len(cfg.Routing.Models)),
		kinds:           make(map[string]Kind, len(cfg.Providers)),
		defaultProvider: cfg.DefaultProvider,
	}
	for _, rule := range cfg.Routing.PrefixRules {
		r.rules = append(r.rules, prefixRule{prefix: strings.ToLower(rule.Prefix), provider: rule.Provider})
	}
	for model, prov := range cfg.Routing.Models {
		r.models[strings.ToLower(model)] = prov
	}
	for name, p := range cfg.Providers {
		r.kinds[name] = Kind(p.Type)
	}
	return r
}

// Resolve picks a provider: explicit choice, then the first matching prefix
// rule, then the static model table, then the default provider.
func (r *Resolver) Resolve(modelID, explicitProvider string) (Route, error) {
	id := strings.ToLower(strings.TrimSpace(modelID))

	if explicitProvider != "" {
		if _, ok := r.kinds[explicitProvider]; !ok {
			return Route{}, fmt.Errorf("%w: %q", ErrUnknownProvider, explicitProvider)
		}
		return r.route(modelID, explicitProvider, SourceExplicit), nil
	}

	if id != "" {
		for _, rule := range r.rules {
			if strings.HasPrefix(id, rule.prefix) {
				return r.route(modelID, rule.provider, SourcePrefix), nil
			}
		}
		if prov, ok := r.models[id]; ok {
			return r.route(modelID, prov, SourceTable), nil
		}
	}

	return r.route(modelID, r.defaultProvider, SourceDefault), nil
}

func (r *Resolver) route(modelID, providerName string, src RouteSource) Route {
	kind := r.kinds[providerName]
	return Route{
		ModelIdentifier: modelID,
		Provider:        providerName,
		Kind:            kind,
		Capabilities:    CapabilitiesFor(kind),
		Source:          src,
	}
}

// RequestModel returns the model to send to the resolved provider. Routes
// that only fell through to the default keep the provider's own model,
// because an identifier nobody recognized is unlikely to be valid there.
func (rt Route) RequestModel() string {
	if rt.Source == SourceDefault {
		return ""
	}
	return rt.ModelIdentifier
}
