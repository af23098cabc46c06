package methodology

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Cache holds the active template per methodology. It is loaded once and
// replaced wholesale by Invalidate; readers never see a partial reload.
type Cache struct {
	source TemplateSource

	mu     sync.RWMutex
	active map[string]PromptTemplate
	all    []PromptTemplate
}

// NewCache loads templates from source.
func NewCache(ctx context.Context, source TemplateSource) (*Cache, error) {
	c := &Cache{source: source}
	if err := c.Invalidate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Invalidate reloads every template from the source. On error the previous
// contents stay in place.
func (c *Cache) Invalidate(ctx context.Context) error {
	templates, err := c.source.LoadTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	active := make(map[string]PromptTemplate)
	seen := make(map[string]bool)
	for _, t := range templates {
		key := fmt.Sprintf("%s@%d", t.Methodology, t.Version)
		if seen[key] {
			return fmt.Errorf("duplicate template %s version %d", t.Methodology, t.Version)
		}
		seen[key] = true
		if !t.IsActive {
			continue
		}
		if prev, ok := active[t.Methodology]; ok {
			return fmt.Errorf("methodology %s has more than one active template (versions %d and %d)",
				t.Methodology, prev.Version, t.Version)
		}
		active[t.Methodology] = t
	}

	sorted := make([]PromptTemplate, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Methodology != sorted[j].Methodology {
			return sorted[i].Methodology < sorted[j].Methodology
		}
		return sorted[i].Version < sorted[j].Version
	})

	c.mu.Lock()
	c.active = active
	c.all = sorted
	c.mu.Unlock()
	return nil
}

// Active returns the active template for a methodology.
func (c *Cache) Active(methodology string) (PromptTemplate, error) {
	m := Normalize(methodology)
	c.mu.RLock()
	t, ok := c.active[m]
	c.mu.RUnlock()
	if !ok {
		return PromptTemplate{}, fmt.Errorf("%w: no active template for methodology %q", ErrTemplateNotFound, m)
	}
	return t, nil
}

// Version returns a specific template version, active or not.
func (c *Cache) Version(methodology string, version int) (PromptTemplate, bool) {
	m := Normalize(methodology)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.all {
		if t.Methodology == m && t.Version == version {
			return t, true
		}
	}
	return PromptTemplate{}, false
}

// List returns all loaded templates ordered by methodology and version.
func (c *Cache) List() []PromptTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PromptTemplate, len(c.all))
	copy(out, c.all)
	return out
}
