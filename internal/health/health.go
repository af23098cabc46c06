// Package health reports provider reachability and the liveness of the
// index, session memory and template store.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/tutor/internal/config"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"

	anthropicBaseURL = "https://api.anthropic.com"
	googleBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
)

// Status is the reachability of one provider endpoint.
type Status struct {
	Provider  string        `json:"provider"`
	Kind      string        `json:"kind"`
	BaseURL   string        `json:"base_url,omitempty"`
	Reachable bool          `json:"reachable"`
	Models    []string      `json:"models,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
}

// Component is the result of pinging an internal dependency.
type Component struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report aggregates every check. Status is down when a component fails or
// no provider is reachable, degraded when only some providers are.
type Report struct {
	Status     string      `json:"status"`
	Providers  []Status    `json:"providers,omitempty"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Pinger is implemented by the retrieval engine and the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

type named struct {
	name string
	p    Pinger
}

// Checker runs provider and component checks concurrently.
type Checker struct {
	providers  map[string]config.ProviderConfig
	components []named
	client     *http.Client
	timeout    time.Duration
}

func NewChecker(providers map[string]config.ProviderConfig) *Checker {
	return &Checker{providers: providers, client: http.DefaultClient, timeout: 10 * time.Second}
}

// AddComponent registers a dependency to ping. Nil pingers are ignored.
func (c *Checker) AddComponent(name string, p Pinger) {
	if p != nil {
		c.components = append(c.components, named{name: name, p: p})
	}
}

// Run performs all checks. Provider probes make network calls, so liveness
// checks can skip them with probeProviders=false.
func (c *Checker) Run(ctx context.Context, probeProviders bool) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rep := Report{CheckedAt: time.Now().UTC(), Components: make([]Component, len(c.components))}

	var names []string
	if probeProviders {
		for name := range c.providers {
			names = append(names, name)
		}
		sort.Strings(names)
		rep.Providers = make([]Status, len(names))
	}

	var g errgroup.Group
	for i, comp := range c.components {
		g.Go(func() error {
			start := time.Now()
			err := comp.p.Ping(ctx)
			rep.Components[i] = Component{Name: comp.name, OK: err == nil, Latency: time.Since(start)}
			if err != nil {
				rep.Components[i].Error = err.Error()
			}
			return nil
		})
	}
	for i, name := range names {
		g.Go(func() error {
			rep.Providers[i] = c.Check(ctx, name, c.providers[name])
			return nil
		})
	}
	_ = g.Wait()

	rep.Status = StatusOK
	reachable := 0
	for _, p := range rep.Providers {
		if p.Reachable {
			reachable++
		}
	}
	if probeProviders && reachable < len(rep.Providers) {
		rep.Status = StatusDegraded
	}
	if probeProviders && len(rep.Providers) > 0 && reachable == 0 {
		rep.Status = StatusDown
	}
	for _, comp := range rep.Components {
		if !comp.OK {
			rep.Status = StatusDown
		}
	}
	return rep
}

// Check verifies that one provider endpoint is reachable and accepts its
// credentials. Model-listing endpoints are used so no tokens are spent.
func (c *Checker) Check(ctx context.Context, name string, pc config.ProviderConfig) Status {
	start := time.Now()
	var s Status
	switch pc.Type {
	case "openai":
		s = c.checkOpenAICompat(ctx, pc.BaseURL, pc.APIKey)
	case "ollama":
		s = c.checkOllama(ctx, pc.BaseURL)
	case "anthropic":
		s = c.checkAnthropic(ctx, pc.BaseURL, pc.APIKey)
	case "google":
		s = c.checkGoogle(ctx, pc.BaseURL, pc.APIKey)
	default:
		s.Error = fmt.Sprintf("unknown provider type: %s", pc.Type)
	}
	s.Provider = name
	s.Kind = pc.Type
	s.Latency = time.Since(start)
	return s
}

func (c *Checker) get(ctx context.Context, endpoint string, header map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

func (c *Checker) checkOpenAICompat(ctx context.Context, baseURL, apiKey string) Status {
	s := Status{BaseURL: baseURL}
	header := map[string]string{}
	if apiKey != "" && !strings.HasPrefix(apiKey, "$") {
		header["Authorization"] = "Bearer " + apiKey
	}
	resp, err := c.get(ctx, strings.TrimRight(baseURL, "/")+"/models", header)
	if err != nil {
		s.Error = fmt.Sprintf("cannot reach %s: %s", baseURL, friendlyError(err))
		return s
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.Error = "authentication failed, check the API key"
		return s
	}
	if resp.StatusCode != http.StatusOK {
		s.Error = fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)
		return s
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	s.Reachable = true
	// Some compatible servers return non-standard listings but still work.
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		for _, m := range result.Data {
			s.Models = append(s.Models, m.ID)
		}
	}
	return s
}

func (c *Checker) checkOllama(ctx context.Context, baseURL string) Status {
	base := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	s := Status{BaseURL: base}
	resp, err := c.get(ctx, base+"/api/tags", nil)
	if err != nil {
		s.Error = fmt.Sprintf("cannot reach %s: %s", base, friendlyError(err))
		return s
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.Error = fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)
		return s
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	s.Reachable = true
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		for _, m := range result.Models {
			s.Models = append(s.Models, m.Name)
		}
	}
	return s
}

func (c *Checker) checkAnthropic(ctx context.Context, baseURL, apiKey string) Status {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	s := Status{BaseURL: baseURL}
	if apiKey == "" || strings.HasPrefix(apiKey, "$") {
		s.Error = "no API key configured (set ANTHROPIC_API_KEY)"
		return s
	}
	resp, err := c.get(ctx, strings.TrimRight(baseURL, "/")+"/v1/models", map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		s.Error = fmt.Sprintf("cannot reach Anthropic API: %s", friendlyError(err))
		return s
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		s.Error = "invalid API key"
		return s
	}
	s.Reachable = true
	return s
}

func (c *Checker) checkGoogle(ctx context.Context, baseURL, apiKey string) Status {
	if baseURL == "" {
		baseURL = googleBaseURL
	}
	s := Status{BaseURL: baseURL}
	if apiKey == "" || strings.HasPrefix(apiKey, "$") {
		s.Error = "no API key configured (set GEMINI_API_KEY)"
		return s
	}
	endpoint := fmt.Sprintf("%s/models?key=%s&pageSize=1", strings.TrimRight(baseURL, "/"), url.QueryEscape(apiKey))
	resp, err := c.get(ctx, endpoint, nil)
	if err != nil {
		s.Error = fmt.Sprintf("cannot reach Google API: %s", friendlyError(err))
		return s
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.Error = "invalid API key"
		return s
	}
	s.Reachable = true
	return s
}

func friendlyError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return "connection refused (is the service running?)"
	}
	if strings.Contains(msg, "no such host") {
		return "host not found (check the URL)"
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return "connection timed out (service may be starting up)"
	}
	return msg
}
