// Package model manages the models served by a local Ollama instance: the
// generation model of the ollama provider and the ollama embedding model.
package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Info struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Modified   time.Time `json:"modified_at"`
	Digest     string    `json:"digest,omitempty"`
	Family     string    `json:"family,omitempty"`
	Parameters string    `json:"parameters,omitempty"`
	Quant      string    `json:"quantization,omitempty"`
}

type PullProgress struct {
	Status    string  `json:"status"`
	Digest    string  `json:"digest,omitempty"`
	Total     int64   `json:"total,omitempty"`
	Completed int64   `json:"completed,omitempty"`
	Percent   float64 `json:"-"`
}

type Manager struct {
	baseURL string
	client  *http.Client
}

// NewManager accepts both the native and the OpenAI-compatible (/v1) URL.
func NewManager(baseURL string) *Manager {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Manager{
		baseURL: strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		client:  &http.Client{},
	}
}

// List returns the locally available models.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to Ollama at %s: %w", m.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name       string    `json:"name"`
			Size       int64     `json:"size"`
			ModifiedAt time.Time `json:"modified_at"`
			Digest     string    `json:"digest"`
			Details    struct {
				Family        string `json:"family"`
				ParameterSize string `json:"parameter_size"`
				Quantization  string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]Info, len(result.Models))
	for i, rm := range result.Models {
		models[i] = Info{
			Name:       rm.Name,
			Size:       rm.Size,
			Modified:   rm.ModifiedAt,
			Digest:     rm.Digest,
			Family:     rm.Details.Family,
			Parameters: rm.Details.ParameterSize,
			Quant:      rm.Details.Quantization,
		}
	}
	return models, nil
}

// Has reports whether name is pulled. A name without a tag matches :latest.
func (m *Manager) Has(ctx context.Context, name string) (bool, error) {
	models, err := m.List(ctx)
	if err != nil {
		return false, err
	}
	want := canonical(name)
	for _, mi := range models {
		if canonical(mi.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads a model, reporting streamed progress.
func (m *Manager) Pull(ctx context.Context, name string, progress func(PullProgress)) error {
	payload, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pull %s failed (%d): %s", name, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var line struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("pull %s: %s", name, line.Error)
		}
		p := line.PullProgress
		if p.Total > 0 {
			p.Percent = float64(p.Completed) / float64(p.Total) * 100
		}
		if progress != nil {
			progress(p)
		}
	}
	return scanner.Err()
}

func canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	return name
}
