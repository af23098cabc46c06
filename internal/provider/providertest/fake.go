// Package providertest provides scripted providers for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/jeanpaul/tutor/internal/provider"
)

// Fake is a provider whose answer is fixed or computed per call. It records
// every request it receives.
type Fake struct {
	ProviderName string
	ProviderKind provider.Kind
	Text         string
	Err          error
	Respond      func(req provider.Request) (string, error)

	mu       sync.Mutex
	requests []provider.Request
}

func (f *Fake) Name() string { return f.ProviderName }

func (f *Fake) Kind() provider.Kind {
	if f.ProviderKind == "" {
		return provider.KindOpenAI
	}
	return f.ProviderKind
}

func (f *Fake) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	text, err := f.Text, f.Err
	if f.Respond != nil {
		text, err = f.Respond(req)
	}
	if err != nil {
		return provider.Response{}, err
	}
	return provider.Response{Text: text, Model: req.Model, Provider: f.ProviderName}, nil
}

// Calls returns how many times Complete was invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Request, len(f.requests))
	copy(out, f.requests)
	return out
}
