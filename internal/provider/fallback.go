package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// FallbackRecorder observes fallback events (metrics).
type FallbackRecorder interface {
	RecordFallback(from, to string)
}

// FallbackProvider wraps a primary Provider with exactly one retry against a
// fallback provider. It never retries further, to avoid unbounded fan-out.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	logger   zerolog.Logger
	recorder FallbackRecorder
}

func WithFallback(primary, fallback Provider, logger zerolog.Logger, recorder FallbackRecorder) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, logger: logger, recorder: recorder}
}

func (f *FallbackProvider) Name() string { return f.primary.Name() }

func (f *FallbackProvider) Kind() Kind { return f.primary.Kind() }

// Complete calls the primary provider and, if it fails, the fallback once
// with the fallback's own model. A cancelled or expired context is returned
// as is; it is not a provider failure.
func (f *FallbackProvider) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, fmt.Errorf("generation via %s: %w", f.primary.Name(), ctxErr)
	}
	if f.fallback == nil || f.fallback.Name() == f.primary.Name() {
		return Response{}, fmt.Errorf("%w: %s failed: %v", ErrProviderUnavailable, f.primary.Name(), err)
	}

	f.logger.Warn().
		Err(err).
		Str("from", f.primary.Name()).
		Str("to", f.fallback.Name()).
		Msg("primary provider failed, falling back")
	if f.recorder != nil {
		f.recorder.RecordFallback(f.primary.Name(), f.fallback.Name())
	}

	fbReq := req
	fbReq.Model = ""
	resp, fbErr := f.fallback.Complete(ctx, fbReq)
	if fbErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, fmt.Errorf("generation via %s: %w", f.fallback.Name(), ctxErr)
		}
		f.logger.Error().
			Err(fbErr).
			Str("provider", f.fallback.Name()).
			Msg("fallback provider failed")
		return Response{}, fmt.Errorf("%w: %s failed: %v; fallback %s failed: %v",
			ErrProviderUnavailable, f.primary.Name(), err, f.fallback.Name(), fbErr)
	}
	resp.FallbackFrom = f.primary.Name()
	return resp, nil
}

// IsUnavailable reports whether err means every provider failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
