package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/provider"
	"github.com/jeanpaul/tutor/internal/retrieval"
)

// Errors a caller of Ask can match with errors.Is. ParseError has no value:
// a malformed structured reply is returned as plain text.
var (
	ErrProviderUnavailable = provider.ErrProviderUnavailable
	ErrUnknownProvider     = provider.ErrUnknownProvider
	ErrTemplateNotFound    = methodology.ErrTemplateNotFound
	ErrRetrievalTimeout    = retrieval.ErrRetrievalTimeout
	ErrConfiguration       = config.ErrConfiguration
	ErrTimeout             = errors.New("request timed out")
)

// AskError is returned by Ask for failures surfaced to the caller. It
// names the methodology that was attempted.
type AskError struct {
	Methodology string
	Phase       string
	Err         error
}

func (e *AskError) Error() string {
	return fmt.Sprintf("ask (%s, %s): %v", e.Methodology, e.Phase, e.Err)
}

func (e *AskError) Unwrap() error { return e.Err }

// classify maps a context expiry onto ErrTimeout so callers need not check
// context errors themselves.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
