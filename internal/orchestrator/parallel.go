package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// task is one independent phase of the gather step.
type task struct {
	phase string
	run   func(ctx context.Context) error
}

// outcome is what a task left behind. skipped tasks had nothing to do.
type outcome struct {
	phase   string
	start   time.Time
	err     error
	skipped bool
}

// errSkipped lets a task report that it did not apply to the request.
var errSkipped = errors.New("skipped")

// runConcurrently runs independent tasks and waits for all of them. Outcomes
// come back in task order so the request trace is deterministic. A panicking
// task is reported as an error, never propagated.
func runConcurrently(ctx context.Context, tasks []task) []outcome {
	out := make([]outcome, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = runSafe(ctx, t)
		}()
	}
	wg.Wait()
	return out
}

func runSafe(ctx context.Context, t task) (o outcome) {
	o = outcome{phase: t.phase, start: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("panic in %s: %v", t.phase, r)
		}
	}()
	err := t.run(ctx)
	if err == errSkipped {
		o.skipped = true
		return o
	}
	o.err = err
	return o
}
