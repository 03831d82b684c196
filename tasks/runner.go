package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graphserve-ai/graphserve/graph"
	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/registry"
	"github.com/graphserve-ai/graphserve/service"
	"github.com/graphserve-ai/graphserve/store"
)

// DefaultMaxAttempts bounds how often a failing invocation is retried.
const DefaultMaxAttempts = 20

// DefaultMaxBackoff caps the delay between retries.
const DefaultMaxBackoff = 5 * time.Minute

// Task is a graph invocation to execute in the background.
type Task struct {
	GraphName string         `json:"graph_name"`
	Input     map[string]any `json:"input"`
	Config    *graph.Config  `json:"config,omitempty"`
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// MaxBackoff defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration
	Logger     log.Logger
}

// Runner executes graph invocations with exponential backoff retry.
// The delay doubles with each attempt, starting at one second. Errors
// that cannot be fixed by retrying fail immediately.
type Runner struct {
	service     *service.GraphService
	maxAttempts int
	maxBackoff  time.Duration
	logger      log.Logger

	// wait is replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner over the graph service.
func NewRunner(svc *service.GraphService, opts RunnerOptions) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Runner{
		service:     svc,
		maxAttempts: opts.MaxAttempts,
		maxBackoff:  opts.MaxBackoff,
		logger:      opts.Logger,
		wait:        sleepContext,
	}
}

// Execute invokes the task's graph, retrying transient failures until
// the attempt budget is spent. The final state of a successful
// invocation is returned.
func (r *Runner) Execute(ctx context.Context, task Task) (map[string]any, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, r.maxBackoff)
			r.logger.Warn("graph %s attempt %d failed, retrying in %s: %v",
				task.GraphName, attempt, delay, lastErr)
			if err := r.wait(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := r.service.Invoke(ctx, task.GraphName, task.Input, task.Config)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("graph %s failed after %d attempts: %w", task.GraphName, r.maxAttempts, lastErr)
}

// retryable reports whether the error could be fixed by retrying.
// Missing graphs, missing rows, graph wiring errors and interrupts are
// deterministic and fail immediately.
func retryable(err error) bool {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return false
	}
	if errors.Is(err, graph.ErrEntryPointNotSet) ||
		errors.Is(err, graph.ErrNodeNotFound) ||
		errors.Is(err, graph.ErrNoOutgoingEdge) ||
		errors.Is(err, graph.ErrRecursionLimit) {
		return false
	}
	var interrupt *graph.GraphInterrupt
	if errors.As(err, &interrupt) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// backoff returns 2^(attempt-1) seconds, capped.
func backoff(attempt int, limit time.Duration) time.Duration {
	d := time.Second << (attempt - 1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
