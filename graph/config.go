package graph

import "context"

// DefaultRecursionLimit bounds the number of execution steps when the
// config does not set its own limit.
const DefaultRecursionLimit = 25

// InterruptAll is the wildcard accepted by InterruptBefore and
// InterruptAfter to interrupt at every node.
const InterruptAll = "*"

// StreamMode defines what Stream emits per step.
type StreamMode string

const (
	// StreamModeValues emits the full state after each step
	StreamModeValues StreamMode = "values"
	// StreamModeUpdates emits the updates (deltas) from each node
	StreamModeUpdates StreamMode = "updates"
	// StreamModeDebug emits step events with node name and full state
	StreamModeDebug StreamMode = "debug"
)

// Config carries per-invocation settings for a compiled graph.
type Config struct {
	// Configurable holds runtime values such as "thread_id" and
	// "checkpoint_id".
	Configurable map[string]any `json:"configurable,omitempty"`

	// RecursionLimit bounds the number of execution steps.
	// Zero means DefaultRecursionLimit.
	RecursionLimit int `json:"recursion_limit,omitempty"`

	// Tags and Metadata are attached to checkpoints created during
	// the run.
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// InterruptBefore pauses execution before the named nodes run.
	// "*" interrupts before every node.
	InterruptBefore []string `json:"interrupt_before,omitempty"`

	// InterruptAfter pauses execution after the named nodes ran.
	InterruptAfter []string `json:"interrupt_after,omitempty"`

	// OutputKeys filters streamed state to the named keys.
	OutputKeys []string `json:"output_keys,omitempty"`

	// StreamMode selects what Stream emits. Defaults to StreamModeValues.
	StreamMode StreamMode `json:"stream_mode,omitempty"`

	// ResumeFrom overrides the entry point, continuing execution from
	// the named nodes.
	ResumeFrom []string `json:"-"`

	// ResumeValue is handed to the node that called Interrupt when
	// execution resumes.
	ResumeValue any `json:"-"`
}

// ThreadID returns the thread_id from the configurable map, if set.
func (c *Config) ThreadID() string {
	if c == nil || c.Configurable == nil {
		return ""
	}
	tid, _ := c.Configurable["thread_id"].(string)
	return tid
}

// CheckpointID returns the checkpoint_id from the configurable map, if set.
func (c *Config) CheckpointID() string {
	if c == nil || c.Configurable == nil {
		return ""
	}
	cid, _ := c.Configurable["checkpoint_id"].(string)
	return cid
}

func (c *Config) recursionLimit() int {
	if c == nil || c.RecursionLimit <= 0 {
		return DefaultRecursionLimit
	}
	return c.RecursionLimit
}

// WithThreadID creates a Config with the given thread_id set in the
// configurable map.
func WithThreadID(threadID string) *Config {
	return &Config{
		Configurable: map[string]any{
			"thread_id": threadID,
		},
	}
}

// WithInterruptBefore creates a Config with interrupt points set before
// the specified nodes.
func WithInterruptBefore(nodes ...string) *Config {
	return &Config{
		InterruptBefore: nodes,
	}
}

// WithInterruptAfter creates a Config with interrupt points set after
// the specified nodes.
func WithInterruptAfter(nodes ...string) *Config {
	return &Config{
		InterruptAfter: nodes,
	}
}

type resumeValueKey struct{}

type configKey struct{}

// WithResumeValue adds a resume value to the context.
// This value will be returned by Interrupt() when re-executing a node.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, value)
}

// GetResumeValue retrieves the resume value from the context.
func GetResumeValue(ctx context.Context) any {
	return ctx.Value(resumeValueKey{})
}

// WithConfig stores the invocation config in the context so node
// functions can inspect it.
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// GetConfig retrieves the invocation config from the context, or nil.
func GetConfig(ctx context.Context) *Config {
	config, _ := ctx.Value(configKey{}).(*Config)
	return config
}

// Interrupt pauses execution and waits for input.
// If resuming, it returns the value provided with the resume config.
func Interrupt(ctx context.Context, value any) (any, error) {
	if resumeVal := GetResumeValue(ctx); resumeVal != nil {
		return resumeVal, nil
	}
	return nil, &NodeInterrupt{Value: value}
}
