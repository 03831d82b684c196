package graph

import "time"

// StateSnapshot represents the saved state of a thread at one point in
// its execution history.
type StateSnapshot struct {
	// Values is the full state at this point.
	Values map[string]any

	// Next lists the nodes that would run next. Empty when the run
	// completed.
	Next []string

	// Config addresses this snapshot (thread_id and checkpoint_id).
	Config Config

	// Metadata carries checkpoint metadata such as the source of the
	// write and the step number.
	Metadata map[string]any

	// CreatedAt is the checkpoint timestamp.
	CreatedAt time.Time

	// ParentConfig addresses the previous snapshot in the thread, if any.
	ParentConfig *Config
}
