package chat

import (
	"context"
	"fmt"
	"time"
)

// Provision puts the store in the state the coordinator expects before any
// worker runs: the three job roots empty and the worker pool marked down.
func (r *Repo) Provision(ctx context.Context, now time.Time) error {
	for _, root := range []string{PromptsRoot, ResultsRoot, ConditionsRoot} {
		if err := r.st.Set(ctx, root, map[string]any{}); err != nil {
			return fmt.Errorf("provision %s: %w", root, err)
		}
	}
	err := r.SetServerStatus(ctx, ServerStatus{
		Status:     "Down",
		Message:    "Worker not started",
		LastUpdate: MillisOf(now),
	})
	if err != nil {
		return fmt.Errorf("provision %s: %w", ServerStatusPath, err)
	}
	return nil
}
