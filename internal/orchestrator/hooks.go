package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/agman/internal/faults"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/task"
)

// Hook runs after a step reaches its until signal.
type Hook func(ctx context.Context, t *task.Task) error

// Built-in hook names.
const (
	HookClearFeedback       = "clear_feedback"
	HookMarkReviewAddressed = "mark_review_addressed"
)

// HookRegistry maps post_hook names to implementations.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewHookRegistry returns a registry holding the built-in hooks.
func NewHookRegistry() *HookRegistry {
	r := &HookRegistry{hooks: make(map[string]Hook)}
	r.Register(HookClearFeedback, func(_ context.Context, t *task.Task) error {
		return t.ClearFeedback()
	})
	r.Register(HookMarkReviewAddressed, func(_ context.Context, t *task.Task) error {
		return t.SetReviewAddressed(true)
	})
	return r
}

// Register adds or replaces a hook.
func (r *HookRegistry) Register(name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = h
}

// Names lists registered hooks.
func (r *HookRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.hooks))
	for n := range r.hooks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks every post_hook in f is registered.
func (r *HookRegistry) Validate(f *flow.Flow) error {
	known := r.Names()
	for _, name := range f.PostHooks() {
		if !slices.Contains(known, name) {
			return faults.Load("validate flow "+f.Name,
				fmt.Errorf("unknown post_hook %q (known: %s)", name, strings.Join(known, ", ")))
		}
	}
	return nil
}

// Run executes the named hook. An empty name is a no-op.
func (r *HookRegistry) Run(ctx context.Context, name string, t *task.Task) error {
	if name == "" {
		return nil
	}
	r.mu.RLock()
	h, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return faults.Load("run hook", fmt.Errorf("unknown post_hook %q", name))
	}
	if err := h(ctx, t); err != nil {
		return fmt.Errorf("post_hook %s: %w", name, err)
	}
	return nil
}
