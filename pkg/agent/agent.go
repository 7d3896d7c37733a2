// Package agent defines the contract between the hosting runtime and the
// caller-supplied agent implementations it executes. The runtime treats
// agents as opaque: construction, function dispatch, and memory snapshots
// all go through the interfaces below, supplied by the embedding layer.
package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownFunc is returned when an agent does not implement the
	// requested function.
	ErrUnknownFunc = errors.New("unknown agent function")
)

// Agent is a single hosted instance. Implementations must be safe for
// concurrent invocation: the runtime does not serialize calls to the same
// agent, so any required ordering is the implementation's responsibility.
type Agent interface {
	// ID returns the unique id this agent was created under.
	ID() string

	// Invoke executes the named function with an opaque argument payload
	// and returns an opaque result payload. Errors are surfaced to the
	// caller as a failed call, never as a runtime fault.
	Invoke(ctx context.Context, fn string, args []byte) ([]byte, error)

	// Memory returns a serialized view of the agent's working memory
	// without mutating it.
	Memory(ctx context.Context) ([]byte, error)

	// Clone returns a deep, independent copy of this agent registered
	// under newID. The clone must not observe later mutations to the
	// original.
	Clone(newID string) (Agent, error)

	// Close finalizes the agent. It is called once, after the last
	// in-flight call has returned.
	Close(ctx context.Context) error
}

// Factory constructs an agent from its id, opaque init arguments, and
// optional source payload. It is the injected capability that replaces
// dynamic code loading: the embedding layer decides what, if anything,
// the source payload means.
type Factory func(id string, initArgs []byte, source string) (Agent, error)

// AsyncDeclarer is an optional interface. Agents implement it to mark
// functions whose results are delivered through the placeholder store
// rather than inline. Functions not declared async run synchronously.
type AsyncDeclarer interface {
	IsAsync(fn string) bool
}

// ModelConfigurable is an optional interface for agents that accept
// model configuration pushed at runtime via SetModelConfigs.
type ModelConfigurable interface {
	SetModelConfigs(raw []byte) error
}

// IsAsyncFunc reports whether a declares fn as asynchronous.
func IsAsyncFunc(a Agent, fn string) bool {
	if d, ok := a.(AsyncDeclarer); ok {
		return d.IsAsync(fn)
	}
	return false
}

// ApplyModelConfigs pushes raw model configs to a if it opts in.
// Agents that don't implement ModelConfigurable are skipped silently.
func ApplyModelConfigs(a Agent, raw []byte) error {
	mc, ok := a.(ModelConfigurable)
	if !ok {
		return nil
	}
	if err := mc.SetModelConfigs(raw); err != nil {
		return fmt.Errorf("set model configs on %s: %w", a.ID(), err)
	}
	return nil
}
