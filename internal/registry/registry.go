// Package registry owns the agent lifecycle: it is the single source of
// truth for which agent ids exist, and it enforces at most one live
// instance per id.
//
// Deletion drains rather than cancels: a deleted id disappears from the
// registry immediately so new dispatches fail with ErrAgentNotFound, but
// the instance itself is closed only after the last in-flight call has
// released its handle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/google/uuid"
)

var (
	// ErrAgentNotFound is returned when an agent id is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists is returned when creating an agent under an id that
	// is already present.
	ErrAgentExists = errors.New("agent already exists")

	// ErrInitFailed is returned when the injected factory fails to
	// construct an agent. The underlying message is always attached.
	ErrInitFailed = errors.New("agent initialization failed")
)

// closeTimeout bounds the deferred Close of a drained agent.
const closeTimeout = 30 * time.Second

type entry struct {
	agent   agent.Agent
	refs    int
	removed bool
}

// Registry is a concurrency-safe mapping from agent id to live instance.
type Registry struct {
	factory agent.Factory

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // ids in creation order, for deterministic listing
	configs []byte   // last model configs pushed, applied to new agents
}

// New creates an empty registry around the injected factory.
func New(factory agent.Factory) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[string]*entry),
	}
}

// Create constructs and registers a new agent under id. The factory may
// run arbitrary user logic, so it executes outside the registry lock;
// a concurrent create of the same id loses the race and gets
// ErrAgentExists.
func (r *Registry) Create(ctx context.Context, id string, initArgs []byte, source string) error {
	r.mu.RLock()
	_, exists := r.entries[id]
	configs := r.configs
	r.mu.RUnlock()

	if exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, id)
	}

	a, err := r.factory(id, initArgs, source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if configs != nil {
		if err := agent.ApplyModelConfigs(a, configs); err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("%w: %v", ErrInitFailed, err)
		}
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		_ = a.Close(ctx)
		return fmt.Errorf("%w: %s", ErrAgentExists, id)
	}
	r.entries[id] = &entry{agent: a}
	r.order = append(r.order, id)
	r.mu.Unlock()

	return nil
}

// Delete removes the id and finalizes the agent once drained.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.entries, id)
	r.removeFromOrderLocked(id)
	e.removed = true
	idle := e.refs == 0
	r.mu.Unlock()

	if idle {
		if err := e.agent.Close(ctx); err != nil {
			log.Printf("[Registry] close agent %s: %v", id, err)
		}
	}
	return nil
}

// DeleteAll atomically clears the registry. Idempotent on an empty
// registry; each removed agent follows the same drain policy as Delete.
func (r *Registry) DeleteAll(ctx context.Context) {
	r.mu.Lock()
	drained := make([]*entry, 0, len(r.entries))
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		e.removed = true
		if e.refs == 0 {
			drained = append(drained, e)
			ids = append(ids, id)
		}
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for i, e := range drained {
		if err := e.agent.Close(ctx); err != nil {
			log.Printf("[Registry] close agent %s: %v", ids[i], err)
		}
	}
}

// Clone snapshots the source agent and registers an independent copy
// under a freshly generated id. The deep copy happens outside the
// registry lock; the source is pinned by a handle so a concurrent
// delete cannot free it mid-copy.
func (r *Registry) Clone(ctx context.Context, id string) (string, error) {
	h, err := r.Acquire(id)
	if err != nil {
		return "", err
	}
	defer h.Release()

	newID := uuid.NewString()
	cloned, err := h.Agent().Clone(newID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	r.mu.Lock()
	if _, exists := r.entries[newID]; exists {
		r.mu.Unlock()
		_ = cloned.Close(ctx)
		return "", fmt.Errorf("%w: %s", ErrAgentExists, newID)
	}
	r.entries[newID] = &entry{agent: cloned}
	r.order = append(r.order, newID)
	r.mu.Unlock()

	return newID, nil
}

// List returns all registered ids in creation order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of live agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Memory returns a serialized snapshot of the agent's working memory.
func (r *Registry) Memory(ctx context.Context, id string) ([]byte, error) {
	h, err := r.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	return h.Agent().Memory(ctx)
}

// SetModelConfigs stores raw model configs, applies them to every live
// agent that opts in, and replays them onto agents created later.
func (r *Registry) SetModelConfigs(raw []byte) error {
	r.mu.Lock()
	r.configs = raw
	agents := make([]agent.Agent, 0, len(r.entries))
	for _, e := range r.entries {
		agents = append(agents, e.agent)
	}
	r.mu.Unlock()

	for _, a := range agents {
		if err := agent.ApplyModelConfigs(a, raw); err != nil {
			return err
		}
	}
	return nil
}

// Handle pins an agent for the duration of one call. Release must be
// called exactly once; the last release of a removed agent triggers its
// deferred Close.
type Handle struct {
	r    *Registry
	e    *entry
	once sync.Once
}

// Agent returns the pinned instance.
func (h *Handle) Agent() agent.Agent {
	return h.e.agent
}

// Release drops the pin.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.r.release(h.e)
	})
}

// Acquire pins the agent under id for an in-flight call.
func (r *Registry) Acquire(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	e.refs++
	return &Handle{r: r, e: e}, nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.refs--
	closeNow := e.removed && e.refs == 0
	r.mu.Unlock()

	if closeNow {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := e.agent.Close(ctx); err != nil {
			log.Printf("[Registry] close agent %s: %v", e.agent.ID(), err)
		}
	}
}

func (r *Registry) removeFromOrderLocked(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
