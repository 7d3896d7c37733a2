package agenthost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/agenthost-dev/agenthost/internal/pool"
	"github.com/agenthost-dev/agenthost/internal/registry"
	"github.com/agenthost-dev/agenthost/internal/studio"
	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/agenthost-dev/agenthost/pkg/config"
	"github.com/agenthost-dev/agenthost/pkg/observability"
	"github.com/agenthost-dev/agenthost/pkg/placeholder"
	"github.com/agenthost-dev/agenthost/pkg/security"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRuntimeStopped is returned when operating on a stopped runtime.
	ErrRuntimeStopped = errors.New("runtime is stopped")

	// ErrRateLimited is returned when the dispatch rate limiter rejects
	// a call. Callers should back off and retry.
	ErrRateLimited = errors.New("dispatch rate limited")
)

// Runtime wires the registry, worker pool, and placeholder store
// together and owns their lifecycle. It is the explicit handle the
// process entry point holds; shutdown is a method call, not a signal
// handler poking file-scope state.
type Runtime struct {
	cfg      *config.Config
	registry *registry.Registry
	store    placeholder.Store
	pool     *pool.Pool
	limiter  *security.DispatchLimiter
	studio   *studio.Client
	cron     *cron.Cron

	startTime time.Time

	mu      sync.RWMutex
	stopped bool
}

// New builds a runtime from cfg and the injected agent factory. The
// factory is the only way agents come into existence; the runtime never
// loads code.
func New(cfg *config.Config, factory agent.Factory) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if factory == nil {
		return nil, errors.New("agent factory is required")
	}

	ttl := time.Duration(cfg.MaxExpireTime) * time.Second

	var store placeholder.Store
	switch cfg.PoolType {
	case config.PoolTypeRedis:
		rs, err := placeholder.NewRedisStore(placeholder.RedisStoreConfig{
			URL: cfg.RedisURL,
			TTL: ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("placeholder store: %w", err)
		}
		store = rs
	default:
		store = placeholder.NewLocalStore(cfg.MaxPoolSize, ttl)
	}

	reg := registry.New(factory)

	r := &Runtime{
		cfg:      cfg,
		registry: reg,
		store:    store,
		pool: pool.New(reg, store, pool.Config{
			NumWorkers:  cfg.NumWorkers,
			CallTimeout: time.Duration(cfg.MaxTimeoutSeconds) * time.Second,
		}),
		studio:    studio.NewClient(cfg.StudioURL),
		startTime: time.Now(),
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		r.limiter = security.NewDispatchLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	r.startMaintenance()

	if r.studio != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.studio.Register(ctx, r.serverStatus()); err != nil {
			log.Printf("[Runtime] studio registration: %v", err)
		}
	}

	return r, nil
}

// startMaintenance schedules the periodic jobs: placeholder expiry
// sweeps, runtime gauge sampling, and the studio heartbeat.
func (r *Runtime) startMaintenance() {
	r.cron = cron.New()

	if ls, ok := r.store.(*placeholder.LocalStore); ok {
		_, _ = r.cron.AddFunc("@every 1m", func() {
			if n := ls.Sweep(); n > 0 {
				observability.AddPlaceholdersExpired(n)
				log.Printf("[Runtime] swept %d expired placeholders", n)
			}
		})
	}

	_, _ = r.cron.AddFunc("@every 15s", func() {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		observability.SetMemoryUsage(m.Alloc)
		observability.SetGoroutines(runtime.NumGoroutine())
		observability.SetAgentsLive(r.registry.Len())
		if ls, ok := r.store.(*placeholder.LocalStore); ok {
			observability.SetPlaceholdersLive(ls.Len())
		}
	})

	if r.studio != nil {
		_, _ = r.cron.AddFunc("@every 30s", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			r.studio.Heartbeat(ctx, r.serverStatus())
		})
	}

	r.cron.Start()
}

// CreateAgent constructs and registers a new agent under id.
func (r *Runtime) CreateAgent(ctx context.Context, id string, initArgs []byte, source string) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty agent id", registry.ErrInitFailed)
	}
	return r.registry.Create(ctx, id, initArgs, source)
}

// DeleteAgent removes the agent under id, draining in-flight calls.
func (r *Runtime) DeleteAgent(ctx context.Context, id string) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	if err := r.registry.Delete(ctx, id); err != nil {
		return err
	}
	if r.limiter != nil {
		r.limiter.Forget(id)
	}
	return nil
}

// DeleteAllAgents clears the registry. Always succeeds.
func (r *Runtime) DeleteAllAgents(ctx context.Context) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	r.registry.DeleteAll(ctx)
	return nil
}

// CloneAgent snapshots the agent under id into an independent instance
// and returns the freshly generated id.
func (r *Runtime) CloneAgent(ctx context.Context, id string) (string, error) {
	if err := r.checkRunning(); err != nil {
		return "", err
	}
	return r.registry.Clone(ctx, id)
}

// AgentList returns all live agent ids in creation order.
func (r *Runtime) AgentList() []string {
	return r.registry.List()
}

// GetAgentMemory returns a serialized snapshot of the agent's working
// memory.
func (r *Runtime) GetAgentMemory(ctx context.Context, id string) ([]byte, error) {
	return r.registry.Memory(ctx, id)
}

// SetModelConfigs pushes raw model configuration to all live agents
// that accept it, and to agents created afterwards.
func (r *Runtime) SetModelConfigs(raw []byte) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	return r.registry.SetModelConfigs(raw)
}

// CallAgentFunc dispatches a function invocation to the agent under id.
// The result is either an inline value or a task id for polling.
func (r *Runtime) CallAgentFunc(ctx context.Context, id, fn string, args []byte) (*pool.Result, error) {
	if err := r.checkRunning(); err != nil {
		return nil, err
	}
	if r.limiter != nil && !r.limiter.Allow(id) {
		return nil, fmt.Errorf("%w: agent %s", ErrRateLimited, id)
	}
	return r.pool.Dispatch(ctx, id, fn, args)
}

// UpdatePlaceholder polls a task id for readiness.
func (r *Runtime) UpdatePlaceholder(ctx context.Context, taskID string) ([]byte, error) {
	return r.pool.UpdatePlaceholder(ctx, taskID)
}

// ServerInfo returns a JSON snapshot of the server's identity and
// resource usage.
func (r *Runtime) ServerInfo() ([]byte, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := map[string]any{
		"id":             r.cfg.ServerID,
		"host":           r.cfg.Host,
		"port":           r.cfg.Port,
		"pid":            os.Getpid(),
		"version":        Version,
		"uptime_seconds": int64(time.Since(r.startTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"mem_alloc_mb":   m.Alloc / 1024 / 1024,
		"agents":         r.registry.Len(),
	}
	return json.Marshal(info)
}

// Stop shuts the runtime down: new dispatches are rejected, in-flight
// worker slots drain up to max_timeout_seconds, then all agents and the
// placeholder store are released. Stop is idempotent.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	log.Printf("[Runtime] stopping: draining %d worker slots", r.cfg.NumWorkers)

	cronCtx := r.cron.Stop()

	drainCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.MaxTimeoutSeconds)*time.Second)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(drainCtx)
	g.Go(func() error {
		return r.pool.Close(gctx)
	})
	g.Go(func() error {
		select {
		case <-cronCtx.Done():
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	drainErr := g.Wait()

	r.registry.DeleteAll(ctx)
	if err := r.store.Close(); err != nil {
		log.Printf("[Runtime] close placeholder store: %v", err)
	}

	if drainErr != nil {
		return fmt.Errorf("shutdown: %w", drainErr)
	}
	log.Printf("[Runtime] stopped")
	return nil
}

// Config returns the immutable configuration this runtime was built
// with.
func (r *Runtime) Config() config.Config {
	return *r.cfg
}

func (r *Runtime) checkRunning() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRuntimeStopped
	}
	return nil
}

func (r *Runtime) serverStatus() studio.ServerStatus {
	return studio.ServerStatus{
		ServerID:  r.cfg.ServerID,
		Host:      r.cfg.Host,
		Port:      r.cfg.Port,
		Agents:    r.registry.Len(),
		Uptime:    int64(time.Since(r.startTime).Seconds()),
		Timestamp: time.Now().Unix(),
	}
}
