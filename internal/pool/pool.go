// Package pool runs agent function invocations on a fixed number of
// worker slots. Synchronous calls occupy a slot until the result is
// ready; asynchronous calls return a task id at once and resolve through
// the placeholder store when the slot finishes the computation.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agenthost-dev/agenthost/internal/observability"
	"github.com/agenthost-dev/agenthost/internal/registry"
	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/agenthost-dev/agenthost/pkg/placeholder"
	obsmetrics "github.com/agenthost-dev/agenthost/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrPoolSaturated is returned when every worker slot is busy and
	// the dispatch queue is full.
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrPoolClosed is returned when dispatching to a stopped pool.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrExecutionFailed wraps errors raised inside a dispatched agent
	// function. It is a normal, recoverable call outcome.
	ErrExecutionFailed = errors.New("agent function failed")

	// ErrCallTimeout is returned when a synchronous call exceeds the
	// per-call timeout. The slot keeps running; only the caller gives up.
	ErrCallTimeout = errors.New("agent call timed out")
)

// Config controls pool sizing.
type Config struct {
	// NumWorkers is the number of concurrently executing slots.
	NumWorkers int
	// QueueDepth bounds dispatches waiting for a free slot.
	// Default: 2 * NumWorkers.
	QueueDepth int
	// CallTimeout bounds each call's execution.
	CallTimeout time.Duration
}

// Result is the outcome of a dispatch: either an inline value or a task
// id to poll via UpdatePlaceholder.
type Result struct {
	Async  bool
	TaskID string
	Value  []byte
}

type jobResult struct {
	value []byte
	err   error
}

type job struct {
	handle *registry.Handle
	fn     string
	args   []byte
	taskID string         // set for async dispatches
	reply  chan jobResult // set for sync dispatches, buffered
}

// asyncOutcome is the envelope stored in the placeholder store so that
// execution failures survive the async boundary as typed results.
type asyncOutcome struct {
	OK      bool   `json:"ok"`
	Value   []byte `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pool is a fixed-size pool of execution slots over a registry and a
// placeholder store.
type Pool struct {
	reg         *registry.Registry
	store       placeholder.Store
	jobs        chan *job
	wg          sync.WaitGroup
	callTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New creates and starts a pool with cfg.NumWorkers slots.
func New(reg *registry.Registry, store placeholder.Store, cfg Config) *Pool {
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 2 * workers
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	p := &Pool{
		reg:         reg,
		store:       store,
		jobs:        make(chan *job, depth),
		callTimeout: timeout,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}

	return p
}

// Dispatch routes one function invocation to the target agent. For
// functions the agent declares asynchronous it returns a task id
// immediately; otherwise it blocks until the result is ready or the
// call timeout elapses.
func (p *Pool) Dispatch(ctx context.Context, agentID, fn string, args []byte) (*Result, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	h, err := p.reg.Acquire(agentID)
	if err != nil {
		return nil, err
	}

	if agent.IsAsyncFunc(h.Agent(), fn) {
		return p.dispatchAsync(ctx, h, fn, args)
	}
	return p.dispatchSync(ctx, h, fn, args)
}

func (p *Pool) dispatchSync(ctx context.Context, h *registry.Handle, fn string, args []byte) (*Result, error) {
	j := &job{
		handle: h,
		fn:     fn,
		args:   args,
		reply:  make(chan jobResult, 1),
	}
	if !p.enqueue(j) {
		h.Release()
		return nil, fmt.Errorf("%w: all slots busy and queue full", ErrPoolSaturated)
	}

	select {
	case res := <-j.reply:
		if res.err != nil {
			return nil, res.err
		}
		return &Result{Value: res.value}, nil
	case <-time.After(p.callTimeout):
		return nil, fmt.Errorf("%w after %s", ErrCallTimeout, p.callTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) dispatchAsync(ctx context.Context, h *registry.Handle, fn string, args []byte) (*Result, error) {
	taskID, err := p.store.Prepare(ctx)
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("prepare placeholder: %w", err)
	}

	j := &job{
		handle: h,
		fn:     fn,
		args:   args,
		taskID: taskID,
	}
	if !p.enqueue(j) {
		h.Release()
		// The prepared entry is left pending; it ages out via TTL.
		return nil, fmt.Errorf("%w: all slots busy and queue full", ErrPoolSaturated)
	}

	return &Result{Async: true, TaskID: taskID}, nil
}

// enqueue attempts a non-blocking submit. A full queue is backpressure,
// not an internal fault.
func (p *Pool) enqueue(j *job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		obsmetrics.SetQueueDepth(len(p.jobs))
		return true
	default:
		return false
	}
}

// UpdatePlaceholder polls a task id for readiness. A resolved execution
// failure surfaces as ErrExecutionFailed with the captured message.
func (p *Pool) UpdatePlaceholder(ctx context.Context, taskID string) ([]byte, error) {
	data, err := p.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var out asyncOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode placeholder payload: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFailed, out.Message)
	}
	return out.Value, nil
}

// Close stops accepting dispatches and waits for in-flight slots to
// drain, up to the deadline on ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool drain: %w", ctx.Err())
	}
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// run is one worker slot's loop.
func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.jobs {
		obsmetrics.SetQueueDepth(len(p.jobs))
		p.execute(j)
	}
}

func (p *Pool) execute(j *job) {
	defer j.handle.Release()

	obsmetrics.AddWorkersBusy(1)
	defer obsmetrics.AddWorkersBusy(-1)

	mode := "sync"
	if j.taskID != "" {
		mode = "async"
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.callTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "pool.dispatch",
		trace.WithAttributes(
			attribute.String("agent.id", j.handle.Agent().ID()),
			attribute.String("agent.func", j.fn),
			attribute.String("dispatch.mode", mode),
		),
	)
	defer span.End()

	start := time.Now()
	value, err := p.invoke(ctx, j)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	obsmetrics.RecordDispatch(j.fn, mode, status, duration)
	span.SetAttributes(
		attribute.Int64("execution.duration_ms", duration.Milliseconds()),
		attribute.Bool("execution.success", err == nil),
	)

	if j.reply != nil {
		j.reply <- jobResult{value: value, err: err}
		return
	}

	out := asyncOutcome{OK: err == nil, Value: value}
	if err != nil {
		out.Message = err.Error()
	}
	data, merr := json.Marshal(&out)
	if merr != nil {
		log.Printf("[Pool] encode result for task %s: %v", j.taskID, merr)
		return
	}
	if serr := p.store.Set(ctx, j.taskID, data); serr != nil {
		// Evicted or expired before completion; the result is dropped.
		log.Printf("[Pool] resolve task %s: %v", j.taskID, serr)
	}
}

// invoke runs the agent function, converting panics into execution
// failures so a misbehaving agent can never take down a worker slot.
func (p *Pool) invoke(ctx context.Context, j *job) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrExecutionFailed, r)
		}
	}()

	value, err = j.handle.Agent().Invoke(ctx, j.fn, j.args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return value, nil
}
