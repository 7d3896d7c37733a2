package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EchoAgent is a minimal built-in agent used by the console command and
// as a smoke-test target. It implements "echo" (synchronous, returns the
// payload unchanged) and "slow_echo" (asynchronous, resolves through the
// placeholder store). Every call is recorded in its working memory.
type EchoAgent struct {
	id    string
	delay time.Duration

	mu      sync.Mutex
	history []string
	configs json.RawMessage
}

// EchoFactory builds EchoAgents. The init args may carry an optional
// JSON object {"delay_ms": N} controlling how long slow_echo sleeps.
// The source payload is ignored.
func EchoFactory(id string, initArgs []byte, source string) (Agent, error) {
	delay := 10 * time.Millisecond
	if len(initArgs) > 0 {
		var opts struct {
			DelayMS int `json:"delay_ms"`
		}
		if err := json.Unmarshal(initArgs, &opts); err != nil {
			return nil, fmt.Errorf("parse init args: %w", err)
		}
		if opts.DelayMS > 0 {
			delay = time.Duration(opts.DelayMS) * time.Millisecond
		}
	}
	return &EchoAgent{id: id, delay: delay}, nil
}

// ID returns the agent id.
func (a *EchoAgent) ID() string { return a.id }

// Invoke handles echo and slow_echo.
func (a *EchoAgent) Invoke(ctx context.Context, fn string, args []byte) ([]byte, error) {
	switch fn {
	case "echo":
		a.record(fn, args)
		return args, nil
	case "slow_echo":
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		a.record(fn, args)
		return args, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, fn)
	}
}

// IsAsync declares slow_echo as asynchronous.
func (a *EchoAgent) IsAsync(fn string) bool {
	return fn == "slow_echo"
}

// Memory returns the call history as a JSON array.
func (a *EchoAgent) Memory(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.history)
}

// Clone returns an independent copy with its own history.
func (a *EchoAgent) Clone(newID string) (Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	clone := &EchoAgent{
		id:      newID,
		delay:   a.delay,
		history: append([]string(nil), a.history...),
	}
	if a.configs != nil {
		clone.configs = append(json.RawMessage(nil), a.configs...)
	}
	return clone, nil
}

// SetModelConfigs retains the raw configs; EchoAgent only validates that
// they are JSON.
func (a *EchoAgent) SetModelConfigs(raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("model configs are not valid JSON")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = append(json.RawMessage(nil), raw...)
	return nil
}

// Close is a no-op for EchoAgent.
func (a *EchoAgent) Close(ctx context.Context) error { return nil }

func (a *EchoAgent) record(fn string, args []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, fn+":"+string(args))
}
