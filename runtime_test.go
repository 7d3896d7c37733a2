package agenthost

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agenthost-dev/agenthost/internal/pool"
	"github.com/agenthost-dev/agenthost/internal/registry"
	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/agenthost-dev/agenthost/pkg/config"
	"github.com/agenthost-dev/agenthost/pkg/placeholder"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, mutate func(*config.Config)) *Runtime {
	t.Helper()

	cfg := config.Default()
	cfg.ServerID = "test-server"
	cfg.StudioURL = ""
	cfg.NumWorkers = 2
	cfg.MaxTimeoutSeconds = 5
	if mutate != nil {
		mutate(cfg)
	}

	rt, err := New(cfg, agent.EchoFactory)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Stop(ctx)
	})
	return rt
}

// pollTask polls a task id until it resolves or the deadline passes.
func pollTask(t *testing.T, rt *Runtime, taskID string) []byte {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		value, err := rt.UpdatePlaceholder(context.Background(), taskID)
		if errors.Is(err, placeholder.ErrPending) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		return value
	}
	t.Fatalf("task %s did not resolve in time", taskID)
	return nil
}

func TestRuntime_EndToEnd(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", []byte(`{"delay_ms":20}`), ""))

	// Synchronous call returns the value inline.
	res, err := rt.CallAgentFunc(ctx, "a1", "echo", []byte("hi"))
	require.NoError(t, err)
	assert.False(t, res.Async)
	assert.Equal(t, []byte("hi"), res.Value)

	// Asynchronous call returns a task id and resolves through the store.
	res, err = rt.CallAgentFunc(ctx, "a1", "slow_echo", []byte("x"))
	require.NoError(t, err)
	require.True(t, res.Async)
	require.NotEmpty(t, res.TaskID)
	assert.Nil(t, res.Value)

	assert.Equal(t, []byte("x"), pollTask(t, rt, res.TaskID))

	require.NoError(t, rt.DeleteAgent(ctx, "a1"))

	_, err = rt.CallAgentFunc(ctx, "a1", "echo", []byte("gone"))
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestRuntime_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	rt := newTestRuntime(t, func(cfg *config.Config) {
		cfg.PoolType = config.PoolTypeRedis
		cfg.RedisURL = "redis://" + mr.Addr()
	})
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))

	res, err := rt.CallAgentFunc(ctx, "a1", "slow_echo", []byte("via-redis"))
	require.NoError(t, err)
	require.True(t, res.Async)

	assert.Equal(t, []byte("via-redis"), pollTask(t, rt, res.TaskID))
}

func TestRuntime_CreateDuplicate(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))
	err := rt.CreateAgent(ctx, "a1", nil, "")
	assert.ErrorIs(t, err, registry.ErrAgentExists)
}

func TestRuntime_CreateEmptyID(t *testing.T) {
	rt := newTestRuntime(t, nil)

	err := rt.CreateAgent(context.Background(), "", nil, "")
	assert.ErrorIs(t, err, registry.ErrInitFailed)
}

func TestRuntime_CloneAndMemory(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))
	_, err := rt.CallAgentFunc(ctx, "a1", "echo", []byte("one"))
	require.NoError(t, err)

	cloneID, err := rt.CloneAgent(ctx, "a1")
	require.NoError(t, err)
	require.NotEqual(t, "a1", cloneID)
	assert.ElementsMatch(t, []string{"a1", cloneID}, rt.AgentList())

	// The clone starts from the source's history and diverges.
	_, err = rt.CallAgentFunc(ctx, cloneID, "echo", []byte("two"))
	require.NoError(t, err)

	var srcHist, cloneHist []string
	mem, err := rt.GetAgentMemory(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(mem, &srcHist))

	mem, err = rt.GetAgentMemory(ctx, cloneID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(mem, &cloneHist))

	assert.Equal(t, []string{"echo:one"}, srcHist)
	assert.Equal(t, []string{"echo:one", "echo:two"}, cloneHist)
}

func TestRuntime_DeleteAllAgents(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))
	require.NoError(t, rt.CreateAgent(ctx, "a2", nil, ""))
	require.Len(t, rt.AgentList(), 2)

	require.NoError(t, rt.DeleteAllAgents(ctx))
	assert.Empty(t, rt.AgentList())

	// Idempotent on an empty registry.
	assert.NoError(t, rt.DeleteAllAgents(ctx))
}

func TestRuntime_SetModelConfigs(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))
	require.NoError(t, rt.SetModelConfigs([]byte(`[{"model":"m1"}]`)))

	// Configs reach agents created after the push as well.
	assert.NoError(t, rt.CreateAgent(ctx, "a2", nil, ""))
}

func TestRuntime_ServerInfo(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))

	data, err := rt.ServerInfo()
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "test-server", info["id"])
	assert.EqualValues(t, 1, info["agents"])
	assert.NotZero(t, info["pid"])
	assert.Contains(t, info, "uptime_seconds")
	assert.Contains(t, info, "mem_alloc_mb")
}

func TestRuntime_RateLimited(t *testing.T) {
	rt := newTestRuntime(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.1
		cfg.RateLimit.Burst = 1
	})
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))

	_, err := rt.CallAgentFunc(ctx, "a1", "echo", []byte("first"))
	require.NoError(t, err)

	_, err = rt.CallAgentFunc(ctx, "a1", "echo", []byte("second"))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRuntime_Stop(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", nil, ""))
	require.NoError(t, rt.Stop(ctx))

	// Stopped runtimes reject mutations and dispatches.
	assert.ErrorIs(t, rt.CreateAgent(ctx, "a2", nil, ""), ErrRuntimeStopped)
	_, err := rt.CallAgentFunc(ctx, "a1", "echo", nil)
	assert.ErrorIs(t, err, ErrRuntimeStopped)
	assert.ErrorIs(t, rt.DeleteAgent(ctx, "a1"), ErrRuntimeStopped)

	// Stop is idempotent.
	assert.NoError(t, rt.Stop(ctx))
}

func TestRuntime_StopDrainsInFlight(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.CreateAgent(ctx, "a1", []byte(`{"delay_ms":100}`), ""))

	res, err := rt.CallAgentFunc(ctx, "a1", "slow_echo", []byte("draining"))
	require.NoError(t, err)
	require.True(t, res.Async)

	// Stop waits for the in-flight slot to finish before closing the
	// store.
	require.NoError(t, rt.Stop(ctx))

	_, err = rt.UpdatePlaceholder(ctx, res.TaskID)
	assert.ErrorIs(t, err, placeholder.ErrStoreClosed)
}

func TestRuntime_NilFactory(t *testing.T) {
	_, err := New(config.Default(), nil)
	assert.Error(t, err)
}

func TestReply(t *testing.T) {
	ok, msg := Reply([]byte("payload"), nil)
	assert.True(t, ok)
	assert.Equal(t, "payload", msg)

	ok, msg = Reply(nil, pool.ErrPoolSaturated)
	assert.False(t, ok)
	assert.Equal(t, pool.ErrPoolSaturated.Error(), msg)
}
