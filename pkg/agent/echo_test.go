package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoFactory(t *testing.T) {
	a, err := EchoFactory("a1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID())
}

func TestEchoFactory_BadInitArgs(t *testing.T) {
	_, err := EchoFactory("a1", []byte("{not json"), "")
	assert.Error(t, err)
}

func TestEchoAgent_Invoke(t *testing.T) {
	a, err := EchoFactory("a1", []byte(`{"delay_ms":1}`), "")
	require.NoError(t, err)
	ctx := context.Background()

	out, err := a.Invoke(ctx, "echo", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)

	out, err = a.Invoke(ctx, "slow_echo", []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), out)

	_, err = a.Invoke(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownFunc)
}

func TestEchoAgent_AsyncDeclaration(t *testing.T) {
	a, err := EchoFactory("a1", nil, "")
	require.NoError(t, err)

	assert.False(t, IsAsyncFunc(a, "echo"))
	assert.True(t, IsAsyncFunc(a, "slow_echo"))
}

func TestEchoAgent_MemoryRecordsCalls(t *testing.T) {
	a, err := EchoFactory("a1", nil, "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Invoke(ctx, "echo", []byte("one"))
	require.NoError(t, err)
	_, err = a.Invoke(ctx, "echo", []byte("two"))
	require.NoError(t, err)

	mem, err := a.Memory(ctx)
	require.NoError(t, err)

	var history []string
	require.NoError(t, json.Unmarshal(mem, &history))
	assert.Equal(t, []string{"echo:one", "echo:two"}, history)
}

func TestEchoAgent_CloneIsIndependent(t *testing.T) {
	a, err := EchoFactory("a1", nil, "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Invoke(ctx, "echo", []byte("shared"))
	require.NoError(t, err)

	clone, err := a.Clone("a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", clone.ID())

	// Mutations after the snapshot do not leak either way.
	_, err = a.Invoke(ctx, "echo", []byte("original-only"))
	require.NoError(t, err)
	_, err = clone.Invoke(ctx, "echo", []byte("clone-only"))
	require.NoError(t, err)

	var origHist, cloneHist []string
	mem, err := a.Memory(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(mem, &origHist))

	mem, err = clone.Memory(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(mem, &cloneHist))

	assert.Equal(t, []string{"echo:shared", "echo:original-only"}, origHist)
	assert.Equal(t, []string{"echo:shared", "echo:clone-only"}, cloneHist)
}

func TestEchoAgent_SetModelConfigs(t *testing.T) {
	a, err := EchoFactory("a1", nil, "")
	require.NoError(t, err)

	assert.NoError(t, ApplyModelConfigs(a, []byte(`[{"model":"m1"}]`)))
	assert.Error(t, ApplyModelConfigs(a, []byte("{bad")))
}

func TestApplyModelConfigs_SkipsNonConfigurable(t *testing.T) {
	assert.NoError(t, ApplyModelConfigs(plainAgent{}, []byte("{bad")))
}

// plainAgent implements only the base interface.
type plainAgent struct{}

func (plainAgent) ID() string { return "plain" }

func (plainAgent) Invoke(context.Context, string, []byte) ([]byte, error) { return nil, nil }

func (plainAgent) Memory(context.Context) ([]byte, error) { return nil, nil }

func (plainAgent) Clone(string) (Agent, error) { return plainAgent{}, nil }

func (plainAgent) Close(context.Context) error { return nil }
