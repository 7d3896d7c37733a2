package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	var gotPath string
	var gotStatus ServerStatus
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotStatus))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Register(context.Background(), ServerStatus{
		ServerID: "srv-1",
		Host:     "localhost",
		Port:     12310,
		Agents:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/servers/register", gotPath)
	assert.Equal(t, "srv-1", gotStatus.ServerID)
	assert.Equal(t, 3, gotStatus.Agents)
}

func TestRegister_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Register(context.Background(), ServerStatus{ServerID: "srv-1"})
	assert.Error(t, err)
}

func TestNilClient(t *testing.T) {
	c := NewClient("")
	require.Nil(t, c)

	// All methods tolerate the disabled client.
	assert.NoError(t, c.Register(context.Background(), ServerStatus{}))
	c.Heartbeat(context.Background(), ServerStatus{})
}

func TestHeartbeat_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.Heartbeat(context.Background(), ServerStatus{ServerID: "srv-1"})
}
