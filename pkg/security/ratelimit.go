// Package security holds overload guards for the runtime. The service
// assumes a trusted control plane, so there is no authentication here;
// the rate limiter exists to keep a misbehaving caller from starving
// the worker pool.
package security

import (
	"sync"

	"golang.org/x/time/rate"
)

// DispatchLimiter applies a global and a per-agent token bucket to
// dispatches. The per-agent bucket keeps one hot agent from consuming
// the whole global budget.
type DispatchLimiter struct {
	globalLimiter *rate.Limiter
	agentLimiters map[string]*rate.Limiter
	mu            sync.RWMutex

	requestsPerSecond float64
	burst             int
}

// NewDispatchLimiter creates a limiter allowing requestsPerSecond with
// the given burst, applied both globally and per agent id.
func NewDispatchLimiter(requestsPerSecond float64, burst int) *DispatchLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &DispatchLimiter{
		globalLimiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		agentLimiters:     make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow checks whether a dispatch to agentID should be admitted.
func (dl *DispatchLimiter) Allow(agentID string) bool {
	if !dl.globalLimiter.Allow() {
		return false
	}
	return dl.getAgentLimiter(agentID).Allow()
}

// Forget drops the per-agent bucket for a deleted agent.
func (dl *DispatchLimiter) Forget(agentID string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	delete(dl.agentLimiters, agentID)
}

// getAgentLimiter gets or creates the bucket for one agent id.
func (dl *DispatchLimiter) getAgentLimiter(agentID string) *rate.Limiter {
	dl.mu.RLock()
	limiter, exists := dl.agentLimiters[agentID]
	dl.mu.RUnlock()

	if exists {
		return limiter
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if limiter, exists := dl.agentLimiters[agentID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(dl.requestsPerSecond), dl.burst)
	dl.agentLimiters[agentID] = limiter
	return limiter
}
