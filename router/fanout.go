package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/workspace-agents/orchestrator/capability"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/observability"
)

// branch is one independent capability invocation in a fan-out set.
type branch struct {
	index int
	id    protocol.CapabilityID
	task  protocol.Task
}

// branchResult pairs an invocation outcome with its original position so
// aggregation order follows invocation order despite concurrent
// execution.
type branchResult struct {
	index  int
	id     protocol.CapabilityID
	result capability.Result
	err    error
}

// fanOut invokes independent capabilities concurrently and joins before
// returning. Each branch runs under its own timeout; a branch that
// exceeds it is marked failed and excluded rather than blocking the
// others. This is the only parallelism point within a request; the
// delegation history has already been committed sequentially for every
// branch before fanOut starts.
func (r *Router) fanOut(ctx context.Context, branches []branch) []branchResult {
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventFanoutStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router.fanOut",
		Data: map[string]any{
			"branch_count": len(branches),
			"timeout":      r.fanoutTimeout.String(),
		},
	})

	results := make([]branchResult, len(branches))

	var wg sync.WaitGroup
	for _, br := range branches {
		wg.Add(1)
		go func(br branch) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, r.fanoutTimeout)
			defer cancel()

			res, err := r.invoke(callCtx, br.id, br.task)
			if callCtx.Err() != nil && err != nil {
				err = fmt.Errorf("capability %s timed out: %w", br.id, callCtx.Err())
			}
			results[br.index] = branchResult{
				index:  br.index,
				id:     br.id,
				result: res,
				err:    err,
			}
		}(br)
	}
	wg.Wait()

	failures := 0
	for _, res := range results {
		if res.err != nil {
			failures++
		}
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventFanoutComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router.fanOut",
		Data: map[string]any{
			"branch_count": len(branches),
			"failed":       failures,
		},
	})

	return results
}

// invoke calls a capability, retrying once on execution failure before
// reporting it.
func (r *Router) invoke(ctx context.Context, id protocol.CapabilityID, task protocol.Task) (capability.Result, error) {
	c, err := r.registry.Get(id)
	if err != nil {
		return capability.Result{}, err
	}

	result, err := c.Execute(ctx, task)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return capability.Result{}, err
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventCapabilityFailed,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "router.invoke",
		Data: map[string]any{
			"capability": string(id),
			"error":      err.Error(),
			"retrying":   true,
		},
	})

	// One automatic retry, then the failure surfaces as a partial result.
	result, retryErr := c.Execute(ctx, task)
	if retryErr != nil {
		return capability.Result{}, fmt.Errorf("capability %s failed after retry: %w", id, retryErr)
	}
	return result, nil
}
