// Package waiter polls the container engine until a service's
// replicas all reach the terminal complete state, or its TTL expires.
package waiter

import (
	"context"
	"time"

	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/runtime"
)

// Wait polls serviceID once per second until every replica reports
// runtime.TaskStateComplete, or until ttl seconds have elapsed. A
// single poll error decrements the remaining budget rather than
// aborting, per the completion-waiter contract.
func Wait(ctx context.Context, engine runtime.ContainerEngine, serviceID string, replicas int, ttl time.Duration) (bool, error) {
	deadline := time.Now().Add(ttl)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		states, err := engine.TaskStates(ctx, serviceID)
		if err != nil {
			log.Warn("poll error for service " + serviceID + ": " + err.Error())
		} else if allComplete(states, replicas) {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func allComplete(states []runtime.TaskState, replicas int) bool {
	if len(states) < replicas {
		return false
	}
	for _, s := range states {
		if s != runtime.TaskStateComplete {
			return false
		}
	}
	return true
}
