package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shambakey1/vifinode/pkg/runtime"
)

func TestWaitReturnsTrueWhenAlreadyComplete(t *testing.T) {
	engine := runtime.NewFakeEngine()
	_, err := engine.CreateService(context.Background(), runtime.ServiceSpec{Name: "svc", Replicas: 2})
	require.NoError(t, err)

	done, err := Wait(context.Background(), engine, "svc", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWaitExpiresOnTTL(t *testing.T) {
	engine := runtime.NewFakeEngine()
	_, err := engine.CreateService(context.Background(), runtime.ServiceSpec{Name: "svc", Replicas: 2})
	require.NoError(t, err)
	engine.SetStates("svc", []runtime.TaskState{runtime.TaskStateRunning, runtime.TaskStateRunning})

	done, err := Wait(context.Background(), engine, "svc", 2, 0)
	require.NoError(t, err)
	assert.False(t, done)
}

// errorOnceEngine returns a poll error on its first TaskStates call and
// delegates to the embedded FakeEngine afterward, to exercise the
// completion waiter's poll-error tolerance.
type errorOnceEngine struct {
	*runtime.FakeEngine
	errored bool
}

func (e *errorOnceEngine) TaskStates(ctx context.Context, name string) ([]runtime.TaskState, error) {
	if !e.errored {
		e.errored = true
		return nil, assert.AnError
	}
	return e.FakeEngine.TaskStates(ctx, name)
}

func TestWaitToleratesASinglePollError(t *testing.T) {
	fake := runtime.NewFakeEngine()
	_, err := fake.CreateService(context.Background(), runtime.ServiceSpec{Name: "svc", Replicas: 1})
	require.NoError(t, err)
	engine := &errorOnceEngine{FakeEngine: fake}

	done, err := Wait(context.Background(), engine, "svc", 1, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, done)
}
