package runtime

import (
	"context"
	"sync"
)

// FakeEngine is an in-memory ContainerEngine for tests that would
// otherwise require a live containerd socket. States default to
// TaskStateComplete on creation so a test can drive the happy path
// without manual stepping; call SetStates to simulate slow or failing
// replicas.
type FakeEngine struct {
	mu       sync.Mutex
	services map[string]ServiceSpec
	states   map[string][]TaskState
}

// NewFakeEngine returns a ready-to-use fake engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		services: make(map[string]ServiceSpec),
		states:   make(map[string][]TaskState),
	}
}

func (f *FakeEngine) CreateService(ctx context.Context, spec ServiceSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.services[spec.Name]; exists {
		return "", &ErrNameConflict{Name: spec.Name}
	}
	f.services[spec.Name] = spec
	states := make([]TaskState, spec.Replicas)
	for i := range states {
		states[i] = TaskStateComplete
	}
	f.states[spec.Name] = states
	return spec.Name, nil
}

func (f *FakeEngine) GetService(ctx context.Context, name string) (*ServiceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.services[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return &ServiceInfo{Name: name, Replicas: spec.Replicas}, nil
}

func (f *FakeEngine) ListServices(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.services))
	for name := range f.services {
		names = append(names, name)
	}
	return names, nil
}

func (f *FakeEngine) DeleteService(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, name)
	delete(f.states, name)
	return nil
}

func (f *FakeEngine) TaskStates(ctx context.Context, name string) ([]TaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states, ok := f.states[name]
	if !ok {
		return nil, errNotFound(name)
	}
	out := make([]TaskState, len(states))
	copy(out, states)
	return out, nil
}

// SetStates overrides the per-replica states of an already-created
// service, for tests that need to exercise timeouts or failures.
func (f *FakeEngine) SetStates(name string, states []TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[name] = states
}

type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "service not found: " + e.name }

func errNotFound(name string) error { return &notFoundError{name: name} }
