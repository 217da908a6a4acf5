// Package runtime wraps the container engine behind a narrow interface
// so the rest of the node never imports containerd directly. A service
// is a named group of identical replicas; the engine tracks them as
// one unit but the underlying implementation is free to run each
// replica as its own containerd task.
package runtime

import "context"

// TaskState is the lifecycle state of one replica. TaskStateComplete is
// the only terminal-success value the Completion Waiter accepts.
type TaskState string

const (
	TaskStatePending  TaskState = "pending"
	TaskStateRunning  TaskState = "running"
	TaskStateComplete TaskState = "complete"
	TaskStateFailed   TaskState = "failed"
)

// Mount describes one bind mount into the service's containers.
type Mount struct {
	Source      string
	Destination string
	Mode        string // "ro" or "rw"
}

// ServiceSpec is everything the launcher needs to create a service.
type ServiceSpec struct {
	Name          string
	Image         string
	Replicas      int
	Mounts        []Mount
	WorkDir       string
	Env           []string
	Command       string
	Args          []string
	RestartPolicy string // "on-failure"
	User          string
	Groups        []string
}

// ServiceInfo is a snapshot of a running service's identity.
type ServiceInfo struct {
	Name     string
	Replicas int
}

// ContainerEngine is the only surface the rest of the node depends on.
// CreateService must fail with ErrNameConflict if a service by that
// name already exists, per the naming contract in spec §4.6.
type ContainerEngine interface {
	CreateService(ctx context.Context, spec ServiceSpec) (string, error)
	GetService(ctx context.Context, name string) (*ServiceInfo, error)
	ListServices(ctx context.Context) ([]string, error)
	DeleteService(ctx context.Context, name string) error
	TaskStates(ctx context.Context, name string) ([]TaskState, error)
}

// ErrNameConflict is returned by CreateService when the requested name
// is already in use.
type ErrNameConflict struct {
	Name string
}

func (e *ErrNameConflict) Error() string { return "service already exists: " + e.Name }
