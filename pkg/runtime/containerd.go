package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace the node runs its
	// replicas under.
	DefaultNamespace = "vifinode"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdEngine implements ContainerEngine over a containerd
// socket. Each replica of a service is its own containerd
// container+task, named "<service>-<replica index>"; the engine keeps
// an in-memory replica count per service name since containerd itself
// has no notion of a service group.
type ContainerdEngine struct {
	client    *containerd.Client
	namespace string

	mu       sync.Mutex
	replicas map[string]int
}

// NewContainerdEngine connects to containerd at socketPath.
func NewContainerdEngine(socketPath string) (*ContainerdEngine, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &ContainerdEngine{
		client:    client,
		namespace: DefaultNamespace,
		replicas:  make(map[string]int),
	}, nil
}

// Close closes the containerd client connection.
func (e *ContainerdEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func replicaID(service string, i int) string {
	return service + "-" + strconv.Itoa(i)
}

// CreateService pulls the image, then creates and starts one
// container+task per replica.
func (e *ContainerdEngine) CreateService(ctx context.Context, spec ServiceSpec) (string, error) {
	e.mu.Lock()
	if _, exists := e.replicas[spec.Name]; exists {
		e.mu.Unlock()
		return "", &ErrNameConflict{Name: spec.Name}
	}
	e.mu.Unlock()

	ctx = namespaces.WithNamespace(ctx, e.namespace)

	image, err := e.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", spec.Image, err)
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		opts := []string{"bind"}
		if m.Mode == "ro" {
			opts = append(opts, "ro")
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     opts,
		})
	}

	args := append([]string{spec.Command}, spec.Args...)

	for i := 0; i < spec.Replicas; i++ {
		id := replicaID(spec.Name, i)

		opts := []oci.SpecOpts{
			oci.WithImageConfig(image),
			oci.WithEnv(spec.Env),
			oci.WithProcessArgs(args...),
		}
		if spec.WorkDir != "" {
			opts = append(opts, oci.WithProcessCwd(spec.WorkDir))
		}
		if len(mounts) > 0 {
			opts = append(opts, oci.WithMounts(mounts))
		}

		container, err := e.client.NewContainer(
			ctx,
			id,
			containerd.WithImage(image),
			containerd.WithNewSnapshot(id+"-snapshot", image),
			containerd.WithNewSpec(opts...),
		)
		if err != nil {
			return "", fmt.Errorf("create replica %s: %w", id, err)
		}

		task, err := container.NewTask(ctx, cio.NullIO)
		if err != nil {
			return "", fmt.Errorf("create task for replica %s: %w", id, err)
		}
		if err := task.Start(ctx); err != nil {
			return "", fmt.Errorf("start task for replica %s: %w", id, err)
		}
	}

	e.mu.Lock()
	e.replicas[spec.Name] = spec.Replicas
	e.mu.Unlock()

	return spec.Name, nil
}

// GetService reports a service's identity if it is known to this engine.
func (e *ContainerdEngine) GetService(ctx context.Context, name string) (*ServiceInfo, error) {
	e.mu.Lock()
	n, ok := e.replicas[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("service %s not found", name)
	}
	return &ServiceInfo{Name: name, Replicas: n}, nil
}

// ListServices returns the names of all services this engine created.
func (e *ContainerdEngine) ListServices(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.replicas))
	for name := range e.replicas {
		names = append(names, name)
	}
	return names, nil
}

// DeleteService stops and removes every replica's container and task.
func (e *ContainerdEngine) DeleteService(ctx context.Context, name string) error {
	e.mu.Lock()
	n, ok := e.replicas[name]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	ctx = namespaces.WithNamespace(ctx, e.namespace)

	var errs []string
	for i := 0; i < n; i++ {
		id := replicaID(name, i)
		container, err := e.client.LoadContainer(ctx, id)
		if err != nil {
			continue
		}
		if task, err := container.Task(ctx, nil); err == nil {
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
				errs = append(errs, err.Error())
			}
			if _, err := task.Delete(ctx); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			errs = append(errs, err.Error())
		}
	}

	e.mu.Lock()
	delete(e.replicas, name)
	e.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("delete service %s: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

// TaskStates returns the state of every replica, in replica-index order.
func (e *ContainerdEngine) TaskStates(ctx context.Context, name string) ([]TaskState, error) {
	e.mu.Lock()
	n, ok := e.replicas[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("service %s not found", name)
	}

	ctx = namespaces.WithNamespace(ctx, e.namespace)

	states := make([]TaskState, n)
	for i := 0; i < n; i++ {
		id := replicaID(name, i)
		states[i] = e.replicaState(ctx, id)
	}
	return states, nil
}

func (e *ContainerdEngine) replicaState(ctx context.Context, id string) TaskState {
	container, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return TaskStateFailed
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return TaskStatePending
	}
	status, err := task.Status(ctx)
	if err != nil {
		return TaskStateFailed
	}
	switch status.Status {
	case containerd.Running:
		return TaskStateRunning
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return TaskStateComplete
		}
		return TaskStateFailed
	default:
		return TaskStatePending
	}
}
