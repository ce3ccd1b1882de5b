package container

import (
	"context"
	"io"
	"time"
)

// Config holds configuration for starting a detached container.
type Config struct {
	Image string
	Name  string
	Env   []string

	// Resource limits applied to every judged container.
	MemoryLimit string // Docker notation, e.g. "1g"
	NanoCPUs    int64  // 1 CPU = 1e9

	// Network is the network to attach at creation time. When empty and
	// NetworkDisabled is set, the container starts with no connectivity.
	Network         string
	NetworkDisabled bool
}

// Runtime manages image and container lifecycle. This is the abstraction the
// build and judge engines run against; the docker subpackage implements it on
// the Docker Engine API and tests substitute fakes.
type Runtime interface {
	// BuildImage builds an image from a tar build context, bounded by timeout.
	BuildImage(ctx context.Context, buildContext io.Reader, tag string, timeout time.Duration) error
	// ListImages returns tag-suffix -> full tag for every image in repository.
	ListImages(ctx context.Context, repository string) (map[string]string, error)
	RemoveImage(ctx context.Context, tag string, force bool) error

	// RunContainer creates and starts a detached container.
	RunContainer(ctx context.Context, cfg Config) (containerID string, err error)
	// WaitContainer blocks until the container exits and returns its exit
	// code. It fails once timeout elapses.
	WaitContainer(ctx context.Context, nameOrID string, timeout time.Duration) (int64, error)
	// IsRunning reloads the container state.
	IsRunning(ctx context.Context, nameOrID string) (bool, error)
	StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, nameOrID string, force bool) error
	// ContainerStderr returns the container's stderr log, keeping only the
	// trailing maxBytes when positive.
	ContainerStderr(ctx context.Context, nameOrID string, maxBytes int64) ([]byte, error)
	// CopyFromContainer returns a tar stream of the given container path.
	CopyFromContainer(ctx context.Context, nameOrID, path string) (io.ReadCloser, error)
	// ListContainers returns the names of all containers (running or not)
	// whose name starts with any of the prefixes.
	ListContainers(ctx context.Context, prefixes ...string) ([]string, error)

	CreateNetwork(ctx context.Context, name string, internal bool) error
	ConnectNetwork(ctx context.Context, networkName, containerName string) error
	RemoveNetwork(ctx context.Context, name string) error
	// ListNetworks returns the names of all networks starting with prefix.
	ListNetworks(ctx context.Context, prefix string) ([]string, error)
}
