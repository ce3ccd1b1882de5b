// Package docker implements container.Runtime on the Docker Engine API
// (moby/moby Go client).
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"

	workercontainer "github.com/thuasta/saiblo-worker/internal/container"
)

// Runtime implements container.Runtime using the Docker Engine API.
type Runtime struct {
	cli *client.Client
}

var _ workercontainer.Runtime = (*Runtime)(nil)

// NewRuntime creates a Runtime, returning an error if Docker is unavailable.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// ParseMemLimit converts a Docker memory notation such as "1g" to bytes.
func ParseMemLimit(limit string) (int64, error) {
	if limit == "" {
		return 0, nil
	}
	memBytes, err := units.RAMInBytes(limit)
	if err != nil {
		return 0, fmt.Errorf("parse memory limit %q: %w", limit, err)
	}
	return memBytes, nil
}

func (r *Runtime) BuildImage(ctx context.Context, buildContext io.Reader, tag string, timeout time.Duration) error {
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.cli.ImageBuild(buildCtx, buildContext, build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timeout building image %s", tag)
		}
		return fmt.Errorf("build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	// The daemon streams progress as JSON messages; a failed step shows up
	// as an "error" field rather than an HTTP error.
	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timeout building image %s", tag)
			}
			return fmt.Errorf("read build output for %s: %w", tag, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build image %s: %s", tag, msg.Error)
		}
	}
}

func (r *Runtime) ListImages(ctx context.Context, repository string) (map[string]string, error) {
	summaries, err := r.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", repository)),
	})
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", repository, err)
	}

	tags := make(map[string]string)
	for _, summary := range summaries {
		for _, tag := range summary.RepoTags {
			repo, suffix, ok := strings.Cut(tag, ":")
			if ok && repo == repository {
				tags[suffix] = tag
			}
		}
	}
	return tags, nil
}

func (r *Runtime) RemoveImage(ctx context.Context, tag string, force bool) error {
	if _, err := r.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("remove image %s: %w", tag, err)
	}
	return nil
}

func (r *Runtime) RunContainer(ctx context.Context, cfg workercontainer.Config) (string, error) {
	memBytes, err := ParseMemLimit(cfg.MemoryLimit)
	if err != nil {
		return "", err
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   memBytes,
			NanoCPUs: cfg.NanoCPUs,
		},
	}

	networkingConfig := &network.NetworkingConfig{}
	if cfg.Network != "" {
		networkingConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			cfg.Network: {},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:           cfg.Image,
		Env:             cfg.Env,
		NetworkDisabled: cfg.NetworkDisabled,
	}, hostConfig, networkingConfig, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", cfg.Name, err)
	}
	return resp.ID, nil
}

func (r *Runtime) WaitContainer(ctx context.Context, nameOrID string, timeout time.Duration) (int64, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	statusCh, errCh := r.cli.ContainerWait(waitCtx, nameOrID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, fmt.Errorf("wait container %s: %s", nameOrID, status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("timeout waiting for container %s", nameOrID)
		}
		return 0, fmt.Errorf("wait container %s: %w", nameOrID, err)
	}
}

func (r *Runtime) IsRunning(ctx context.Context, nameOrID string) (bool, error) {
	inspect, err := r.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", nameOrID, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

func (r *Runtime) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	opts := container.StopOptions{Timeout: &secs}
	if err := r.cli.ContainerStop(ctx, nameOrID, opts); err != nil {
		return fmt.Errorf("stop container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	opts := container.RemoveOptions{Force: force, RemoveVolumes: true}
	if err := r.cli.ContainerRemove(ctx, nameOrID, opts); err != nil {
		return fmt.Errorf("remove container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *Runtime) ContainerStderr(ctx context.Context, nameOrID string, maxBytes int64) ([]byte, error) {
	logs, err := r.cli.ContainerLogs(ctx, nameOrID, container.LogsOptions{ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("logs for container %s: %w", nameOrID, err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("demultiplex logs for container %s: %w", nameOrID, err)
	}

	out := stderr.Bytes()
	if maxBytes > 0 && int64(len(out)) > maxBytes {
		out = out[int64(len(out))-maxBytes:]
	}
	return out, nil
}

func (r *Runtime) CopyFromContainer(ctx context.Context, nameOrID, path string) (io.ReadCloser, error) {
	reader, _, err := r.cli.CopyFromContainer(ctx, nameOrID, path)
	if err != nil {
		return nil, fmt.Errorf("copy from container %s:%s: %w", nameOrID, path, err)
	}
	return reader, nil
}

func (r *Runtime) ListContainers(ctx context.Context, prefixes ...string) ([]string, error) {
	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var names []string
	for _, summary := range summaries {
		for _, name := range summary.Names {
			name = strings.TrimPrefix(name, "/")
			for _, prefix := range prefixes {
				if strings.HasPrefix(name, prefix) {
					names = append(names, name)
				}
			}
		}
	}
	return names, nil
}

func (r *Runtime) CreateNetwork(ctx context.Context, name string, internal bool) error {
	if _, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Internal: internal}); err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) ConnectNetwork(ctx context.Context, networkName, containerName string) error {
	if err := r.cli.NetworkConnect(ctx, networkName, containerName, nil); err != nil {
		return fmt.Errorf("connect %s to network %s: %w", containerName, networkName, err)
	}
	return nil
}

func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) ListNetworks(ctx context.Context, prefix string) ([]string, error) {
	summaries, err := r.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	var names []string
	for _, summary := range summaries {
		if strings.HasPrefix(summary.Name, prefix) {
			names = append(names, summary.Name)
		}
	}
	return names, nil
}
