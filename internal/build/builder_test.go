package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thuasta/saiblo-worker/internal/container"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// fakeRuntime covers the image surface of container.Runtime; the container
// and network methods are never reached from the builder.
type fakeRuntime struct {
	images   map[string]string
	buildErr error
	built    []string
	removed  []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{images: map[string]string{}}
}

func (f *fakeRuntime) BuildImage(ctx context.Context, buildContext io.Reader, tag string, timeout time.Duration) error {
	if f.buildErr != nil {
		return f.buildErr
	}
	f.built = append(f.built, tag)
	suffix := tag[strings.LastIndex(tag, ":")+1:]
	f.images[suffix] = tag
	return nil
}

func (f *fakeRuntime) ListImages(ctx context.Context, repository string) (map[string]string, error) {
	out := make(map[string]string, len(f.images))
	for suffix, tag := range f.images {
		out[suffix] = tag
	}
	return out, nil
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, tag string, force bool) error {
	for suffix, existing := range f.images {
		if existing == tag {
			delete(f.images, suffix)
			f.removed = append(f.removed, tag)
			return nil
		}
	}
	return fmt.Errorf("no such image %s", tag)
}

func (f *fakeRuntime) RunContainer(ctx context.Context, cfg container.Config) (string, error) {
	panic("not reached")
}

func (f *fakeRuntime) WaitContainer(ctx context.Context, nameOrID string, timeout time.Duration) (int64, error) {
	panic("not reached")
}

func (f *fakeRuntime) IsRunning(ctx context.Context, nameOrID string) (bool, error) {
	panic("not reached")
}

func (f *fakeRuntime) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	panic("not reached")
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	panic("not reached")
}

func (f *fakeRuntime) ContainerStderr(ctx context.Context, nameOrID string, maxBytes int64) ([]byte, error) {
	panic("not reached")
}

func (f *fakeRuntime) CopyFromContainer(ctx context.Context, nameOrID, path string) (io.ReadCloser, error) {
	panic("not reached")
}

func (f *fakeRuntime) ListContainers(ctx context.Context, prefixes ...string) ([]string, error) {
	panic("not reached")
}

func (f *fakeRuntime) CreateNetwork(ctx context.Context, name string, internal bool) error {
	panic("not reached")
}

func (f *fakeRuntime) ConnectNetwork(ctx context.Context, networkName, containerName string) error {
	panic("not reached")
}

func (f *fakeRuntime) RemoveNetwork(ctx context.Context, name string) error {
	panic("not reached")
}

func (f *fakeRuntime) ListNetworks(ctx context.Context, prefix string) ([]string, error) {
	panic("not reached")
}

var _ container.Runtime = (*fakeRuntime)(nil)

func tempTarball(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ctx.tar")
	if err := os.WriteFile(path, []byte("tar"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild_Success(t *testing.T) {
	t.Parallel()

	runtime := newFakeRuntime()
	builder := NewBuilder(runtime, time.Minute, logger.New("ERROR"))

	result := builder.Build(context.Background(), "c1", tempTarball(t))

	if !result.OK() {
		t.Fatalf("expected a successful result, got %+v", result)
	}
	if result.Image != "saiblo-worker-image:c1" {
		t.Errorf("unexpected tag %q", result.Image)
	}
	if len(runtime.built) != 1 {
		t.Errorf("expected one build, got %v", runtime.built)
	}
}

func TestBuild_ExistingTagSkipsBuild(t *testing.T) {
	t.Parallel()

	runtime := newFakeRuntime()
	runtime.images["c1"] = "saiblo-worker-image:c1"
	builder := NewBuilder(runtime, time.Minute, logger.New("ERROR"))

	result := builder.Build(context.Background(), "c1", "does-not-exist.tar")

	if !result.OK() || result.Image != "saiblo-worker-image:c1" {
		t.Fatalf("expected the cached tag, got %+v", result)
	}
	if len(runtime.built) != 0 {
		t.Errorf("cached tags must not trigger a build, built %v", runtime.built)
	}
}

func TestBuild_FailureCapturedInMessage(t *testing.T) {
	t.Parallel()

	runtime := newFakeRuntime()
	runtime.buildErr = fmt.Errorf("step 3 failed")
	builder := NewBuilder(runtime, time.Minute, logger.New("ERROR"))

	result := builder.Build(context.Background(), "c2", tempTarball(t))

	if result.OK() {
		t.Fatal("expected a failed result")
	}
	if result.Message != "step 3 failed" {
		t.Errorf("unexpected message %q", result.Message)
	}
}

func TestBuild_MissingTarballCapturedInMessage(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(newFakeRuntime(), time.Minute, logger.New("ERROR"))

	result := builder.Build(context.Background(), "c3", filepath.Join(t.TempDir(), "absent.tar"))

	if result.OK() || result.Message == "" {
		t.Errorf("expected a failed result with a message, got %+v", result)
	}
}

func TestClean_RemovesAllRepositoryImages(t *testing.T) {
	t.Parallel()

	runtime := newFakeRuntime()
	runtime.images["c1"] = "saiblo-worker-image:c1"
	runtime.images["c2"] = "saiblo-worker-image:c2"
	builder := NewBuilder(runtime, time.Minute, logger.New("ERROR"))

	if err := builder.Clean(context.Background()); err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}
	if len(runtime.images) != 0 {
		t.Errorf("images left behind: %v", runtime.images)
	}

	images, err := builder.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("expected no images after Clean, got %v", images)
	}
}
