// Package build turns agent code tarballs into runnable container images.
package build

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/thuasta/saiblo-worker/internal/container"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// ImageRepository is the fixed repository owning every built agent image.
const ImageRepository = "saiblo-worker-image"

// Builder produces images tagged {ImageRepository}:{code_id}. Building is
// idempotent: an existing tag is returned without invoking the runtime build.
type Builder struct {
	runtime container.Runtime
	timeout time.Duration
	log     *logger.Logger
}

// NewBuilder creates a Builder with the given per-build timeout.
func NewBuilder(runtime container.Runtime, timeout time.Duration, log *logger.Logger) *Builder {
	return &Builder{runtime: runtime, timeout: timeout, log: log}
}

// Build ensures an image exists for codeID, using the tarball at tarballPath
// as the build context. Build failures, including timeouts, are captured into
// the result message rather than returned as errors so the coordinator
// receives a compile report.
func (b *Builder) Build(ctx context.Context, codeID, tarballPath string) Result {
	b.log.Debug("building agent code", "code_id", codeID)

	// Lookup first: any image already tagged with this code ID wins.
	if images, err := b.runtime.ListImages(ctx, ImageRepository); err == nil {
		if tag, ok := images[codeID]; ok {
			return Result{CodeID: codeID, Image: tag}
		}
	}

	tag := fmt.Sprintf("%s:%s", ImageRepository, codeID)

	tarball, err := os.Open(tarballPath)
	if err != nil {
		b.log.Error("failed to open build context", err, "code_id", codeID)
		return Result{CodeID: codeID, Message: err.Error()}
	}
	defer tarball.Close()

	if err := b.runtime.BuildImage(ctx, tarball, tag, b.timeout); err != nil {
		b.log.Error("failed to build agent code", err, "code_id", codeID)
		return Result{CodeID: codeID, Message: err.Error()}
	}

	b.log.Info("agent code built", "code_id", codeID, "image", tag)
	return Result{CodeID: codeID, Image: tag}
}

// List returns code ID -> tag for every image in the worker's repository.
func (b *Builder) List(ctx context.Context) (map[string]string, error) {
	return b.runtime.ListImages(ctx, ImageRepository)
}

// Clean force-removes every image in the worker's repository.
func (b *Builder) Clean(ctx context.Context) error {
	images, err := b.runtime.ListImages(ctx, ImageRepository)
	if err != nil {
		return err
	}
	for _, tag := range images {
		if err := b.runtime.RemoveImage(ctx, tag, true); err != nil {
			return err
		}
	}
	b.log.Info("images cleaned", "count", len(images))
	return nil
}
