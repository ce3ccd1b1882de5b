package task

import (
	"context"
	"fmt"

	"github.com/thuasta/saiblo-worker/internal/build"
)

// BuildTask fetches an agent's code and builds its image, then reports the
// outcome. Fetch and build failures are folded into a failed build result so
// the coordinator still receives a compile report.
type BuildTask struct {
	codeID string

	fetcher  Fetcher
	builder  Builder
	reporter BuildReporter

	result *build.Result
}

// NewBuildTask creates a BuildTask for codeID.
func NewBuildTask(codeID string, fetcher Fetcher, builder Builder, reporter BuildReporter) *BuildTask {
	return &BuildTask{
		codeID:   codeID,
		fetcher:  fetcher,
		builder:  builder,
		reporter: reporter,
	}
}

func (t *BuildTask) String() string {
	return fmt.Sprintf("BuildTask(code_id=%s)", t.codeID)
}

// Result returns the cached build result, or nil before Execute.
func (t *BuildTask) Result() any {
	if t.result == nil {
		return nil
	}
	return *t.result
}

// Execute runs the fetch-build-report pipeline once.
func (t *BuildTask) Execute(ctx context.Context) error {
	result := t.execute(ctx)
	t.result = &result
	return t.reporter.Report(ctx, result)
}

func (t *BuildTask) execute(ctx context.Context) build.Result {
	tarballPath, err := t.fetcher.Fetch(ctx, t.codeID)
	if err != nil {
		return build.Result{CodeID: t.codeID, Message: err.Error()}
	}
	return t.builder.Build(ctx, t.codeID, tarballPath)
}

// BuildTaskFactory builds BuildTask instances bound to the worker's
// collaborators.
type BuildTaskFactory struct {
	fetcher  Fetcher
	builder  Builder
	reporter BuildReporter
}

// NewBuildTaskFactory creates a BuildTaskFactory.
func NewBuildTaskFactory(fetcher Fetcher, builder Builder, reporter BuildReporter) *BuildTaskFactory {
	return &BuildTaskFactory{fetcher: fetcher, builder: builder, reporter: reporter}
}

// New creates a BuildTask for codeID.
func (f *BuildTaskFactory) New(codeID string) *BuildTask {
	return NewBuildTask(codeID, f.fetcher, f.builder, f.reporter)
}
