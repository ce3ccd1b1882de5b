// Package task defines the units of work the scheduler executes: building
// agent images and judging matches.
package task

import (
	"context"
	"fmt"

	"github.com/thuasta/saiblo-worker/internal/build"
	"github.com/thuasta/saiblo-worker/internal/judge"
)

// Task is a unit of work. Execute runs it once and caches the typed result,
// which Result exposes afterwards. The set of implementations is closed:
// *BuildTask and *JudgeTask.
type Task interface {
	fmt.Stringer

	Execute(ctx context.Context) error
	// Result returns the last execution's result, or nil before Execute.
	Result() any
}

// Fetcher resolves agent code IDs to build-context tarballs.
type Fetcher interface {
	Fetch(ctx context.Context, codeID string) (string, error)
}

// Builder produces agent images from tarballs.
type Builder interface {
	Build(ctx context.Context, codeID, tarballPath string) build.Result
	List(ctx context.Context) (map[string]string, error)
}

// BuildReporter delivers build results to the coordinator.
type BuildReporter interface {
	Report(ctx context.Context, result build.Result) error
}

// Judger runs matches.
type Judger interface {
	Judge(ctx context.Context, matchID, gameHostImage string, agentImages []string) (*judge.MatchResult, error)
}

// MatchReporter delivers match results to the coordinator.
type MatchReporter interface {
	Report(ctx context.Context, result *judge.MatchResult) error
}
