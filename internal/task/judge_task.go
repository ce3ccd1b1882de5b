package task

import (
	"context"
	"fmt"

	"github.com/thuasta/saiblo-worker/internal/build"
	"github.com/thuasta/saiblo-worker/internal/judge"
)

// JudgeTask runs a match: it ensures every agent image exists (building any
// missing ones inline, with their own compile reports), judges the match, and
// reports the result. Slots whose build failed join the match without an
// image and are reported as CANCEL by the judge engine.
type JudgeTask struct {
	matchID       string
	gameHostImage string
	agentCodeIDs  []string

	fetcher       Fetcher
	builder       Builder
	buildReporter BuildReporter
	judger        Judger
	matchReporter MatchReporter

	result *judge.MatchResult
}

// NewJudgeTask creates a JudgeTask.
func NewJudgeTask(
	matchID string,
	gameHostImage string,
	agentCodeIDs []string,
	fetcher Fetcher,
	builder Builder,
	buildReporter BuildReporter,
	judger Judger,
	matchReporter MatchReporter,
) *JudgeTask {
	return &JudgeTask{
		matchID:       matchID,
		gameHostImage: gameHostImage,
		agentCodeIDs:  agentCodeIDs,
		fetcher:       fetcher,
		builder:       builder,
		buildReporter: buildReporter,
		judger:        judger,
		matchReporter: matchReporter,
	}
}

// MatchID returns the ID of the match this task judges.
func (t *JudgeTask) MatchID() string {
	return t.matchID
}

func (t *JudgeTask) String() string {
	return fmt.Sprintf("JudgeTask(match_id=%s)", t.matchID)
}

// Result returns the cached match result, or nil before Execute.
func (t *JudgeTask) Result() any {
	if t.result == nil {
		return nil
	}
	return t.result
}

// Execute runs the build-judge-report pipeline once.
func (t *JudgeTask) Execute(ctx context.Context) error {
	result, err := t.execute(ctx)
	if err != nil {
		// The match never reached the judge engine's own failure mapping,
		// so classify every slot as an unexpected error here.
		result = &judge.MatchResult{
			MatchID:      t.matchID,
			AgentResults: make([]judge.AgentResult, len(t.agentCodeIDs)),
			ErrorMessage: err.Error(),
			HostStderr:   []byte{},
		}
		for i := range result.AgentResults {
			result.AgentResults[i] = judge.AgentResult{Status: judge.StatusUE, Stderr: []byte{}}
		}
	}

	t.result = result
	return t.matchReporter.Report(ctx, result)
}

func (t *JudgeTask) execute(ctx context.Context) (*judge.MatchResult, error) {
	cached, err := t.builder.List(ctx)
	if err != nil {
		return nil, err
	}

	agentImages := make([]string, len(t.agentCodeIDs))
	for i, codeID := range t.agentCodeIDs {
		if tag, ok := cached[codeID]; ok {
			agentImages[i] = tag
			continue
		}

		buildResult := t.buildAgent(ctx, codeID)
		agentImages[i] = buildResult.Image
	}

	return t.judger.Judge(ctx, t.matchID, t.gameHostImage, agentImages)
}

// buildAgent runs an inline build for a missing image, reporting its outcome
// the same way a standalone build task would.
func (t *JudgeTask) buildAgent(ctx context.Context, codeID string) build.Result {
	inline := NewBuildTask(codeID, t.fetcher, t.builder, t.buildReporter)
	_ = inline.Execute(ctx)

	if result, ok := inline.Result().(build.Result); ok {
		return result
	}
	return build.Result{CodeID: codeID}
}

// JudgeTaskFactory builds JudgeTask instances bound to the worker's
// collaborators and the configured game host image.
type JudgeTaskFactory struct {
	gameHostImage string
	fetcher       Fetcher
	builder       Builder
	buildReporter BuildReporter
	judger        Judger
	matchReporter MatchReporter
}

// NewJudgeTaskFactory creates a JudgeTaskFactory.
func NewJudgeTaskFactory(
	gameHostImage string,
	fetcher Fetcher,
	builder Builder,
	buildReporter BuildReporter,
	judger Judger,
	matchReporter MatchReporter,
) *JudgeTaskFactory {
	return &JudgeTaskFactory{
		gameHostImage: gameHostImage,
		fetcher:       fetcher,
		builder:       builder,
		buildReporter: buildReporter,
		judger:        judger,
		matchReporter: matchReporter,
	}
}

// New creates a JudgeTask for matchID with the given agent code IDs in slot
// order.
func (f *JudgeTaskFactory) New(matchID string, agentCodeIDs []string) *JudgeTask {
	return NewJudgeTask(
		matchID,
		f.gameHostImage,
		agentCodeIDs,
		f.fetcher,
		f.builder,
		f.buildReporter,
		f.judger,
		f.matchReporter,
	)
}
