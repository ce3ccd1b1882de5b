package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"

	"github.com/thuasta/saiblo-worker/internal/judge"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// Coordinator-side status strings for match reports.
const (
	judgeStatusOK     = "评测成功"
	judgeStatusFailed = "评测失败"
)

const replayFileNamePrefix = "saiblo-worker-replay"

// agentState is one element of the "states" form field.
type agentState struct {
	Position int          `json:"position"`
	Status   judge.Status `json:"status"`
	Code     int64        `json:"code"`
	Stderr   string       `json:"stderr"`
}

// MatchReporter reports match results via PUT /judger/matches/{match_id}/.
type MatchReporter struct {
	http *resty.Client
	log  *logger.Logger
}

// NewMatchReporter creates a MatchReporter using the shared HTTP client.
func NewMatchReporter(http *resty.Client, log *logger.Logger) *MatchReporter {
	return &MatchReporter{http: http, log: log}
}

// Report sends the match result, including the replay blob on success, as a
// multipart form.
func (r *MatchReporter) Report(ctx context.Context, result *judge.MatchResult) error {
	r.log.Debug("reporting match result", "match_id", result.MatchID)

	states := make([]agentState, len(result.AgentResults))
	for i, agentResult := range result.AgentResults {
		states[i] = agentState{
			Position: i,
			Status:   agentResult.Status,
			Code:     agentResult.ExitCode,
			Stderr:   base64.StdEncoding.EncodeToString(agentResult.Stderr),
		}
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encode agent states for %s: %w", result.MatchID, err)
	}

	state := judgeStatusFailed
	if result.OK() {
		state = judgeStatusOK
	}

	req := r.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"message": "{}",
			"state":   state,
			"states":  string(statesJSON),
		})

	replayFileName := fmt.Sprintf("%s-%s.dat", replayFileNamePrefix, result.MatchID)

	if result.OK() {
		replay, err := os.ReadFile(result.ReplayPath)
		if err != nil {
			return fmt.Errorf("read replay for %s: %w", result.MatchID, err)
		}

		scores := make([]float64, len(result.AgentResults))
		for i, agentResult := range result.AgentResults {
			scores[i] = agentResult.Score
		}
		scoresJSON, err := json.Marshal(scores)
		if err != nil {
			return fmt.Errorf("encode scores for %s: %w", result.MatchID, err)
		}

		req.SetMultipartField("file", replayFileName, "application/octet-stream", bytes.NewReader(replay)).
			SetMultipartFormData(map[string]string{"scores": string(scoresJSON)})
	} else {
		req.SetMultipartFormData(map[string]string{
			"err":   base64.StdEncoding.EncodeToString(result.HostStderr),
			"error": result.ErrorMessage,
		}).
			SetMultipartField("file", replayFileName, "application/octet-stream", bytes.NewReader(nil))
	}

	resp, err := req.Put(fmt.Sprintf("/judger/matches/%s/", result.MatchID))
	if err != nil {
		return fmt.Errorf("report match result for %s: %w", result.MatchID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("report match result for %s: unexpected status %s", result.MatchID, resp.Status())
	}

	r.log.Info("match result reported", "match_id", result.MatchID)
	return nil
}
