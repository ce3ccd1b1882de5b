package judge

// Status classifies an agent's outcome in a match. Live runs only produce OK
// and RE; CANCEL marks empty slots and UE marks engine-wide failures. The
// remaining values exist for coordinator compatibility.
type Status string

const (
	StatusOK     Status = "OK"
	StatusRE     Status = "RE"
	StatusTLE    Status = "TLE"
	StatusMLE    Status = "MLE"
	StatusOLE    Status = "OLE"
	StatusSTLE   Status = "STLE"
	StatusEXIT   Status = "EXIT"
	StatusUE     Status = "UE"
	StatusCANCEL Status = "CANCEL"
	StatusIA     Status = "IA"
)

// AgentResult is the per-slot outcome of a match.
type AgentResult struct {
	ExitCode int64   `json:"exit_code"`
	Score    float64 `json:"score"`
	Status   Status  `json:"status"`
	Stderr   []byte  `json:"stderr_output"`
}

// MatchResult is the outcome of a judged match. ReplayPath is empty when the
// match failed before producing a replay.
type MatchResult struct {
	MatchID      string        `json:"match_id"`
	AgentResults []AgentResult `json:"agent_results"`
	ErrorMessage string        `json:"error_message"`
	ReplayPath   string        `json:"replay_file_path,omitempty"`
	HostStderr   []byte        `json:"stderr_output"`
}

// OK reports whether the match produced a replay.
func (r *MatchResult) OK() bool {
	return r.ReplayPath != ""
}
