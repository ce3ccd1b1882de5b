// Package judge orchestrates game-host and agent containers to run a match.
package judge

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/thuasta/saiblo-worker/internal/container"
	"github.com/thuasta/saiblo-worker/internal/paths"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

const (
	// AgentContainerPrefix owns the agent container name namespace: any
	// container so named may be reaped without consulting callers.
	AgentContainerPrefix = "saiblo-worker-agent"
	// GameHostContainerPrefix owns the game host container name namespace.
	GameHostContainerPrefix = "saiblo-worker-game-host"
	// NetworkPrefix owns the per-agent network name namespace.
	NetworkPrefix = "saiblo-worker-network"

	gameHostAppDataPath = "/app/data/"
	replayMemberName    = "data/replay.dat"
	resultMemberName    = "data/result.json"
	gameHostPort        = 14514

	agentStderrLimit = 512 * 1024

	cleanupTimeout = 30 * time.Second
)

// agentSlot carries the per-call identity of one occupied agent slot.
type agentSlot struct {
	containerName string
	image         string
	networkName   string
	token         string
}

// hostResult is the result file the game host leaves in /app/data.
type hostResult struct {
	Scores map[string]float64 `json:"scores"`
}

// Judger runs matches. Each call owns a disjoint set of container and network
// names derived from the match ID, so calls never collide.
type Judger struct {
	runtime container.Runtime
	paths   *paths.Manager
	log     *logger.Logger

	agentMemLimit    string
	agentNanoCPUs    int64
	gameHostMemLimit string
	gameHostNanoCPUs int64
	judgeTimeout     time.Duration
}

// Options configures a Judger.
type Options struct {
	AgentCPUs        float64
	AgentMemLimit    string
	GameHostCPUs     float64
	GameHostMemLimit string
	JudgeTimeout     time.Duration
}

// NewJudger creates a Judger.
func NewJudger(runtime container.Runtime, pm *paths.Manager, opts Options, log *logger.Logger) *Judger {
	return &Judger{
		runtime:          runtime,
		paths:            pm,
		log:              log,
		agentMemLimit:    opts.AgentMemLimit,
		agentNanoCPUs:    int64(opts.AgentCPUs * 1e9),
		gameHostMemLimit: opts.GameHostMemLimit,
		gameHostNanoCPUs: int64(opts.GameHostCPUs * 1e9),
		judgeTimeout:     opts.JudgeTimeout,
	}
}

// Judge runs the match and returns its result. agentImages is ordered by
// slot; an empty string marks an absent agent, which is reported as CANCEL.
//
// Judging is idempotent: once a replay and a result file exist on disk the
// persisted result is returned without starting any container. Failures
// before the result is persisted yield a result with UE statuses and the
// error message; the error return is reserved for unreadable persisted state.
func (j *Judger) Judge(ctx context.Context, matchID, gameHostImage string, agentImages []string) (*MatchResult, error) {
	replayPath := j.paths.MatchReplay(matchID)
	resultPath := j.paths.MatchResult(matchID)

	if err := os.MkdirAll(filepath.Dir(replayPath), 0o755); err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resultPath), 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}

	// If judged before, return the persisted result.
	if fileExists(replayPath) && fileExists(resultPath) {
		return loadResult(resultPath)
	}

	j.log.Debug("judging match", "match_id", matchID)

	hostName := fmt.Sprintf("%s-%s", GameHostContainerPrefix, matchID)
	slots := make([]*agentSlot, len(agentImages))
	for i, image := range agentImages {
		if image == "" {
			continue
		}
		slots[i] = &agentSlot{
			containerName: fmt.Sprintf("%s-%s-%d", AgentContainerPrefix, matchID, i),
			image:         image,
			networkName:   fmt.Sprintf("%s-%s-%d", NetworkPrefix, matchID, i),
			token:         newToken(),
		}
	}

	defer j.cleanup(hostName, slots)

	hostStarted := false
	result, err := j.run(ctx, matchID, gameHostImage, hostName, slots, replayPath, resultPath, &hostStarted)
	if err == nil {
		j.log.Info("match judged", "match_id", matchID)
		return result, nil
	}

	j.log.Error("match judging failed", err, "match_id", matchID)

	// Failure mapping: every slot becomes UE, host logs are attached when
	// the host got as far as starting.
	failed := &MatchResult{
		MatchID:      matchID,
		AgentResults: make([]AgentResult, len(slots)),
		ErrorMessage: err.Error(),
		HostStderr:   []byte{},
	}
	for i := range failed.AgentResults {
		failed.AgentResults[i] = AgentResult{Status: StatusUE, Stderr: []byte{}}
	}
	if hostStarted {
		if stderr, logErr := j.runtime.ContainerStderr(context.WithoutCancel(ctx), hostName, 0); logErr == nil {
			failed.HostStderr = stderr
		}
	}
	return failed, nil
}

func (j *Judger) run(
	ctx context.Context,
	matchID, gameHostImage, hostName string,
	slots []*agentSlot,
	replayPath, resultPath string,
	hostStarted *bool,
) (*MatchResult, error) {
	// Start the game host. Connectivity comes only from the per-agent
	// networks, so the container starts with networking disabled.
	tokens := make([]string, 0, len(slots))
	for _, slot := range slots {
		if slot != nil {
			tokens = append(tokens, slot.token)
		}
	}

	j.log.Debug("running game host container", "name", hostName)

	_, err := j.runtime.RunContainer(ctx, container.Config{
		Image:           gameHostImage,
		Name:            hostName,
		Env:             []string{"TOKENS=" + strings.Join(tokens, ",")},
		MemoryLimit:     j.gameHostMemLimit,
		NanoCPUs:        j.gameHostNanoCPUs,
		NetworkDisabled: true,
	})
	if err != nil {
		return nil, err
	}
	*hostStarted = true

	// Wire each occupied slot to the host over its own internal network.
	for _, slot := range slots {
		if slot == nil {
			continue
		}

		j.log.Debug("creating network", "name", slot.networkName)

		if err := j.runtime.CreateNetwork(ctx, slot.networkName, true); err != nil {
			return nil, err
		}
		if err := j.runtime.ConnectNetwork(ctx, slot.networkName, hostName); err != nil {
			return nil, err
		}

		j.log.Debug("running agent container", "name", slot.containerName)

		_, err := j.runtime.RunContainer(ctx, container.Config{
			Image: slot.image,
			Name:  slot.containerName,
			Env: []string{
				"TOKEN=" + slot.token,
				fmt.Sprintf("GAME_HOST=ws://%s:%d", hostName, gameHostPort),
			},
			MemoryLimit: j.agentMemLimit,
			NanoCPUs:    j.agentNanoCPUs,
			Network:     slot.networkName,
		})
		if err != nil {
			return nil, err
		}
	}

	// Wait until the game host finishes or the judge timeout fires.
	j.log.Debug("waiting for game host container", "name", hostName)

	if _, err := j.runtime.WaitContainer(ctx, hostName, j.judgeTimeout); err != nil {
		return nil, err
	}

	if err := j.runtime.StopContainer(ctx, hostName, 0); err != nil {
		return nil, err
	}

	// Harvest the result file and the replay from the host's data dir.
	scores, replay, err := j.harvest(ctx, hostName)
	if err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(replayPath, replay, 0o644); err != nil {
		return nil, fmt.Errorf("write replay %s: %w", replayPath, err)
	}

	agentResults := make([]AgentResult, len(slots))
	for i, slot := range slots {
		if slot == nil {
			agentResults[i] = AgentResult{Status: StatusCANCEL, Stderr: []byte{}}
			continue
		}

		running, err := j.runtime.IsRunning(ctx, slot.containerName)
		if err != nil {
			return nil, err
		}

		var exitCode int64
		if running {
			// The agent outlived the host, so the judger stops it and
			// regards that as a normal exit.
			j.log.Debug("stopping agent container", "name", slot.containerName)

			if err := j.runtime.StopContainer(ctx, slot.containerName, 0); err != nil {
				return nil, err
			}
		} else {
			exitCode, err = j.runtime.WaitContainer(ctx, slot.containerName, time.Second)
			if err != nil {
				return nil, err
			}
		}

		stderr, err := j.runtime.ContainerStderr(ctx, slot.containerName, agentStderrLimit)
		if err != nil {
			return nil, err
		}

		status := StatusOK
		if exitCode != 0 {
			status = StatusRE
		}
		agentResults[i] = AgentResult{
			ExitCode: exitCode,
			Score:    scores[slot.token],
			Status:   status,
			Stderr:   stderr,
		}
	}

	hostStderr, err := j.runtime.ContainerStderr(ctx, hostName, 0)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		MatchID:      matchID,
		AgentResults: agentResults,
		ErrorMessage: "",
		ReplayPath:   replayPath,
		HostStderr:   hostStderr,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode match result: %w", err)
	}
	if err := renameio.WriteFile(resultPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write match result %s: %w", resultPath, err)
	}

	return result, nil
}

// harvest extracts scores and the replay blob from the host's /app/data
// directory. A missing result file means empty scores; a missing replay
// means an empty blob.
func (j *Judger) harvest(ctx context.Context, hostName string) (map[string]float64, []byte, error) {
	j.log.Debug("getting result and replay from game host container", "name", hostName)

	stream, err := j.runtime.CopyFromContainer(ctx, hostName, gameHostAppDataPath)
	if err != nil {
		return nil, nil, err
	}
	defer stream.Close()

	scores := map[string]float64{}
	replay := []byte{}

	tarReader := tar.NewReader(stream)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read game host data archive: %w", err)
		}

		switch header.Name {
		case resultMemberName:
			var parsed hostResult
			if err := json.NewDecoder(tarReader).Decode(&parsed); err != nil {
				return nil, nil, fmt.Errorf("decode game host result: %w", err)
			}
			if parsed.Scores != nil {
				scores = parsed.Scores
			}
		case replayMemberName:
			replay, err = io.ReadAll(tarReader)
			if err != nil {
				return nil, nil, fmt.Errorf("read replay: %w", err)
			}
		}
	}

	return scores, replay, nil
}

// cleanup stops and removes every container and network owned by this call.
// It runs on every exit path and tolerates objects that were never created.
func (j *Judger) cleanup(hostName string, slots []*agentSlot) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	names := []string{hostName}
	for _, slot := range slots {
		if slot != nil {
			names = append(names, slot.containerName)
		}
	}
	for _, name := range names {
		if err := j.runtime.StopContainer(ctx, name, 0); err != nil {
			j.log.Debug("cleanup stop container", "name", name, "error", err)
		}
		if err := j.runtime.RemoveContainer(ctx, name, true); err != nil {
			j.log.Debug("cleanup remove container", "name", name, "error", err)
		}
	}

	for _, slot := range slots {
		if slot == nil {
			continue
		}
		if err := j.runtime.RemoveNetwork(ctx, slot.networkName); err != nil {
			j.log.Debug("cleanup remove network", "name", slot.networkName, "error", err)
		}
	}
}

// ReapOrphans stops and removes every container and network under the
// worker's prefixes. The prefixes are owned by the judge engine, so anything
// so named is fair game.
func (j *Judger) ReapOrphans(ctx context.Context) error {
	names, err := j.runtime.ListContainers(ctx, AgentContainerPrefix, GameHostContainerPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := j.runtime.StopContainer(ctx, name, 0); err != nil {
			j.log.Debug("reap stop container", "name", name, "error", err)
		}
		if err := j.runtime.RemoveContainer(ctx, name, true); err != nil {
			return err
		}
	}

	networks, err := j.runtime.ListNetworks(ctx, NetworkPrefix)
	if err != nil {
		return err
	}
	for _, name := range networks {
		if err := j.runtime.RemoveNetwork(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Clean reaps every container and network under the worker's prefixes and
// removes all persisted replays and results.
func (j *Judger) Clean(ctx context.Context) error {
	if err := j.ReapOrphans(ctx); err != nil {
		return err
	}

	if err := os.RemoveAll(j.paths.MatchReplayDir()); err != nil {
		return fmt.Errorf("clean replay dir: %w", err)
	}
	if err := os.RemoveAll(j.paths.MatchResultDir()); err != nil {
		return fmt.Errorf("clean result dir: %w", err)
	}

	j.log.Info("judge environment cleaned")
	return nil
}

// List returns the persisted results of every judged match.
func (j *Judger) List() (map[string]*MatchResult, error) {
	entries, err := os.ReadDir(j.paths.MatchResultDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*MatchResult{}, nil
		}
		return nil, fmt.Errorf("list match result dir: %w", err)
	}

	results := make(map[string]*MatchResult)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		matchID := strings.TrimSuffix(name, ".json")
		result, err := loadResult(j.paths.MatchResult(matchID))
		if err != nil {
			return nil, err
		}
		results[matchID] = result
	}
	return results, nil
}

func loadResult(path string) (*MatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read match result %s: %w", path, err)
	}
	var result MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode match result %s: %w", path, err)
	}
	return &result, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// newToken returns a fresh per-slot secret shared between the game host and
// one agent.
func newToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
