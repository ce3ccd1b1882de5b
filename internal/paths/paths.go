// Package paths centralizes the on-disk layout of the worker's data
// directory.
package paths

import (
	"path/filepath"
)

const (
	agentCodeDir   = "agent_code"
	matchReplayDir = "match_replays"
	matchResultDir = "match_results"
)

// Manager resolves paths under a single base data directory. The zero value
// is not usable; construct with New.
type Manager struct {
	baseDir string
}

// New creates a Manager rooted at baseDir (typically "data").
func New(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// AgentCodeDir returns the directory holding agent code tarballs.
func (m *Manager) AgentCodeDir() string {
	return filepath.Join(m.baseDir, agentCodeDir)
}

// AgentCodeTarball returns the tarball path for an agent code ID.
func (m *Manager) AgentCodeTarball(codeID string) string {
	return filepath.Join(m.AgentCodeDir(), codeID+".tar")
}

// MatchReplayDir returns the directory holding match replays.
func (m *Manager) MatchReplayDir() string {
	return filepath.Join(m.baseDir, matchReplayDir)
}

// MatchReplay returns the replay path for a match ID.
func (m *Manager) MatchReplay(matchID string) string {
	return filepath.Join(m.MatchReplayDir(), matchID+".dat")
}

// MatchResultDir returns the directory holding persisted match results.
func (m *Manager) MatchResultDir() string {
	return filepath.Join(m.baseDir, matchResultDir)
}

// MatchResult returns the result path for a match ID.
func (m *Manager) MatchResult(matchID string) string {
	return filepath.Join(m.MatchResultDir(), matchID+".json")
}
