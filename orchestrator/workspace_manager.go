// ABOUTME: WorkspaceManager — per-agent scratch directories, snapshots, and final-workspace election.
// ABOUTME: A snapshot is never overwritten by an empty live workspace; the last non-empty copy is the source of truth.
package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// WorkspaceManager owns the live/snapshot/peer-view directory layout for one
// coordination attempt.
type WorkspaceManager struct {
	baseDir string

	mu        sync.Mutex
	snapshots map[AgentId]SnapshotId // last non-empty snapshot id per agent
	winner    AgentId
}

// NewWorkspaceManager creates the directory tree under baseDir:
// live/{agent}, snapshot_storage/{agent}, temp_workspaces/{agent}/{peer}.
func NewWorkspaceManager(baseDir string) (*WorkspaceManager, error) {
	for _, sub := range []string{"live", "snapshot_storage", "temp_workspaces"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace directory structure: %w", err)
		}
	}
	return &WorkspaceManager{baseDir: baseDir, snapshots: make(map[AgentId]SnapshotId)}, nil
}

// LiveDir returns (and ensures) the live scratch directory for agentId.
func (w *WorkspaceManager) LiveDir(agentId AgentId) string {
	dir := filepath.Join(w.baseDir, "live", string(agentId))
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// snapshotDir returns the per-agent snapshot storage directory.
func (w *WorkspaceManager) snapshotDir(agentId AgentId) string {
	return filepath.Join(w.baseDir, "snapshot_storage", string(agentId))
}

// PeerView returns the read-only path forAgent should use to view ofAgent's
// last snapshot. The symlink is (re)established pointing at the current
// snapshot directory; if ofAgent has no snapshot yet, the symlink is omitted
// and an empty string is returned.
func (w *WorkspaceManager) PeerView(forAgent, ofAgent AgentId) (string, error) {
	w.mu.Lock()
	_, has := w.snapshots[ofAgent]
	w.mu.Unlock()
	if !has {
		return "", nil
	}

	peerDir := filepath.Join(w.baseDir, "temp_workspaces", string(forAgent))
	if err := os.MkdirAll(peerDir, 0o755); err != nil {
		return "", err
	}
	link := filepath.Join(peerDir, string(ofAgent))
	_ = os.Remove(link)
	target := w.snapshotDir(ofAgent)
	if err := os.Symlink(target, link); err != nil {
		return "", fmt.Errorf("linking peer view: %w", err)
	}
	return link, nil
}

// Snapshot copies the live workspace into snapshot storage, unless it is
// empty, in which case the last non-empty snapshot is preserved.
func (w *WorkspaceManager) Snapshot(agentId AgentId) (SnapshotId, error) {
	live := w.LiveDir(agentId)
	hasContent, err := dirHasContent(live)
	if err != nil {
		return EmptySnapshotId, fmt.Errorf("checking live workspace: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !hasContent {
		if prev, ok := w.snapshots[agentId]; ok {
			return prev, nil
		}
		return EmptySnapshotId, nil
	}

	dest := w.snapshotDir(agentId)
	if err := os.RemoveAll(dest); err != nil {
		return EmptySnapshotId, fmt.Errorf("clearing prior snapshot: %w", err)
	}
	if err := copyDir(live, dest); err != nil {
		return EmptySnapshotId, fmt.Errorf("copying live workspace to snapshot: %w", err)
	}
	id, err := hashDir(dest)
	if err != nil {
		return EmptySnapshotId, fmt.Errorf("hashing snapshot: %w", err)
	}
	w.snapshots[agentId] = id
	return id, nil
}

// ClearLive empties the live directory ahead of the next round.
func (w *WorkspaceManager) ClearLive(agentId AgentId) error {
	live := w.LiveDir(agentId)
	entries, err := os.ReadDir(live)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(live, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// PromoteWinner publishes agentId's snapshot as the session's final
// workspace directory, returned by FinalWorkspaceDir. It must remain
// readable through the presentation stage.
func (w *WorkspaceManager) PromoteWinner(agentId AgentId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.winner = agentId
}

// FinalWorkspaceDir returns the promoted winner's snapshot directory, or ""
// if no winner has been promoted or the winner has no snapshot content.
func (w *WorkspaceManager) FinalWorkspaceDir() string {
	w.mu.Lock()
	winner := w.winner
	_, has := w.snapshots[winner]
	w.mu.Unlock()
	if winner == "" || !has {
		return ""
	}
	return w.snapshotDir(winner)
}

// SnapshotOf returns the last known snapshot id for agentId.
func (w *WorkspaceManager) SnapshotOf(agentId AgentId) (SnapshotId, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.snapshots[agentId]
	return id, ok
}

func dirHasContent(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// hashDir computes a stable content hash over every regular file's relative
// path and contents, used as the SnapshotId (unchanged content yields
// the same id).
func hashDir(dir string) (SnapshotId, error) {
	h := sha256.New()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		io.WriteString(h, rel)
		h.Write(data)
		return nil
	})
	if err != nil {
		return EmptySnapshotId, err
	}
	return SnapshotId(hex.EncodeToString(h.Sum(nil))), nil
}
