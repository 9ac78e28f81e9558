package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sns-vibe/agentsim/internal/models"
)

// SnapshotName is the run snapshot file name inside the run directory.
const SnapshotName = "snapshot.json"

// snapshotWriter rewrites the single run-level snapshot document at
// fixed checkpoints. Every write replaces the whole file atomically so
// pollers never observe a partial document. Only the orchestrator
// writes it, so no locking is needed.
type snapshotWriter struct {
	path string
	doc  models.RunSnapshot
}

func newSnapshotWriter(outDir, runID string, doc models.RunSnapshot) *snapshotWriter {
	return &snapshotWriter{
		path: filepath.Join(outDir, runID, SnapshotName),
		doc:  doc,
	}
}

// checkpoint persists the snapshot at the given progress value. A write
// failure is logged, not fatal: progress reporting must never kill a
// run that is otherwise healthy.
func (s *snapshotWriter) checkpoint(progress int, logger *slog.Logger) {
	s.doc.Progress = progress
	s.doc.UpdatedAt = models.Now()
	if err := s.write(); err != nil {
		logger.Warn("snapshot write failed", "progress", progress, "error", err)
	}
}

// complete marks the run finished and attaches the result document.
func (s *snapshotWriter) complete(result *models.RunResult, logger *slog.Logger) {
	s.doc.Status = models.RunStatusCompleted
	s.doc.Result = result
	s.checkpoint(progressDone, logger)
}

// fail marks the run failed, keeping the partial result with its
// metrics zeroed so the agent logs and persona traces gathered before
// the failure stay inspectable. Partial agent ledgers remain on disk.
func (s *snapshotWriter) fail(result *models.RunResult, logger *slog.Logger) {
	if result == nil {
		result = &models.RunResult{
			ConfidenceLevel: "low",
			AgentLogs:       []models.AgentLogEntry{},
			PersonaTraces:   []models.PersonaTrace{},
		}
	}
	result.Metrics = models.RunMetrics{}
	s.doc.Status = models.RunStatusFailed
	s.doc.Result = result
	s.checkpoint(progressDone, logger)
}

func (s *snapshotWriter) write() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
