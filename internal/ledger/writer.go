// Package ledger implements the durable per-agent action ledger: an
// append-only JSONL log plus one atomically written JSON file per record.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sns-vibe/agentsim/internal/models"
)

// LogName is the per-agent append-only log file name.
const LogName = "actions.jsonl"

// Writer appends action records for exactly one agent within one run.
// Sequence numbers start at 1 and are strictly increasing with no gaps.
// Writer is safe for concurrent use, though each agent unit owns its
// ledger exclusively.
type Writer struct {
	mu    sync.Mutex
	dir   string
	runID string
	simID string
	agent models.AgentDescriptor

	seq   int
	log   *os.File
	paths []string
}

// NewWriter creates the agent's ledger directory <root>/<runId>/<agentId>
// and opens the append-only log.
func NewWriter(root, runID, simulationID string, agent models.AgentDescriptor) (*Writer, error) {
	dir := filepath.Join(root, runID, agent.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, LogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening action log: %w", err)
	}

	return &Writer{
		dir:   dir,
		runID: runID,
		simID: simulationID,
		agent: agent,
		log:   f,
	}, nil
}

// Dir returns the agent's ledger directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Paths returns the standalone record files written so far, in order.
func (w *Writer) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.paths))
	copy(out, w.paths)
	return out
}

// Write assigns the next sequence number, stamps UTC time, persists the
// record as an individual file via write-to-temp-then-rename, and appends
// the same record as one JSONL line. It returns the standalone file path
// and the record as written.
//
// The standalone file lands before the log line; if the append then
// fails, the file is removed again. A failed Write therefore leaves no
// line, no file, and the sequence unconsumed, so the log never carries a
// gap or a duplicate.
func (w *Writer) Write(actionType, status string, input, output map[string]any, artifacts []models.Artifact, actionErr error) (string, *models.ActionRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.log == nil {
		return "", nil, fmt.Errorf("ledger closed")
	}

	if artifacts == nil {
		artifacts = []models.Artifact{}
	}

	record := &models.ActionRecord{
		SchemaVersion: models.SchemaVersion,
		RunID:         w.runID,
		SimulationID:  w.simID,
		Sequence:      w.seq + 1,
		Timestamp:     models.Now(),
		Agent:         w.agent,
		Action: models.ActionDetail{
			Type:   actionType,
			Status: status,
			Input:  input,
			Output: output,
		},
		Artifacts: artifacts,
	}
	if actionErr != nil {
		record.Action.Error = actionErr.Error()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling action record: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%04d_%s.json", record.Sequence, actionType))
	if err := writeFileAtomic(path, data); err != nil {
		return "", nil, fmt.Errorf("writing action file: %w", err)
	}

	if _, err := w.log.Write(append(data, '\n')); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("appending action record: %w", err)
	}

	w.seq = record.Sequence
	w.paths = append(w.paths, path)

	return path, record, nil
}

// Close closes the append-only log. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.log == nil {
		return nil
	}
	err := w.log.Close()
	w.log = nil
	return err
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
