package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sns-vibe/agentsim/internal/models"
)

func testAgent(id string) models.AgentDescriptor {
	return models.AgentDescriptor{
		ID:          id,
		Type:        models.RoleCrowd,
		PersonaID:   "vegan-mom",
		PersonaName: "Vegan Mom",
	}
}

func TestWriterSequencesStartAtOne(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "run-1", "sim-1", testAgent("crowd-0"))
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, record, err := w.Write("act", models.StatusOK,
			map[string]any{"postId": fmt.Sprintf("p-%d", i)},
			map[string]any{"result": map[string]any{"liked": true}},
			nil, nil)
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if record.Sequence != i+1 {
			t.Errorf("Sequence = %d, want %d", record.Sequence, i+1)
		}
	}
}

func TestWriterRecordShape(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "run-1", "sim-1", testAgent("hero"))
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	path, record, err := w.Write("decide", models.StatusOK,
		map[string]any{"goal": "spring launch"},
		map[string]any{"like": true},
		[]models.Artifact{{Type: "screenshot", Path: "shot.png"}},
		nil)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if record.SchemaVersion != models.SchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", record.SchemaVersion, models.SchemaVersion)
	}
	if record.RunID != "run-1" || record.SimulationID != "sim-1" {
		t.Errorf("ids = (%q, %q), want (run-1, sim-1)", record.RunID, record.SimulationID)
	}
	if record.Timestamp == "" {
		t.Error("Timestamp is empty")
	}
	if record.Agent.ID != "hero" {
		t.Errorf("Agent.ID = %q, want hero", record.Agent.ID)
	}

	// Standalone file exists, is named by sequence and type, and round-trips
	if filepath.Base(path) != "0001_decide.json" {
		t.Errorf("file name = %q, want 0001_decide.json", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading record file: %v", err)
	}
	var onDisk models.ActionRecord
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("record file is not valid JSON: %v", err)
	}
	if onDisk.Sequence != 1 || onDisk.Action.Type != "decide" {
		t.Errorf("on-disk record = seq %d type %q, want seq 1 type decide", onDisk.Sequence, onDisk.Action.Type)
	}
	if len(onDisk.Artifacts) != 1 || onDisk.Artifacts[0].Type != "screenshot" {
		t.Errorf("artifacts not preserved: %+v", onDisk.Artifacts)
	}

	// No temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind after atomic write")
	}
}

func TestWriterFailedWriteConsumesNothing(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "run-1", "sim-1", testAgent("agent-1"))
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	if _, _, err := w.Write("act", models.StatusOK, nil, nil, nil, nil); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Occupy the next standalone file's path with a directory so the
	// rename into place fails.
	blocked := filepath.Join(w.Dir(), "0002_act.json")
	if err := os.Mkdir(blocked, 0755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Write("act", models.StatusOK, nil, nil, nil, nil); err == nil {
		t.Fatal("Write() with a blocked record file should fail")
	}
	if err := os.Remove(blocked); err != nil {
		t.Fatal(err)
	}

	_, record, err := w.Write("act", models.StatusOK, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Write() after recovery error = %v", err)
	}
	if record.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2 (failed write must not consume it)", record.Sequence)
	}

	records, loadErrs, err := ReadRun(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatalf("ReadRun() error = %v", err)
	}
	if len(loadErrs) != 0 {
		t.Fatalf("load errors: %v", loadErrs)
	}
	var seqs []int
	for _, r := range records {
		seqs = append(seqs, r.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("log sequences = %v, want [1 2]", seqs)
	}
	if err := VerifySequences(records); err != nil {
		t.Errorf("VerifySequences() error = %v", err)
	}
}

func TestWriterRecordsError(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "run-1", "sim-1", testAgent("crowd-0"))
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	_, record, err := w.Write("act", models.StatusFailed, nil, nil, nil,
		errors.New("timeline unavailable"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if record.Action.Error != "timeline unavailable" {
		t.Errorf("Action.Error = %q, want timeline unavailable", record.Action.Error)
	}
	if record.Action.Status != models.StatusFailed {
		t.Errorf("Action.Status = %q, want failed", record.Action.Status)
	}
}

func TestReadRunRoundTrip(t *testing.T) {
	root := t.TempDir()

	for _, agentID := range []string{"crowd-0", "crowd-1"} {
		w, err := NewWriter(root, "run-1", "sim-1", testAgent(agentID))
		if err != nil {
			t.Fatalf("NewWriter() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, _, err := w.Write("act", models.StatusOK, nil,
				map[string]any{"result": map[string]any{"liked": i%2 == 0}}, nil, nil); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
		}
		w.Close()
	}

	records, loadErrs, err := ReadRun(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatalf("ReadRun() error = %v", err)
	}
	if len(loadErrs) != 0 {
		t.Errorf("load errors = %v, want none", loadErrs)
	}
	if len(records) != 6 {
		t.Errorf("len(records) = %d, want 6", len(records))
	}

	if err := VerifySequences(records); err != nil {
		t.Errorf("VerifySequences() error = %v", err)
	}
}

func TestReadRunMalformedLines(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "run-1", "sim-1", testAgent("crowd-0"))
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if _, _, err := w.Write("act", models.StatusOK, nil, nil, nil, nil); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	w.Close()

	// Corrupt the log with a half-written line
	logPath := filepath.Join(root, "run-1", "crowd-0", LogName)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	if _, err := f.WriteString(`{"schemaVersion": "1.0", "runId`); err != nil {
		t.Fatalf("corrupting log: %v", err)
	}
	f.Close()

	records, loadErrs, err := ReadRun(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatalf("ReadRun() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1", len(records))
	}
	if len(loadErrs) != 1 {
		t.Fatalf("len(loadErrs) = %d, want 1", len(loadErrs))
	}
	if loadErrs[0].Line != 2 {
		t.Errorf("LoadError.Line = %d, want 2", loadErrs[0].Line)
	}
}

func TestReadRunMissingDirectory(t *testing.T) {
	if _, _, err := ReadRun(filepath.Join(t.TempDir(), "missing-run")); err == nil {
		t.Error("ReadRun() on missing directory should fail")
	}
}

func TestReadRunNoLogs(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "run-1")
	if err := os.MkdirAll(filepath.Join(runDir, "crowd-0"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, _, err := ReadRun(runDir); err == nil {
		t.Error("ReadRun() with no action logs should fail")
	}
}

func TestVerifySequencesDetectsGaps(t *testing.T) {
	tests := []struct {
		name    string
		seqs    []int
		wantErr bool
	}{
		{name: "contiguous", seqs: []int{1, 2, 3}, wantErr: false},
		{name: "single", seqs: []int{1}, wantErr: false},
		{name: "empty", seqs: nil, wantErr: false},
		{name: "gap", seqs: []int{1, 3}, wantErr: true},
		{name: "duplicate", seqs: []int{1, 2, 2}, wantErr: true},
		{name: "starts at zero", seqs: []int{0, 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []models.ActionRecord
			for _, s := range tt.seqs {
				records = append(records, models.ActionRecord{
					Agent:    models.AgentDescriptor{ID: "a"},
					Sequence: s,
				})
			}
			err := VerifySequences(records)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifySequences(%v) error = %v, wantErr %v", tt.seqs, err, tt.wantErr)
			}
		})
	}
}
