package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sns-vibe/agentsim/internal/ledger"
	"github.com/sns-vibe/agentsim/internal/models"
)

// ErrInput marks failures in the caller-supplied inputs: a missing run
// ledger or a malformed expected baseline. These are fatal to the
// evaluate operation and are never silently defaulted.
var ErrInput = errors.New("invalid evaluation input")

// Input echoes the baseline the evaluation was scored against.
type Input struct {
	Expected   map[string]float64         `json:"expected"`
	PerPersona map[string]PersonaBaseline `json:"perPersona,omitempty"`
	Weights    map[string]float64         `json:"weights"`
}

// Record is the versioned, immutable evaluation result document.
type Record struct {
	SchemaVersion string           `json:"schemaVersion"`
	EvaluationID  string           `json:"evaluationId"`
	SimulationID  string           `json:"simulationId"`
	RunID         string           `json:"runId"`
	CreatedAt     string           `json:"createdAt"`
	Input         Input            `json:"input"`
	Actual        Actuals          `json:"actual"`
	Metrics       Block            `json:"metrics"`
	PerPersona    map[string]Block `json:"perPersona,omitempty"`
}

// Options configures one evaluate operation.
type Options struct {
	// RunDir is the run's ledger directory (one subdirectory per agent).
	RunDir string

	// Baseline is the expected engagement profile. Required.
	Baseline *Baseline

	// EvaluationID keys the persisted record. Empty generates one.
	EvaluationID string

	// RunID and SimulationID override the identifiers found in the
	// ledger. Normally left empty.
	RunID        string
	SimulationID string

	// OutputPath overrides where the record is written. Empty writes
	// evaluation_<id>.json inside RunDir.
	OutputPath string
}

// Evaluate scores the run ledger against the baseline and persists the
// record exactly once via an atomic write. The same ledger and baseline
// always produce identical metrics.
func Evaluate(opts Options) (*Record, string, error) {
	if opts.Baseline == nil {
		return nil, "", fmt.Errorf("%w: no expected baseline", ErrInput)
	}

	// Malformed ledger lines are skipped during metric extraction; only
	// a missing or empty run directory is fatal.
	records, _, err := ledger.ReadRun(opts.RunDir)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInput, err)
	}

	runID := opts.RunID
	simID := opts.SimulationID
	if len(records) > 0 {
		if runID == "" {
			runID = records[0].RunID
		}
		if simID == "" {
			simID = records[0].SimulationID
		}
	}

	evalID := sanitizeFilename(opts.EvaluationID)
	if evalID == "" {
		evalID = uuid.NewString()
	}

	actual := ComputeActual(records)

	record := &Record{
		SchemaVersion: models.SchemaVersion,
		EvaluationID:  evalID,
		SimulationID:  simID,
		RunID:         runID,
		CreatedAt:     models.Now(),
		Input: Input{
			Expected:   opts.Baseline.Expected,
			PerPersona: opts.Baseline.PerPersona,
			Weights:    opts.Baseline.Weights,
		},
		Actual:  actual,
		Metrics: ComputeBlock(opts.Baseline.Expected, opts.Baseline.Weights, actual.Totals),
	}

	if len(opts.Baseline.PerPersona) > 0 {
		record.PerPersona = make(map[string]Block, len(opts.Baseline.PerPersona))
		for personaID, pb := range opts.Baseline.PerPersona {
			expected := pb.Expected
			if len(expected) == 0 {
				expected = opts.Baseline.Expected
			}
			// A persona absent from the ledger is scored against zero
			// totals rather than skipped.
			totals := actual.PerPersona[personaID]
			record.PerPersona[personaID] = ComputeBlock(expected, opts.Baseline.personaWeights(personaID), totals)
		}
	}

	path := opts.OutputPath
	if path == "" {
		path = filepath.Join(opts.RunDir, "evaluation_"+evalID+".json")
	}
	if err := writeRecordAtomic(path, record); err != nil {
		return nil, "", fmt.Errorf("persisting evaluation record: %w", err)
	}

	return record, path, nil
}

// sanitizeFilename keeps identifiers safe to embed in file names.
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// writeRecordAtomic writes the record to a temporary file and renames
// it into place.
func writeRecordAtomic(path string, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling evaluation record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
