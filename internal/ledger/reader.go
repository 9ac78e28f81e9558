package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sns-vibe/agentsim/internal/models"
)

// LoadError records a single malformed ledger line encountered while
// scanning. Malformed lines are skipped, not fatal.
type LoadError struct {
	File string
	Line int
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

// ReadRun scans every agent's actions.jsonl under runDir and returns all
// parseable records plus load errors for lines that could not be decoded.
//
// A missing run directory, or a run directory with no action logs at all,
// is an error: the caller asked to read a run that produced nothing.
func ReadRun(runDir string) ([]models.ActionRecord, []LoadError, error) {
	if _, err := os.Stat(runDir); err != nil {
		return nil, nil, fmt.Errorf("run directory not found: %s", runDir)
	}

	logs, err := filepath.Glob(filepath.Join(runDir, "*", LogName))
	if err != nil {
		return nil, nil, fmt.Errorf("scanning run directory: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil, fmt.Errorf("no %s found under %s", LogName, runDir)
	}

	var records []models.ActionRecord
	var loadErrs []LoadError

	for _, path := range logs {
		recs, errs, err := readLog(path)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, recs...)
		loadErrs = append(loadErrs, errs...)
	}

	return records, loadErrs, nil
}

// readLog reads one actions.jsonl file line by line.
func readLog(path string) ([]models.ActionRecord, []LoadError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening action log: %w", err)
	}
	defer f.Close()

	var records []models.ActionRecord
	var loadErrs []LoadError

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var record models.ActionRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			loadErrs = append(loadErrs, LoadError{File: path, Line: line, Err: err})
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading action log %s: %w", path, err)
	}

	return records, loadErrs, nil
}

// VerifySequences checks that each agent's records form an exact 1..N
// sequence. Records are grouped by agent id.
func VerifySequences(records []models.ActionRecord) error {
	byAgent := make(map[string][]int)
	for _, r := range records {
		byAgent[r.Agent.ID] = append(byAgent[r.Agent.ID], r.Sequence)
	}

	for agentID, seqs := range byAgent {
		seen := make(map[int]bool, len(seqs))
		max := 0
		for _, s := range seqs {
			if s < 1 {
				return fmt.Errorf("agent %s: sequence %d below 1", agentID, s)
			}
			if seen[s] {
				return fmt.Errorf("agent %s: duplicate sequence %d", agentID, s)
			}
			seen[s] = true
			if s > max {
				max = s
			}
		}
		if max != len(seqs) {
			return fmt.Errorf("agent %s: sequence gap (max %d, count %d)", agentID, max, len(seqs))
		}
	}

	return nil
}
