package evaluation

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sns-vibe/agentsim/internal/ledger"
	"github.com/sns-vibe/agentsim/internal/models"
)

// writeTestLedger builds a run directory with scripted act outcomes.
// Each entry is (personaID, liked, commented).
func writeTestLedger(t *testing.T, acts []struct {
	persona   string
	liked     bool
	commented bool
	tags      []string
}) string {
	t.Helper()
	root := t.TempDir()

	byAgent := make(map[string][]struct {
		persona   string
		liked     bool
		commented bool
		tags      []string
	})
	for _, a := range acts {
		byAgent["agent-"+a.persona] = append(byAgent["agent-"+a.persona], a)
	}

	for agentID, agentActs := range byAgent {
		desc := models.AgentDescriptor{
			ID:        agentID,
			Type:      models.RoleCrowd,
			PersonaID: agentActs[0].persona,
		}
		w, err := ledger.NewWriter(root, "run-1", "sim-1", desc)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range agentActs {
			comment := ""
			if a.commented {
				comment = "Nice."
			}
			var tags []any
			for _, tag := range a.tags {
				tags = append(tags, tag)
			}
			output := map[string]any{
				"postId": "p1",
				"result": map[string]any{
					"liked":     a.liked,
					"commented": a.commented,
					"followed":  false,
				},
				"comment": comment,
				"tags":    tags,
			}
			if _, _, err := w.Write("act", models.StatusOK, map[string]any{"postId": "p1"}, output, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		w.Close()
	}

	return filepath.Join(root, "run-1")
}

func TestComputeActualClassification(t *testing.T) {
	runDir := writeTestLedger(t, []struct {
		persona   string
		liked     bool
		commented bool
		tags      []string
	}{
		{persona: "vegan-mom", liked: true, commented: true},
		{persona: "vegan-mom", liked: true, commented: false, tags: []string{"#sponsored"}},
		{persona: "cynical-memer", liked: false, commented: false},
	})

	records, _, err := ledger.ReadRun(runDir)
	if err != nil {
		t.Fatal(err)
	}

	actual := ComputeActual(records)
	totals := actual.Totals
	if totals.TotalActs != 3 || totals.LikeCount != 2 || totals.CommentCount != 1 {
		t.Errorf("totals = %+v", totals)
	}
	// likeCount + commentCount: the like-and-comment act contributes 2.
	if totals.EngagementCount != 3 {
		t.Errorf("EngagementCount = %d, want 3", totals.EngagementCount)
	}
	if totals.MarketingEngagement != 1 {
		t.Errorf("MarketingEngagement = %d, want 1", totals.MarketingEngagement)
	}
	if !almostEqual(totals.LikeRate, 2.0/3.0) {
		t.Errorf("LikeRate = %v", totals.LikeRate)
	}
	if actual.Analytics.EngagementCount != 3 || actual.Analytics.MarketingEngagement != 1 {
		t.Errorf("analytics = %+v", actual.Analytics)
	}
	if !almostEqual(actual.Analytics.EngagementRate, 1.0) {
		t.Errorf("EngagementRate = %v", actual.Analytics.EngagementRate)
	}

	mom := actual.PerPersona["vegan-mom"]
	if mom.TotalActs != 2 || mom.LikeCount != 2 || mom.CommentCount != 1 || mom.EngagementCount != 3 {
		t.Errorf("vegan-mom totals = %+v", mom)
	}
	memer := actual.PerPersona["cynical-memer"]
	if memer.TotalActs != 1 || memer.EngagementCount != 0 {
		t.Errorf("cynical-memer totals = %+v", memer)
	}
}

func TestComputeActualFollowsDoNotCountAsEngagement(t *testing.T) {
	root := t.TempDir()
	desc := models.AgentDescriptor{ID: "agent-1", PersonaID: "vegan-mom"}
	w, err := ledger.NewWriter(root, "run-1", "sim-1", desc)
	if err != nil {
		t.Fatal(err)
	}
	output := map[string]any{
		"postId": "p1",
		"result": map[string]any{"liked": false, "commented": false, "followed": true},
	}
	if _, _, err := w.Write("act", models.StatusOK, nil, output, nil, nil); err != nil {
		t.Fatal(err)
	}
	w.Close()

	records, _, err := ledger.ReadRun(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatal(err)
	}
	totals := ComputeActual(records).Totals
	if totals.FollowCount != 1 {
		t.Errorf("FollowCount = %d, want 1", totals.FollowCount)
	}
	if totals.EngagementCount != 0 {
		t.Errorf("EngagementCount = %d, want 0 for a follow-only act", totals.EngagementCount)
	}
}

func TestComputeActualIgnoresFailedActs(t *testing.T) {
	root := t.TempDir()
	desc := models.AgentDescriptor{ID: "agent-1", PersonaID: "vegan-mom"}
	w, err := ledger.NewWriter(root, "run-1", "sim-1", desc)
	if err != nil {
		t.Fatal(err)
	}
	okOutput := map[string]any{"result": map[string]any{"liked": true, "commented": false, "followed": false}}
	if _, _, err := w.Write("act", models.StatusOK, nil, okOutput, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Write("act", models.StatusFailed, nil, okOutput, nil, errors.New("refused")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Write("observe", models.StatusOK, nil, map[string]any{"postId": "p1"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	w.Close()

	records, _, err := ledger.ReadRun(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatal(err)
	}
	totals := ComputeActual(records).Totals
	if totals.TotalActs != 1 || totals.LikeCount != 1 {
		t.Errorf("totals = %+v, want exactly the one successful act", totals)
	}
}

func TestEvaluateWritesRecord(t *testing.T) {
	runDir := writeTestLedger(t, []struct {
		persona   string
		liked     bool
		commented bool
		tags      []string
	}{
		{persona: "vegan-mom", liked: true, commented: true},
		{persona: "vegan-mom", liked: true, commented: false},
	})

	baseline := &Baseline{
		Expected: map[string]float64{"likeCount": 2, "commentCount": 1},
		Weights:  map[string]float64{"likeCount": 0.5, "commentCount": 0.5},
	}

	record, path, err := Evaluate(Options{
		RunDir:       runDir,
		Baseline:     baseline,
		EvaluationID: "eval-1",
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if record.SchemaVersion != models.SchemaVersion {
		t.Errorf("SchemaVersion = %q", record.SchemaVersion)
	}
	if record.RunID != "run-1" || record.SimulationID != "sim-1" {
		t.Errorf("ids = %s/%s, want run-1/sim-1", record.RunID, record.SimulationID)
	}
	if record.Metrics.Overall == nil || !almostEqual(*record.Metrics.Overall, 1.0) {
		t.Errorf("Overall = %v, want 1.0", record.Metrics.Overall)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	var onDisk Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parsing record: %v", err)
	}
	if onDisk.EvaluationID != "eval-1" {
		t.Errorf("EvaluationID = %q", onDisk.EvaluationID)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	runDir := writeTestLedger(t, []struct {
		persona   string
		liked     bool
		commented bool
		tags      []string
	}{
		{persona: "vegan-mom", liked: true, commented: false},
	})

	baseline := &Baseline{
		Expected: map[string]float64{"likeCount": 1},
		Weights:  map[string]float64{"likeCount": 1},
	}

	first, _, err := Evaluate(Options{RunDir: runDir, Baseline: baseline, EvaluationID: "eval-1"})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := Evaluate(Options{RunDir: runDir, Baseline: baseline, EvaluationID: "eval-1"})
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first.Metrics)
	b, _ := json.Marshal(second.Metrics)
	if string(a) != string(b) {
		t.Errorf("metrics differ across runs:\n%s\n%s", a, b)
	}
}

func TestEvaluatePerPersonaOverride(t *testing.T) {
	runDir := writeTestLedger(t, []struct {
		persona   string
		liked     bool
		commented bool
		tags      []string
	}{
		{persona: "vegan-mom", liked: true, commented: true},
		{persona: "cynical-memer", liked: false, commented: true},
	})

	baseline := &Baseline{
		Expected: map[string]float64{"likeCount": 1, "commentCount": 2},
		Weights:  map[string]float64{"likeCount": 0.5, "commentCount": 0.5},
		PerPersona: map[string]PersonaBaseline{
			"cynical-memer": {
				Expected: map[string]float64{"commentCount": 1},
				Weights:  map[string]float64{"commentCount": 1},
			},
			"ghost-persona": {
				Expected: map[string]float64{"likeCount": 2},
			},
		},
	}

	record, _, err := Evaluate(Options{RunDir: runDir, Baseline: baseline, EvaluationID: "eval-1"})
	if err != nil {
		t.Fatal(err)
	}

	memer, ok := record.PerPersona["cynical-memer"]
	if !ok {
		t.Fatal("cynical-memer block missing")
	}
	if memer.Overall == nil || !almostEqual(*memer.Overall, 1.0) {
		t.Errorf("cynical-memer overall = %v, want 1.0", memer.Overall)
	}
	if !almostEqual(memer.Metrics["commentCount"].Weight, 1.0) {
		t.Errorf("override weight = %v, want 1.0", memer.Metrics["commentCount"].Weight)
	}

	// A persona with no ledger activity scores against zero totals.
	ghost, ok := record.PerPersona["ghost-persona"]
	if !ok {
		t.Fatal("ghost-persona block missing")
	}
	if !almostEqual(ghost.Metrics["likeCount"].Actual, 0) {
		t.Errorf("ghost actual = %v, want 0", ghost.Metrics["likeCount"].Actual)
	}
	if !almostEqual(ghost.Metrics["likeCount"].Similarity, 0) {
		t.Errorf("ghost similarity = %v, want 0", ghost.Metrics["likeCount"].Similarity)
	}
}

func TestPersonaWeightsMergeOverGlobals(t *testing.T) {
	b := &Baseline{
		Weights: map[string]float64{"likeCount": 0.5, "commentCount": 0.5},
		PerPersona: map[string]PersonaBaseline{
			"vegan-mom": {Weights: map[string]float64{"likeCount": 1.0}},
		},
	}

	got := b.personaWeights("vegan-mom")
	if got["likeCount"] != 1.0 {
		t.Errorf("likeCount weight = %v, want overridden 1.0", got["likeCount"])
	}
	if got["commentCount"] != 0.5 {
		t.Errorf("commentCount weight = %v, want the global 0.5 kept", got["commentCount"])
	}

	// The merged map renormalizes to 1/1.5 and 0.5/1.5 shares.
	norm := NormalizeWeights(got, []string{"commentCount", "likeCount"})
	if !almostEqual(norm["likeCount"], 1.0/1.5) || !almostEqual(norm["commentCount"], 0.5/1.5) {
		t.Errorf("normalized = %v, want 2/3 and 1/3", norm)
	}

	// The global map is untouched and personas without an override
	// inherit it directly.
	if b.Weights["likeCount"] != 0.5 {
		t.Errorf("global likeCount weight mutated to %v", b.Weights["likeCount"])
	}
	if got := b.personaWeights("beauty-analyst"); got["commentCount"] != 0.5 {
		t.Errorf("unoverridden persona weights = %v, want globals", got)
	}
}

func TestEvaluateInputErrors(t *testing.T) {
	baseline := &Baseline{Expected: map[string]float64{"likeCount": 1}, Weights: map[string]float64{"likeCount": 1}}

	t.Run("missing run directory", func(t *testing.T) {
		_, _, err := Evaluate(Options{RunDir: filepath.Join(t.TempDir(), "nope"), Baseline: baseline})
		if !errors.Is(err, ErrInput) {
			t.Errorf("error = %v, want ErrInput", err)
		}
	})

	t.Run("nil baseline", func(t *testing.T) {
		_, _, err := Evaluate(Options{RunDir: t.TempDir()})
		if !errors.Is(err, ErrInput) {
			t.Errorf("error = %v, want ErrInput", err)
		}
	})
}

func TestLoadBaseline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expected.yaml")
	content := `expected:
  likeCount: 10
  commentCount: 5
weights:
  likeCount: 0.5
  commentCount: 0.5
per_persona:
  vegan-mom:
    expected:
      likeCount: 4
    weights:
      likeCount: 1.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBaseline(path)
	if err != nil {
		t.Fatalf("LoadBaseline() error = %v", err)
	}
	if b.Expected["likeCount"] != 10 {
		t.Errorf("Expected = %v", b.Expected)
	}
	if b.PerPersona["vegan-mom"].Weights["likeCount"] != 1.0 {
		t.Errorf("PerPersona = %+v", b.PerPersona)
	}
}

func TestLoadBaselineDefaultsWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expected.yaml")
	if err := os.WriteFile(path, []byte("expected:\n  likeCount: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBaseline(path)
	if err != nil {
		t.Fatal(err)
	}
	if b.Weights["likeCount"] != 0.5 || b.Weights["commentCount"] != 0.5 {
		t.Errorf("Weights = %v, want defaults", b.Weights)
	}
}

func TestLoadBaselineRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown metric", content: "expected:\n  shareCount: 3\n"},
		{name: "negative value", content: "expected:\n  likeCount: -1\n"},
		{name: "empty baseline", content: "weights:\n  likeCount: 1\n"},
		{name: "invalid yaml", content: "expected: [\n"},
		{name: "unknown persona metric", content: "expected:\n  likeCount: 1\nper_persona:\n  x:\n    expected:\n      bogus: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "expected.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadBaseline(path); err == nil {
				t.Error("LoadBaseline() should fail")
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "eval-1", want: "eval-1"},
		{in: "../../etc/passwd", want: "etc-passwd"},
		{in: "my eval.v2", want: "my-eval-v2"},
		{in: "###", want: ""},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
