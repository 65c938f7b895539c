package gates

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"agora-server/internal/model"
)

func TestEvaluate_GenuineResearchAdmitted(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	content := "## Study Design\n\nThe evidence suggests structured submissions review faster, " +
		"therefore we split the corpus.\n\n```python\nprint('hi')\n```\n\n" +
		"See https://example.com/data for the dataset."

	results, err := e.Evaluate(content, "submission research")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !Admitted(results) {
		t.Fatalf("expected admission, got %+v", results)
	}
}

func TestEvaluate_PerformativeBlockedOnArtifacts(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	content := "wow this is so deep and meaningful the energy here is incredible namaste"

	results, err := e.Evaluate(content, "community building")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if Admitted(results) {
		t.Fatal("expected performative content to be blocked")
	}
	for _, r := range results {
		if r.Name == "build_artifacts" && r.Passed {
			t.Fatalf("build_artifacts should fail: %+v", r)
		}
	}
}

func TestEvaluate_EmptyPurposePasses(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	results, err := e.Evaluate("some ordinary content with a few words in it", "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for _, r := range results {
		if r.Name == "telos_alignment" {
			if !r.Passed || r.Reason != "no declared purpose" {
				t.Fatalf("expected trivial pass without purpose, got %+v", r)
			}
		}
	}
}

func TestEvaluate_InputErrors(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())

	if _, err := e.Evaluate("", "p"); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := e.Evaluate(strings.Repeat("a", MaxContentLength+1), "p"); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}
	if _, err := e.Evaluate(string([]byte{0xff, 0xfe}), "p"); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	content := "## Repeatable\n\nScores must not drift, because downstream analysis depends on reproducibility.\n\n```go\nvar x int\n```"

	first, err := e.Evaluate(content, "reproducibility research")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := e.Evaluate(content, "reproducibility research")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestAdmitted_StrictConjunction(t *testing.T) {
	pass := model.GateResult{Name: "a", Score: 0.9, Passed: true}
	fail := model.GateResult{Name: "b", Score: 0.89, Passed: false}

	if !Admitted([]model.GateResult{pass, pass, pass}) {
		t.Fatal("all passing should admit")
	}
	if Admitted([]model.GateResult{pass, fail, pass}) {
		t.Fatal("a single failing dimension must block, regardless of scores")
	}
	if Admitted(nil) {
		t.Fatal("no results should not admit")
	}
}

func TestEvidenceHash_Stable(t *testing.T) {
	results := []model.GateResult{
		{Name: "structural_rigor", Score: 0.5, Threshold: 0.3, Passed: true},
		{Name: "build_artifacts", Score: 0.2, Threshold: 0.5, Passed: false},
	}
	h1, err := EvidenceHash(results)
	if err != nil {
		t.Fatalf("EvidenceHash: %v", err)
	}
	h2, err := EvidenceHash(results)
	if err != nil {
		t.Fatalf("EvidenceHash: %v", err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected stable sha256 hex, got %q / %q", h1, h2)
	}
}

type fixture struct {
	Label   string `json:"label"`
	Purpose string `json:"purpose"`
	Content string `json:"content"`
}

func loadCorpus(t *testing.T) []fixture {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "corpus.jsonl"))
	if err != nil {
		t.Fatalf("open corpus: %v", err)
	}
	defer f.Close()

	var out []fixture
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fix fixture
		if err := json.Unmarshal([]byte(line), &fix); err != nil {
			t.Fatalf("parse corpus line: %v", err)
		}
		out = append(out, fix)
	}
	if len(out) == 0 {
		t.Fatal("empty corpus")
	}
	return out
}

func TestCorpus_GenuineBeatsPerformative(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())

	var genuineSum, genuineN, performativeSum, performativeN float64
	for _, fix := range loadCorpus(t) {
		results, err := e.Evaluate(fix.Content, fix.Purpose)
		if err != nil {
			t.Fatalf("Evaluate %q: %v", fix.Label, err)
		}

		composite := 0.0
		for _, r := range results {
			composite += r.Score
		}
		composite /= float64(len(results))

		switch fix.Label {
		case "genuine":
			if !Admitted(results) {
				t.Fatalf("genuine fixture not admitted: %+v", results)
			}
			genuineSum += composite
			genuineN++
		case "performative":
			for _, r := range results {
				if r.Name == "build_artifacts" && r.Passed {
					t.Fatalf("performative fixture passed build_artifacts: %+v", r)
				}
			}
			performativeSum += composite
			performativeN++
		default:
			t.Fatalf("unknown label %q", fix.Label)
		}
	}

	if genuineSum/genuineN <= performativeSum/performativeN {
		t.Fatalf("genuine composite %.4f should beat performative %.4f",
			genuineSum/genuineN, performativeSum/performativeN)
	}
}
