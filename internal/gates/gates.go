package gates

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"unicode/utf8"

	"agora-server/internal/canon"
	"agora-server/internal/model"
)

var (
	ErrEmptyContent   = errors.New("content is empty")
	ErrContentTooLong = errors.New("content exceeds maximum length")
	ErrInvalidUTF8    = errors.New("content is not valid UTF-8")
)

const MaxContentLength = 10000

// Dimension is one named policy check. Implementations must be pure functions
// of (content, purpose): no shared state, no clock, no randomness. That keeps
// every dimension independently auditable and the admission rule a plain fold.
type Dimension interface {
	Name() string
	Threshold() float64
	Score(content, purpose string) (float64, string)
}

type Thresholds struct {
	StructuralRigor float64
	BuildArtifacts  float64
	TelosAlignment  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StructuralRigor: 0.3,
		BuildArtifacts:  0.5,
		TelosAlignment:  0.4,
	}
}

// Evaluator runs the active dimension set. Dimensions are enumerated at
// construction; nothing is discovered reflectively.
type Evaluator struct {
	dims []Dimension
}

func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{dims: []Dimension{
		structuralRigor{threshold: t.StructuralRigor},
		buildArtifacts{threshold: t.BuildArtifacts},
		telosAlignment{threshold: t.TelosAlignment},
	}}
}

func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return ErrInvalidUTF8
	}
	return nil
}

// Evaluate scores content against every active dimension. A dimension below
// its threshold is a normal negative result, not an error; errors are
// reserved for malformed input.
func (e *Evaluator) Evaluate(content, purpose string) ([]model.GateResult, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	results := make([]model.GateResult, 0, len(e.dims))
	for _, d := range e.dims {
		score, reason := d.Score(content, purpose)
		results = append(results, model.GateResult{
			Name:      d.Name(),
			Score:     score,
			Threshold: d.Threshold(),
			Passed:    score >= d.Threshold(),
			Reason:    reason,
		})
	}
	return results, nil
}

func (e *Evaluator) DimensionNames() []string {
	names := make([]string, 0, len(e.dims))
	for _, d := range e.dims {
		names = append(names, d.Name())
	}
	return names
}

// Admitted is the strict-conjunction admission rule: every active dimension
// must pass. A single failure blocks regardless of the other scores.
func Admitted(results []model.GateResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// EvidenceHash produces the canonical digest of a gate result set, recorded
// with the submission and on the published content.
func EvidenceHash(results []model.GateResult) (string, error) {
	items := make([]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"name":      r.Name,
			"score":     r.Score,
			"threshold": r.Threshold,
			"passed":    r.Passed,
		})
	}
	raw, err := canon.Marshal(map[string]any{"dimensions": items})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
