// Package depth implements the advisory depth rubric. Scores never gate
// admission; they are attached to submissions to help reviewers triage.
package depth

import (
	"math"
	"regexp"
	"strings"

	"agora-server/internal/model"
)

const (
	DimStructuralComplexity    = "structural_complexity"
	DimEvidenceDensity         = "evidence_density"
	DimOriginality             = "originality"
	DimCollaborativeReferences = "collaborative_references"
)

// DefaultWeights returns the composite weighting. Callers may pass their
// own map to Score; missing dimensions default to 0.25.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		DimStructuralComplexity:    0.25,
		DimEvidenceDensity:         0.30,
		DimOriginality:             0.25,
		DimCollaborativeReferences: 0.20,
	}
}

var (
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s`)
	listItemPattern = regexp.MustCompile(`(?m)^\s*[-*]\s`)
	citationPattern = regexp.MustCompile(`\[\d+\]|\(.*?\d{4}.*?\)`)
	linkPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern  = regexp.MustCompile(`@\w+`)
	quotePattern    = regexp.MustCompile(`(?m)^>\s`)

	explicitRefPattern = regexp.MustCompile(`(?i)(building on|extends|in response to|see also|cf\.|as discussed|following up on|as noted by|per the|refers to|based on)`)
	temporalRefPattern = regexp.MustCompile(`(?i)(previous|earlier|above|prior|preceding|aforementioned|the last|last time|in the original|originally)`)
	continuityPattern  = regexp.MustCompile(`(?i)(extending this|which relates to|this connects to|as the .{1,30} showed|consistent with|corroborates|builds upon|further supports|contradicts|supplements)`)
)

var dataReferenceWords = []string{"dataset", "csv", "json", "table", "figure", "appendix"}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func capped(count int, divisor float64) float64 {
	return math.Min(float64(count)/divisor, 1.0)
}

// StructuralComplexity scores paragraph, heading, and list structure.
func StructuralComplexity(text string) float64 {
	paragraphs := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	headings := len(headingPattern.FindAllString(text, -1))
	listItems := len(listItemPattern.FindAllString(text, -1))

	raw := capped(paragraphs, 5)*0.4 + capped(headings, 3)*0.3 + capped(listItems, 5)*0.3
	return round4(math.Min(raw, 1.0))
}

// EvidenceDensity scores citations, links, code blocks, and data references.
func EvidenceDensity(text string) float64 {
	citations := len(citationPattern.FindAllString(text, -1))
	links := len(linkPattern.FindAllString(text, -1))
	codeBlocks := strings.Count(text, "```")

	lower := strings.ToLower(text)
	dataRefs := 0
	for _, w := range dataReferenceWords {
		if strings.Contains(lower, w) {
			dataRefs++
		}
	}

	raw := capped(citations, 3)*0.3 + capped(links, 2)*0.2 +
		capped(codeBlocks, 2)*0.3 + capped(dataRefs, 2)*0.2
	return round4(math.Min(raw, 1.0))
}

// Originality scores vocabulary richness: type-token ratio plus the
// hapax legomena ratio. Texts under five words score zero.
func Originality(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 5 {
		return 0.0
	}

	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[w]++
	}
	hapax := 0
	for _, c := range freq {
		if c == 1 {
			hapax++
		}
	}

	ttr := float64(len(freq)) / float64(len(words))
	hapaxRatio := float64(hapax) / float64(len(words))
	return round4(math.Min((ttr*0.6+hapaxRatio*0.4)*1.5, 1.0))
}

// CollaborativeReferences scores mentions, explicit reference phrases,
// temporal references, continuity markers, and quoted material.
func CollaborativeReferences(text string) float64 {
	mentions := len(mentionPattern.FindAllString(text, -1))
	explicitRefs := len(explicitRefPattern.FindAllString(text, -1))
	temporalRefs := len(temporalRefPattern.FindAllString(text, -1))
	continuity := len(continuityPattern.FindAllString(text, -1))
	quotes := len(quotePattern.FindAllString(text, -1))

	allRefs := explicitRefs + temporalRefs + continuity
	raw := capped(mentions, 2)*0.25 +
		capped(allRefs, 3)*0.4 +
		capped(quotes, 2)*0.2 +
		capped(temporalRefs, 2)*0.15
	return round4(math.Min(raw, 1.0))
}

// Score computes all four dimensions and the weighted composite. A nil
// weights map uses DefaultWeights.
func Score(text string, weights map[string]float64) model.DepthScore {
	if weights == nil {
		weights = DefaultWeights()
	}
	dims := map[string]float64{
		DimStructuralComplexity:    StructuralComplexity(text),
		DimEvidenceDensity:         EvidenceDensity(text),
		DimOriginality:             Originality(text),
		DimCollaborativeReferences: CollaborativeReferences(text),
	}

	composite := 0.0
	for name, score := range dims {
		w, ok := weights[name]
		if !ok {
			w = 0.25
		}
		composite += score * w
	}
	return model.DepthScore{
		Composite:  round4(composite),
		Dimensions: dims,
	}
}
