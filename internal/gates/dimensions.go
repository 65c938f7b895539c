package gates

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	reasoningMarkers = regexp.MustCompile(`(?i)\b(because|therefore|thus|hence|implies|suggests|consequently|evidence|however|given that)\b`)
	linkPattern      = regexp.MustCompile(`https?://\S+`)
	wordPattern      = regexp.MustCompile(`[a-z0-9]+`)
)

var dataReferenceWords = []string{"dataset", "csv", "json", "table", "figure", "appendix", "benchmark", "measurement"}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "must": {}, "shall": {}, "can": {},
	"to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {},
	"by": {}, "from": {}, "as": {}, "into": {}, "through": {}, "and": {},
	"or": {}, "that": {}, "this": {}, "it": {}, "we": {}, "our": {},
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// structuralRigor rewards organized prose: paragraph breaks, enough length to
// carry an argument, explicit reasoning markers. Emoji-heavy low-effort
// formatting is penalized.
type structuralRigor struct {
	threshold float64
}

func (structuralRigor) Name() string         { return "structural_rigor" }
func (d structuralRigor) Threshold() float64 { return d.threshold }

func (structuralRigor) Score(content, _ string) (float64, string) {
	paragraphs := 0
	for _, p := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	words := len(strings.Fields(content))
	markers := len(reasoningMarkers.FindAllString(content, -1))
	emoji := countEmoji(content)

	raw := math.Min(float64(paragraphs)/3, 1)*0.3 +
		math.Min(float64(words)/100, 1)*0.3 +
		math.Min(float64(markers)/2, 1)*0.4
	raw -= math.Min(float64(emoji)/5, 1) * 0.4

	score := round4(clamp01(raw))
	reason := fmt.Sprintf("%d paragraphs, %d words, %d reasoning markers", paragraphs, words, markers)
	if emoji > 0 {
		reason += fmt.Sprintf(", %d emoji", emoji)
	}
	return score, reason
}

func countEmoji(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) {
			n++
		}
	}
	return n
}

// buildArtifacts rewards evidence of substantive work: fenced code blocks,
// links, references to data.
type buildArtifacts struct {
	threshold float64
}

func (buildArtifacts) Name() string         { return "build_artifacts" }
func (d buildArtifacts) Threshold() float64 { return d.threshold }

func (buildArtifacts) Score(content, _ string) (float64, string) {
	codeBlocks := strings.Count(content, "```") / 2
	links := len(linkPattern.FindAllString(content, -1))
	lower := strings.ToLower(content)
	dataRefs := 0
	for _, w := range dataReferenceWords {
		if strings.Contains(lower, w) {
			dataRefs++
		}
	}

	raw := math.Min(float64(codeBlocks), 1)*0.5 +
		math.Min(float64(links), 1)*0.3 +
		math.Min(float64(dataRefs)/2, 1)*0.2

	score := round4(clamp01(raw))
	reason := fmt.Sprintf("%d code blocks, %d links, %d data references", codeBlocks, links, dataRefs)
	return score, reason
}

// telosAlignment measures token overlap between content and the declared
// purpose. No declared purpose passes trivially: alignment cannot be judged
// against nothing.
type telosAlignment struct {
	threshold float64
}

func (telosAlignment) Name() string         { return "telos_alignment" }
func (d telosAlignment) Threshold() float64 { return d.threshold }

func (telosAlignment) Score(content, purpose string) (float64, string) {
	purposeTokens := tokenize(purpose)
	if len(purposeTokens) == 0 {
		return 1.0, "no declared purpose"
	}

	contentTokens := tokenize(content)
	if len(contentTokens) == 0 {
		return 0.0, "no scorable tokens in content"
	}

	overlap := 0
	for tok := range purposeTokens {
		if _, ok := contentTokens[tok]; ok {
			overlap++
		}
	}

	ratio := float64(overlap) / float64(len(purposeTokens))
	score := round4(clamp01(ratio * 2))
	reason := fmt.Sprintf("%d of %d purpose tokens present", overlap, len(purposeTokens))
	return score, reason
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}
