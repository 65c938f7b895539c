// Package spam screens submissions for duplicates and low-effort
// patterns before gate evaluation. Detection runs exact-duplicate first,
// then near-duplicate shingling against the author's recent content,
// then pattern heuristics.
package spam

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	// DefaultShingleSize is the character k-gram width for near-duplicate
	// comparison.
	DefaultShingleSize = 3
	// DefaultSimilarityThreshold is the Jaccard similarity at which two
	// texts are treated as the same content.
	DefaultSimilarityThreshold = 0.85

	spamScoreThreshold = 0.6
	recentPerAuthor    = 50
	storedTextLimit    = 2000
)

var (
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	templatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)dear\s+\{?\w*\}?`),
		regexp.MustCompile(`(?i)greetings?\s+fellow\s+agents?`),
		regexp.MustCompile(`(?i)i am (an? )?ai (agent|assistant|model)`),
	}
)

// Result is the outcome of a spam check. Spam is advisory for scores
// below the block threshold and blocking at or above it.
type Result struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	IsSpam  bool     `json:"is_spam"`
}

type record struct {
	hash string
	text string
}

// Detector keeps a bounded per-author history of accepted content and
// a global hash set for exact-duplicate checks.
type Detector struct {
	mu                  sync.Mutex
	hashes              map[string]struct{}
	recentByAuthor      map[string][]record
	shingleSize         int
	similarityThreshold float64
}

type Options struct {
	ShingleSize         int
	SimilarityThreshold float64
}

func New() *Detector {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Detector {
	d := &Detector{
		hashes:              make(map[string]struct{}),
		recentByAuthor:      make(map[string][]record),
		shingleSize:         opts.ShingleSize,
		similarityThreshold: opts.SimilarityThreshold,
	}
	if d.shingleSize <= 0 {
		d.shingleSize = DefaultShingleSize
	}
	if d.similarityThreshold <= 0 {
		d.similarityThreshold = DefaultSimilarityThreshold
	}
	return d
}

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonWordPattern.ReplaceAllString(text, "")
	return whitespacePattern.ReplaceAllString(text, " ")
}

// ContentHash is the exact-duplicate key: sha256 over normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(normalize(text)))
	return hex.EncodeToString(sum[:])
}

func shingles(text string, k int) map[string]struct{} {
	normed := normalize(text)
	out := make(map[string]struct{})
	runes := []rune(normed)
	if len(runes) < k {
		if len(runes) > 0 {
			out[normed] = struct{}{}
		}
		return out
	}
	for i := 0; i+k <= len(runes); i++ {
		out[string(runes[i:i+k])] = struct{}{}
	}
	return out
}

// JaccardSimilarity compares two texts by character shingle overlap.
func JaccardSimilarity(a, b string, k int) float64 {
	sa, sb := shingles(a, k), shingles(b, k)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}
	intersection := 0
	for s := range sa {
		if _, ok := sb[s]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

// Check scores text against history and heuristics without recording it.
func (d *Detector) Check(text, authorAddress string) Result {
	hash := ContentHash(text)

	d.mu.Lock()
	_, exactDup := d.hashes[hash]
	recent := make([]record, len(d.recentByAuthor[authorAddress]))
	copy(recent, d.recentByAuthor[authorAddress])
	d.mu.Unlock()

	if exactDup {
		return Result{Score: 1.0, Reasons: []string{"exact_duplicate"}, IsSpam: true}
	}

	for _, prev := range recent {
		sim := JaccardSimilarity(text, prev.text, d.shingleSize)
		if sim >= d.similarityThreshold {
			return Result{
				Score:   sim,
				Reasons: []string{fmt.Sprintf("near_duplicate:%.2f", sim)},
				IsSpam:  true,
			}
		}
	}

	score := 0.0
	var reasons []string

	for _, pattern := range templatePatterns {
		if pattern.MatchString(text) {
			if score < 0.6 {
				score = 0.6
			}
			reasons = append(reasons, "template_pattern")
		}
	}

	words := strings.Fields(text)
	if len(words) < 3 {
		if score < 0.5 {
			score = 0.5
		}
		reasons = append(reasons, "too_short")
	}

	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(w)] = struct{}{}
		}
		ratio := float64(len(unique)) / float64(len(words))
		if ratio < 0.3 {
			if score < 0.7 {
				score = 0.7
			}
			reasons = append(reasons, fmt.Sprintf("repetitive:%.2f", ratio))
		}
	}

	return Result{Score: score, Reasons: reasons, IsSpam: score >= spamScoreThreshold}
}

// Register records accepted content so later submissions are compared
// against it. Only the most recent entries per author are retained.
func (d *Detector) Register(text, authorAddress string) {
	stored := text
	if len(stored) > storedTextLimit {
		stored = stored[:storedTextLimit]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.hashes[ContentHash(text)] = struct{}{}
	recent := append(d.recentByAuthor[authorAddress], record{hash: ContentHash(text), text: stored})
	if len(recent) > recentPerAuthor {
		recent = recent[len(recent)-recentPerAuthor:]
	}
	d.recentByAuthor[authorAddress] = recent
}
