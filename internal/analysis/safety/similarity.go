package safety

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/duet/backend/internal/model/safety"
)

// Tuning constants for the similarity tier. Empirically chosen upstream;
// kept exactly for behavioral parity rather than re-derived.
const (
	// DefaultConservativeThreshold is the confidence needed before a high
	// verdict blocks or a medium verdict warns outright.
	DefaultConservativeThreshold = 0.7
	minConservativeThreshold     = 0.1
	maxConservativeThreshold     = 1.0

	highRatioCutoff   = 0.3
	mediumRatioCutoff = 0.4
	lowRatioCutoff    = 0.5

	confidenceSmoothing = 0.1

	neighborLimit            = 3
	neighborSimilarityFloor  = 0.1
	reasoningSimilarityFloor = 0.3
)

// SimilarityClassifier scores a message against a labeled example set by
// token-set overlap. The example set is copy-on-write: reads are lock-free
// and always see a complete snapshot; appends swap a new slice in.
type SimilarityClassifier struct {
	mu        sync.Mutex // serializes writers
	examples  atomic.Pointer[[]safety.TrainingExample]
	threshold atomic.Uint64 // float64 bits
}

// NewSimilarityClassifier seeds the classifier with the injected examples.
func NewSimilarityClassifier(seed *safety.ExampleConfig) *SimilarityClassifier {
	c := &SimilarityClassifier{}
	examples := append([]safety.TrainingExample(nil), seed.Examples...)
	c.examples.Store(&examples)
	c.threshold.Store(math.Float64bits(DefaultConservativeThreshold))
	return c
}

// AddTrainingExample appends to the live example set. Subsequent
// classifications see it; prior results are unaffected.
func (c *SimilarityClassifier) AddTrainingExample(example safety.TrainingExample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := *c.examples.Load()
	next := make([]safety.TrainingExample, len(current)+1)
	copy(next, current)
	next[len(current)] = example
	c.examples.Store(&next)
}

// SetConservativeThreshold adjusts the block/warn confidence bar, clamped
// to [0.1, 1.0].
func (c *SimilarityClassifier) SetConservativeThreshold(t float64) {
	if t < minConservativeThreshold {
		t = minConservativeThreshold
	}
	if t > maxConservativeThreshold {
		t = maxConservativeThreshold
	}
	c.threshold.Store(math.Float64bits(t))
}

// ConservativeThreshold returns the current confidence bar.
func (c *SimilarityClassifier) ConservativeThreshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

type neighbor struct {
	example    safety.TrainingExample
	similarity float64
}

// ClassifyMessage scores text against every training example and decides a
// risk level conservatively: ambiguous score splits fall toward the higher
// risk, and an uncertain high never silently becomes allow.
func (c *SimilarityClassifier) ClassifyMessage(text string) safety.Classification {
	normalized := strings.ToLower(strings.TrimSpace(text))
	examples := *c.examples.Load()

	tokens := tokenSet(normalized)
	neighbors := make([]neighbor, 0, len(examples))
	for _, ex := range examples {
		neighbors = append(neighbors, neighbor{
			example:    ex,
			similarity: jaccard(tokens, tokenSet(strings.ToLower(strings.TrimSpace(ex.Text)))),
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].similarity > neighbors[j].similarity
	})

	// Squaring the similarity emphasizes near-matches over a long tail of
	// weak overlaps.
	scores := map[safety.RiskLevel]float64{}
	for _, n := range neighbors {
		scores[n.example.RiskLevel] += n.similarity * n.similarity
	}

	level := decideLevel(scores)
	confidence := confidenceFor(level, scores)

	categories, reasoning := explain(level, neighbors)
	if reasoning == "" {
		reasoning = fmt.Sprintf("classified as %s risk based on pattern matching", level)
	}

	cls := safety.Classification{
		RiskLevel:  level,
		Confidence: confidence,
		Categories: categories,
		Action:     c.actionFor(level, confidence),
		Reasoning:  reasoning,
	}
	if level != safety.RiskLow {
		cls.Boundary = safety.TemplateFor(level, categories)
	}
	return cls
}

// decideLevel applies the ratio cutoffs in severity order, falling back to
// the largest raw bucket with ties broken toward the higher risk.
func decideLevel(scores map[safety.RiskLevel]float64) safety.RiskLevel {
	total := scores[safety.RiskLow] + scores[safety.RiskMedium] + scores[safety.RiskHigh]
	if total == 0 {
		return safety.RiskLow
	}

	switch {
	case scores[safety.RiskHigh]/total >= highRatioCutoff:
		return safety.RiskHigh
	case scores[safety.RiskMedium]/total >= mediumRatioCutoff:
		return safety.RiskMedium
	case scores[safety.RiskLow]/total >= lowRatioCutoff:
		return safety.RiskLow
	}

	best := safety.RiskHigh
	for _, candidate := range []safety.RiskLevel{safety.RiskMedium, safety.RiskLow} {
		if scores[candidate] > scores[best] {
			best = candidate
		}
	}
	return best
}

func confidenceFor(level safety.RiskLevel, scores map[safety.RiskLevel]float64) float64 {
	selected := scores[level]
	other := 0.0
	for _, l := range []safety.RiskLevel{safety.RiskLow, safety.RiskMedium, safety.RiskHigh} {
		if l != level && scores[l] > other {
			other = scores[l]
		}
	}
	confidence := selected / (selected + other + confidenceSmoothing)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// explain unions the categories of up to three nearest same-level
// neighbors above the similarity floor, and joins the reasoning of those
// close enough to be trusted.
func explain(level safety.RiskLevel, neighbors []neighbor) ([]string, string) {
	var categories []string
	var reasons []string
	picked := 0
	for _, n := range neighbors {
		if picked == neighborLimit {
			break
		}
		if n.similarity <= neighborSimilarityFloor || n.example.RiskLevel != level {
			continue
		}
		picked++
		categories = append(categories, n.example.Categories...)
		if n.similarity > reasoningSimilarityFloor && n.example.Reasoning != "" {
			reasons = append(reasons, n.example.Reasoning)
		}
	}
	sort.Strings(categories)
	return dedupe(categories), strings.Join(reasons, "; ")
}

// actionFor maps (level, confidence) through the conservative threshold.
// An uncertain high still warns; it never silently allows.
func (c *SimilarityClassifier) actionFor(level safety.RiskLevel, confidence float64) safety.Action {
	t := c.ConservativeThreshold()
	switch {
	case level == safety.RiskHigh && confidence >= t:
		return safety.ActionBlock
	case level == safety.RiskMedium && confidence >= t:
		return safety.ActionWarn
	case level == safety.RiskHigh:
		return safety.ActionWarn
	default:
		return safety.ActionAllow
	}
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
