// Package safety implements the two-tier message risk classifier: a
// deterministic lexical detector and a few-shot similarity classifier.
package safety

import (
	"sort"
	"strings"

	"github.com/zhouzirui/duet/backend/internal/model/safety"
)

// LexicalDetector is the deterministic tier. It is a pure function of the
// message content and the pattern tables injected at construction; the
// tables are never mutated afterwards.
type LexicalDetector struct {
	patterns *safety.PatternConfig
}

// NewLexicalDetector builds the detector over validated pattern tables.
func NewLexicalDetector(patterns *safety.PatternConfig) *LexicalDetector {
	return &LexicalDetector{patterns: patterns}
}

// CheckMessage scans content against the category pattern tables. Empty or
// whitespace-only content is low risk rather than an error.
func (d *LexicalDetector) CheckMessage(content string) safety.Classification {
	normalized := strings.ToLower(content)
	if strings.TrimSpace(normalized) == "" {
		return safety.Classification{RiskLevel: safety.RiskLow, Confidence: 1, Action: safety.ActionAllow}
	}

	level := safety.RiskLow
	var concerns []string

	// High-severity categories: presence of any pattern blocks. One match
	// per category is enough; counts carry no extra signal.
	for _, category := range matchedCategories(normalized, d.patterns.High) {
		level = safety.RiskHigh
		concerns = append(concerns, category)
	}

	// Medium-severity categories only matter when nothing high fired.
	if level != safety.RiskHigh {
		for _, category := range matchedCategories(normalized, d.patterns.Medium) {
			level = safety.RiskMedium
			concerns = append(concerns, category)
		}
	}

	// Red-team tables catch euphemisms and disguised phrasing. The high
	// table escalates unconditionally; the medium table never lowers an
	// existing high.
	for _, category := range matchedCategories(normalized, d.patterns.RedTeam.High) {
		level = safety.RiskHigh
		concerns = append(concerns, category)
	}
	if level != safety.RiskHigh {
		for _, category := range matchedCategories(normalized, d.patterns.RedTeam.Medium) {
			level = safety.RiskMedium
			concerns = append(concerns, category)
		}
	}

	// The false-positive allowlist may only downgrade a medium verdict.
	// A lexical high never yields to it; that asymmetry is a deliberate
	// conservative bias.
	if level == safety.RiskMedium && len(matchedCategories(normalized, d.patterns.Allowlist)) > 0 {
		level = safety.RiskLow
		concerns = nil
	}

	sort.Strings(concerns)
	concerns = dedupe(concerns)

	cls := safety.Classification{
		RiskLevel:  level,
		Confidence: 1,
		Categories: concerns,
		Action:     actionForLexical(level),
	}
	if len(concerns) > 0 {
		cls.Reasoning = "matched " + strings.Join(concerns, ", ") + " language patterns"
	}
	cls.Boundary = safety.TemplateFor(level, concerns)
	return cls
}

func actionForLexical(level safety.RiskLevel) safety.Action {
	switch level {
	case safety.RiskHigh:
		return safety.ActionBlock
	case safety.RiskMedium:
		return safety.ActionWarn
	default:
		return safety.ActionAllow
	}
}

// matchedCategories returns table categories with at least one pattern
// present in the normalized content, sorted for deterministic output.
func matchedCategories(normalized string, table map[string][]string) []string {
	var matched []string
	for category, patterns := range table {
		for _, pattern := range patterns {
			if strings.Contains(normalized, strings.ToLower(pattern)) {
				matched = append(matched, category)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
