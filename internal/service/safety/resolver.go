// Package safety merges the two classifier tiers into one conservative
// verdict per message.
package safety

import (
	"context"

	"golang.org/x/sync/errgroup"

	analysis "github.com/zhouzirui/duet/backend/internal/analysis/safety"
	chatmodel "github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
)

// Resolver runs the lexical detector and the similarity classifier over the
// same content and reduces their verdicts on the allow<warn<block lattice.
// Built once per process and shared by reference; it holds no per-call state.
type Resolver struct {
	detector   *analysis.LexicalDetector
	classifier *analysis.SimilarityClassifier
}

// NewResolver wires the two tiers together.
func NewResolver(detector *analysis.LexicalDetector, classifier *analysis.SimilarityClassifier) *Resolver {
	return &Resolver{detector: detector, classifier: classifier}
}

// Classifier exposes the similarity tier for threshold tuning and example
// appends.
func (r *Resolver) Classifier() *analysis.SimilarityClassifier {
	return r.classifier
}

// Resolve classifies content through both tiers concurrently and returns
// the merged verdict. Boundary content is populated only when the merged
// action is warn or block.
func (r *Resolver) Resolve(ctx context.Context, content string) safety.Classification {
	var lexical, similar safety.Classification

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical = r.detector.CheckMessage(content)
		return nil
	})
	g.Go(func() error {
		similar = r.classifier.ClassifyMessage(content)
		return nil
	})
	_ = g.Wait() // the tiers are pure and never error

	merged := merge(lexical, similar)
	if merged.Action == safety.ActionAllow {
		merged.Boundary = nil
	}
	return merged
}

// merge picks the verdict whose action is most severe. On an action tie it
// prefers the higher risk level, then the more specific category set, then
// the lexical tier. A lexical high therefore always survives as block.
func merge(lexical, similar safety.Classification) safety.Classification {
	switch {
	case lexical.Action.Severity() > similar.Action.Severity():
		return lexical
	case similar.Action.Severity() > lexical.Action.Severity():
		return similar
	}
	if similar.RiskLevel.Severity() > lexical.RiskLevel.Severity() {
		return similar
	}
	if similar.RiskLevel.Severity() == lexical.RiskLevel.Severity() &&
		len(similar.Categories) > len(lexical.Categories) {
		return similar
	}
	return lexical
}

// IsBoundaryLocked reports whether the session's safety lockout is active.
func (r *Resolver) IsBoundaryLocked(session chatmodel.Session) bool {
	return session.BoundaryLocked()
}
