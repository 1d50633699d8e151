// Package selector implements the canonical selector: scoring the sources
// attached to a canonical document and deterministically picking the
// primary. The weighted-sum-of-components style follows
// rag/stat_metadata.go's scoring helpers and
// other_examples/.../internal-integrity-duplicates.go's
// selectDocumentToKeep strategy-switch shape.
package selector

import (
	"fmt"
	"sort"

	"github.com/archival/canonicalize/internal/model"
)

// Weights are the five canonical-selector scoring weights.
type Weights struct {
	OCRQuality   float64
	Redactions   float64
	Completeness float64
	Authority    float64
	FileQuality  float64
}

// DefaultWeights gives OCR quality the largest share of the score, followed
// by redactions and completeness, with authority and raw file quality as
// minor tie-breaking factors.
var DefaultWeights = Weights{OCRQuality: 0.40, Redactions: 0.25, Completeness: 0.20, Authority: 0.10, FileQuality: 0.05}

// tieEpsilon treats scores within 1e-6 of each other as tied, falling
// through to the deterministic tie-break rules below.
const tieEpsilon = 1e-6

// Selector scores and picks primary sources.
type Selector struct {
	weights Weights
}

// New builds a Selector.
func New(weights Weights) *Selector {
	return &Selector{weights: weights}
}

// Candidate is one source plus the redaction count and quality needed to
// score it (the selector does not re-run the quality assessor; the caller
// supplies what was computed when the source was hashed).
type Candidate struct {
	Source         model.DocumentSource
	OCRQuality     float64
	HasRedactions  bool
	RedactionCount int
	Completeness   model.Completeness
}

// Score computes the weighted selection score for one candidate.
func (s *Selector) Score(c Candidate) float64 {
	redactionTerm := 1.0
	if c.HasRedactions {
		redactionTerm = 1.0 - 0.2*float64(c.RedactionCount)
		if redactionTerm < 0 {
			redactionTerm = 0
		}
	}

	completenessTerm := 0.0
	switch c.Completeness {
	case model.CompletenessComplete:
		completenessTerm = 1.0
	case model.CompletenessPartial:
		completenessTerm = 0.5
	case model.CompletenessFragment:
		completenessTerm = 0.0
	}

	return s.weights.OCRQuality*c.OCRQuality +
		s.weights.Redactions*redactionTerm +
		s.weights.Completeness*completenessTerm +
		s.weights.Authority*model.AuthorityWeight(c.Source.Authority) +
		s.weights.FileQuality*c.Source.QualityScore
}

// Selection is the chosen primary plus the human-readable reason.
type Selection struct {
	Source model.DocumentSource
	Score  float64
	Reason string
}

// SelectPrimary picks the argmax of Score across candidates, applying a
// deterministic tie-break: higher authority bucket, then larger file_size,
// then lexicographically smallest source_name. SelectPrimary is pure and
// deterministic: given the same multiset of candidates it always returns
// the same source and reason, regardless of input order — candidates are
// sorted onto a total order before comparing.
func (s *Selector) SelectPrimary(candidates []Candidate) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("selector: no candidates")
	}

	type scored struct {
		candidate Candidate
		score     float64
	}
	scoredList := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredList[i] = scored{candidate: c, score: s.Score(c)}
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		a, b := scoredList[i], scoredList[j]
		if diff := a.score - b.score; diff > tieEpsilon || diff < -tieEpsilon {
			return a.score > b.score
		}
		// Tied within epsilon: authority bucket desc, file_size desc,
		// source_name asc.
		ra, rb := model.AuthorityRank(a.candidate.Source.Authority), model.AuthorityRank(b.candidate.Source.Authority)
		if ra != rb {
			return ra > rb
		}
		if a.candidate.Source.FileSize != b.candidate.Source.FileSize {
			return a.candidate.Source.FileSize > b.candidate.Source.FileSize
		}
		return a.candidate.Source.SourceName < b.candidate.Source.SourceName
	})

	best := scoredList[0]
	return Selection{
		Source: best.candidate.Source,
		Score:  best.score,
		Reason: reasonFor(best.candidate),
	}, nil
}

// reasonFor builds a human-readable selection_reason mirroring the factors
// a reader would check: redactions, completeness, OCR quality, authority.
func reasonFor(c Candidate) string {
	var parts []string
	if c.HasRedactions {
		parts = append(parts, fmt.Sprintf("Has %d redaction marker(s)", c.RedactionCount))
	} else {
		parts = append(parts, "No redactions")
	}
	switch c.Completeness {
	case model.CompletenessComplete:
		parts = append(parts, "Complete document")
	case model.CompletenessPartial:
		parts = append(parts, "Partially complete document")
	case model.CompletenessFragment:
		parts = append(parts, "Document is a fragment")
	}
	switch {
	case c.OCRQuality >= 0.85:
		parts = append(parts, "High OCR quality")
	case c.OCRQuality >= 0.6:
		parts = append(parts, "Moderate OCR quality")
	default:
		parts = append(parts, "Low OCR quality")
	}
	parts = append(parts, fmt.Sprintf("Source authority: %s", c.Source.Authority))

	reason := parts[0]
	for _, p := range parts[1:] {
		reason += "; " + p
	}
	return reason
}
