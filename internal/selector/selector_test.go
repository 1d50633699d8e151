package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archival/canonicalize/internal/model"
)

// S5: src_high must win over src_low, with the reason naming no redactions,
// completeness, and high OCR quality.
func TestSelectPrimaryScenarioS5(t *testing.T) {
	s := New(DefaultWeights)

	srcLow := Candidate{
		Source:         model.DocumentSource{SourceName: "src_low", Authority: model.AuthorityMedia, FileSize: 1000},
		OCRQuality:     0.72,
		HasRedactions:  true,
		RedactionCount: 4,
		Completeness:   model.CompletenessPartial,
	}
	srcHigh := Candidate{
		Source:         model.DocumentSource{SourceName: "src_high", Authority: model.AuthorityGovernmentFOIA, FileSize: 2000},
		OCRQuality:     0.95,
		HasRedactions:  false,
		Completeness:   model.CompletenessComplete,
	}

	sel, err := s.SelectPrimary([]Candidate{srcLow, srcHigh})
	require.NoError(t, err)
	assert.Equal(t, "src_high", sel.Source.SourceName)
	assert.Contains(t, sel.Reason, "No redactions")
	assert.Contains(t, sel.Reason, "Complete document")
	assert.Contains(t, sel.Reason, "High OCR quality")
}

func TestScoreFormula(t *testing.T) {
	s := New(DefaultWeights)
	c := Candidate{
		Source:         model.DocumentSource{Authority: model.AuthorityGovernmentFOIA, QualityScore: 0.8},
		OCRQuality:     1.0,
		HasRedactions:  true,
		RedactionCount: 1,
		Completeness:   model.CompletenessComplete,
	}
	want := DefaultWeights.OCRQuality*1.0 +
		DefaultWeights.Redactions*0.8 +
		DefaultWeights.Completeness*1.0 +
		DefaultWeights.Authority*model.AuthorityWeight(model.AuthorityGovernmentFOIA) +
		DefaultWeights.FileQuality*0.8
	assert.InDelta(t, want, s.Score(c), 1e-9)
}

func TestScoreRedactionTermFloorsAtZero(t *testing.T) {
	s := New(DefaultWeights)
	c := Candidate{HasRedactions: true, RedactionCount: 100}
	score := s.Score(c)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestSelectPrimaryNoCandidates(t *testing.T) {
	s := New(DefaultWeights)
	_, err := s.SelectPrimary(nil)
	assert.Error(t, err)
}

// Selection is invariant to input order and, for ties, to the multiset's
// arrangement — only the deterministic tie-break order matters.
func TestSelectPrimaryDeterministicAcrossOrderings(t *testing.T) {
	s := New(DefaultWeights)
	base := []Candidate{
		{Source: model.DocumentSource{SourceName: "b", Authority: model.AuthorityMedia, FileSize: 500}, OCRQuality: 0.5},
		{Source: model.DocumentSource{SourceName: "a", Authority: model.AuthorityMedia, FileSize: 500}, OCRQuality: 0.5},
		{Source: model.DocumentSource{SourceName: "c", Authority: model.AuthorityGovernmentFOIA, FileSize: 100}, OCRQuality: 0.5},
	}

	first, err := s.SelectPrimary(base)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		shuffled := append([]Candidate(nil), base...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		sel, err := s.SelectPrimary(shuffled)
		require.NoError(t, err)
		assert.Equal(t, first.Source.SourceName, sel.Source.SourceName)
	}
}

func TestSelectPrimaryTieBreakOnFileSizeThenName(t *testing.T) {
	s := New(DefaultWeights)
	candidates := []Candidate{
		{Source: model.DocumentSource{SourceName: "zeta", Authority: model.AuthorityMedia, FileSize: 200}, OCRQuality: 0.5},
		{Source: model.DocumentSource{SourceName: "alpha", Authority: model.AuthorityMedia, FileSize: 100}, OCRQuality: 0.5},
	}
	sel, err := s.SelectPrimary(candidates)
	require.NoError(t, err)
	assert.Equal(t, "zeta", sel.Source.SourceName, "larger file_size should win the tie")
}

func TestSelectPrimaryTieBreakOnNameWhenEverythingElseEqual(t *testing.T) {
	s := New(DefaultWeights)
	candidates := []Candidate{
		{Source: model.DocumentSource{SourceName: "zzz", Authority: model.AuthorityMedia, FileSize: 100}, OCRQuality: 0.5},
		{Source: model.DocumentSource{SourceName: "aaa", Authority: model.AuthorityMedia, FileSize: 100}, OCRQuality: 0.5},
	}
	sel, err := s.SelectPrimary(candidates)
	require.NoError(t, err)
	assert.Equal(t, "aaa", sel.Source.SourceName)
}

func TestReasonForLowQuality(t *testing.T) {
	c := Candidate{
		Source:       model.DocumentSource{Authority: model.AuthorityMedia},
		OCRQuality:   0.3,
		Completeness: model.CompletenessFragment,
	}
	reason := reasonFor(c)
	assert.Contains(t, reason, "Low OCR quality")
	assert.Contains(t, reason, "Document is a fragment")
}
