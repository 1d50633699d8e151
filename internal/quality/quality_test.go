package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archival/canonicalize/internal/model"
)

func TestAssessOCRQualityRange(t *testing.T) {
	a := New(DefaultWeights)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10)
	res := a.Assess(text)
	assert.GreaterOrEqual(t, res.OCRQuality, 0.0)
	assert.LessOrEqual(t, res.OCRQuality, 1.0)
}

// S2: a clean sentence should score higher OCR quality than its OCR-corrupted variant.
func TestAssessHigherQualityForCleanText(t *testing.T) {
	a := New(DefaultWeights)
	clean := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)
	corrupted := strings.Repeat("The quick brovvn fox jumps over the 1azy dog. ", 10)

	cleanRes := a.Assess(clean)
	corruptRes := a.Assess(corrupted)
	assert.GreaterOrEqual(t, cleanRes.OCRQuality, corruptRes.OCRQuality)
}

func TestAssessNeutralBelowMinTokens(t *testing.T) {
	a := New(DefaultWeights)
	res := a.Assess("too short")
	// word_score is neutral (0.5) below 50 tokens; with zero corruption and
	// perfect line score the overall should land near the word-score weight's
	// contribution plus the other two perfect terms.
	expected := DefaultWeights.Word*neutralWordScore + DefaultWeights.Corruption*1.0 + DefaultWeights.Line*1.0
	assert.InDelta(t, expected, res.OCRQuality, 1e-9)
}

func TestHasRedactionsThreshold(t *testing.T) {
	a := New(DefaultWeights)
	noRedactions := a.Assess("a perfectly normal document with no markers at all, repeated. " + strings.Repeat("word ", 60))
	assert.False(t, noRedactions.HasRedactions)

	redacted := a.Assess("Name: [REDACTED] lives at [REDACTED] and works for [REDACTED]. " + strings.Repeat("word ", 60))
	assert.True(t, redacted.HasRedactions)
	assert.GreaterOrEqual(t, redacted.RedactionCount, 3)
}

func TestHasRedactionsBlockCharacterRun(t *testing.T) {
	a := New(DefaultWeights)
	text := "Account holder: ███ and also ███ and finally ███ are redacted."
	res := a.Assess(text)
	assert.True(t, res.HasRedactions)
}

func TestClassifyCompletenessFragment(t *testing.T) {
	assert.Equal(t, model.CompletenessFragment, classifyCompleteness("short text"))
}

func TestClassifyCompletenessTruncationMarker(t *testing.T) {
	text := strings.Repeat("padding to exceed the fragment threshold. ", 10) + "[continued]"
	assert.Equal(t, model.CompletenessFragment, classifyCompleteness(text))
}

func TestClassifyCompletenessPartialOnPageGap(t *testing.T) {
	text := strings.Repeat("x", 250) + " Page 1 of 5 " + strings.Repeat("y", 10) + " Page 4 of 5"
	assert.Equal(t, model.CompletenessPartial, classifyCompleteness(text))
}

func TestClassifyCompletenessCompleteNoGap(t *testing.T) {
	text := strings.Repeat("x", 250) + " Page 1 of 2 " + strings.Repeat("y", 10) + " Page 2 of 2"
	assert.Equal(t, model.CompletenessComplete, classifyCompleteness(text))
}

func TestCorruptionScoreReplacementChar(t *testing.T) {
	a := New(DefaultWeights)
	score, rate := a.corruptionScore("clean text ��� more clean text")
	assert.Greater(t, rate, 0.0)
	assert.Less(t, score, 1.0)
}

func TestCorruptionScoreCleanText(t *testing.T) {
	a := New(DefaultWeights)
	score, rate := a.corruptionScore("perfectly clean ascii text")
	assert.Equal(t, 0.0, rate)
	assert.Equal(t, 1.0, score)
}

func TestIsLexicallyValid(t *testing.T) {
	assert.True(t, isLexicallyValid("hello"))
	assert.True(t, isLexicallyValid("the"))
	assert.False(t, isLexicallyValid("xqzjk"))
	assert.False(t, isLexicallyValid(""))
}

func TestWordScoreEmptyText(t *testing.T) {
	a := New(DefaultWeights)
	assert.Equal(t, neutralWordScore, a.wordScore(""))
}
