// Package quality implements the quality assessor: scoring OCR quality,
// redaction presence, and completeness from extracted text. The
// weighted-component shape follows
// other_examples/.../classifier-internal-classifier-quality.go's
// QualityScorer.Score (several [0,1] factors combined with configured
// weights into one total).
package quality

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/archival/canonicalize/internal/model"
)

// Weights are the three component weights of the ocr_quality formula,
// documented in config (config.QualityWeights) so they can be tuned
// without a code change.
type Weights struct {
	Word       float64
	Corruption float64
	Line       float64
}

// DefaultWeights weighs lexical word validity heaviest, then corruption,
// then line-break health.
var DefaultWeights = Weights{Word: 0.5, Corruption: 0.3, Line: 0.2}

// Assessor scores extracted text.
type Assessor struct {
	weights Weights
}

// New builds an Assessor with the given weights.
func New(weights Weights) *Assessor {
	return &Assessor{weights: weights}
}

const neutralWordScore = 0.5
const minTokensForWordScore = 50

// commonWords is a small builtin stopword/common-word table used as a
// lightweight lexical-validity check in place of a full dictionary file;
// the retrieval pack ships no English wordlist dependency (recorded in
// DESIGN.md as a standard-library justification).
var commonWords = buildCommonWords()

func buildCommonWords() map[string]bool {
	words := []string{
		"the", "a", "an", "and", "or", "but", "if", "then", "else", "of",
		"to", "in", "on", "at", "by", "for", "with", "about", "against",
		"between", "into", "through", "during", "before", "after", "above",
		"below", "from", "up", "down", "out", "off", "over", "under",
		"again", "further", "is", "are", "was", "were", "be", "been",
		"being", "have", "has", "had", "having", "do", "does", "did",
		"doing", "will", "would", "should", "can", "could", "may", "might",
		"must", "shall", "this", "that", "these", "those", "i", "you",
		"he", "she", "it", "we", "they", "his", "her", "its", "our",
		"their", "not", "no", "yes", "as", "so", "than", "too", "very",
		"just", "also", "all", "any", "each", "other", "such", "only",
		"own", "same", "dear", "sincerely", "regards", "please", "court",
		"case", "date", "subject", "re", "from", "attachment",
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

var tokenSplitter = func(r rune) bool {
	return unicode.IsSpace(r)
}

// Assess scores extracted text into an overall OCR quality plus
// redaction/completeness signals.
func (a *Assessor) Assess(text string) model.QualityAssessment {
	wordScore := a.wordScore(text)
	corruptionScore, mojibakeRate := a.corruptionScore(text)
	lineScore := a.lineScore(text)

	ocr := a.weights.Word*wordScore + a.weights.Corruption*corruptionScore + a.weights.Line*lineScore
	if ocr < 0 {
		ocr = 0
	}
	if ocr > 1 {
		ocr = 1
	}

	redactionCount := countRedactionMarkers(text)
	completeness := classifyCompleteness(text)

	return model.QualityAssessment{
		OCRQuality:     ocr,
		HasRedactions:  redactionCount >= 3,
		RedactionCount: redactionCount,
		Completeness:   completeness,
		MojibakeRate:   mojibakeRate,
	}
}

// wordScore is the fraction of tokenize's tokens present in the
// common-word/lexical-validity table. Those are prose tokens, not
// whitespace-delimited ones: punctuation marks come out as tokens of their
// own and never count as valid. Below minTokensForWordScore tokens
// there isn't enough signal to trust the ratio, so the score is neutral.
func (a *Assessor) wordScore(text string) float64 {
	tokens := tokenize(text)
	if len(tokens) < minTokensForWordScore {
		return neutralWordScore
	}
	valid := 0
	for _, tok := range tokens {
		if isLexicallyValid(tok) {
			valid++
		}
	}
	return float64(valid) / float64(len(tokens))
}

// tokenize uses prose for whitespace/punctuation-aware tokenization, the
// same lightweight prose.NewDocument(..., prose.WithTagging(false)) call
// web/services/pdf_service.go uses.
func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false))
	if err != nil {
		return strings.FieldsFunc(text, tokenSplitter)
	}
	var tokens []string
	for _, tok := range doc.Tokens() {
		t := strings.TrimSpace(tok.Text)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return strings.FieldsFunc(text, tokenSplitter)
	}
	return tokens
}

func isLexicallyValid(token string) bool {
	lower := strings.ToLower(strings.Trim(token, ".,;:!?\"'()[]{}"))
	if lower == "" {
		return false
	}
	if commonWords[lower] {
		return true
	}
	letters, vowels := 0, 0
	for _, r := range lower {
		if unicode.IsLetter(r) {
			letters++
			switch r {
			case 'a', 'e', 'i', 'o', 'u':
				vowels++
			}
		}
	}
	if letters == 0 {
		return false
	}
	ratio := float64(letters) / float64(len([]rune(lower)))
	if ratio < 0.6 {
		return false
	}
	if letters >= 3 && vowels == 0 {
		return false
	}
	return len([]rune(lower)) >= 2 && len([]rune(lower)) <= 20
}

// corruptionScore returns 1 - mojibake_rate, where mojibake is detected by
// the Unicode replacement character, isolated control characters, or
// high-entropy non-letter runs.
func (a *Assessor) corruptionScore(text string) (score float64, mojibakeRate float64) {
	runes := []rune(text)
	if len(runes) == 0 {
		return 1.0, 0.0
	}
	bad := 0
	nonLetterRun := 0
	for _, r := range runes {
		isBad := r == '�' || (unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t')
		if isBad {
			bad++
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) && !unicode.IsDigit(r) && !unicode.IsPunct(r) {
			nonLetterRun++
			if nonLetterRun >= 6 {
				bad += nonLetterRun
				nonLetterRun = 0
			}
		} else {
			nonLetterRun = 0
		}
	}
	mojibakeRate = float64(bad) / float64(len(runes))
	if mojibakeRate > 1 {
		mojibakeRate = 1
	}
	return 1.0 - mojibakeRate, mojibakeRate
}

const maxPlausibleLineLength = 2000

// lineScore scores [0,1] from line-break statistics: 1 minus the ratio of
// lines longer than maxPlausibleLineLength runes, since absurdly long lines
// suggest missing line breaks. A text with no line breaks is one line and
// is penalized only when that line exceeds the limit.
func (a *Assessor) lineScore(text string) float64 {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return 0.0
	}
	implausible := 0
	for _, line := range lines {
		if len([]rune(line)) > maxPlausibleLineLength {
			implausible++
		}
	}
	ratio := float64(implausible) / float64(len(lines))
	score := 1.0 - ratio
	if score < 0 {
		score = 0
	}
	return score
}

var redactionBlockRun = []rune{'█', '▓', '▒'}

// countRedactionMarkers counts redaction-marker occurrences: consecutive
// block characters, runs of "[REDACTED]", and long runs of underscore or
// dash.
func countRedactionMarkers(text string) int {
	count := 0
	count += strings.Count(strings.ToUpper(text), "[REDACTED]")

	runeText := []rune(text)
	count += countRuneRuns(runeText, func(r rune) bool {
		for _, b := range redactionBlockRun {
			if r == b {
				return true
			}
		}
		return false
	}, 3)
	count += countRuneRuns(runeText, func(r rune) bool { return r == '_' }, 5)
	count += countRuneRuns(runeText, func(r rune) bool { return r == '-' }, 8)
	return count
}

// countRuneRuns counts maximal runs of length >= minRun satisfying match.
func countRuneRuns(runes []rune, match func(rune) bool, minRun int) int {
	count := 0
	run := 0
	for _, r := range runes {
		if match(r) {
			run++
		} else {
			if run >= minRun {
				count++
			}
			run = 0
		}
	}
	if run >= minRun {
		count++
	}
	return count
}

const fragmentCharThreshold = 200

var truncationMarkers = []string{
	"[continued]", "[truncated]", "(cont'd)", "(continued)", "...[more]",
	"page intentionally left blank",
}

// classifyCompleteness classifies text as fragment/partial/complete.
func classifyCompleteness(text string) model.Completeness {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < fragmentCharThreshold {
		return model.CompletenessFragment
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range truncationMarkers {
		if strings.Contains(lower, marker) {
			return model.CompletenessFragment
		}
	}
	if hasPageNumberGap(text) {
		return model.CompletenessPartial
	}
	return model.CompletenessComplete
}

var pageMarker = strings.NewReplacer("Page ", "", "page ", "", "PAGE ", "", "p. ", "")

// hasPageNumberGap looks for "Page N" / "Page N of M" markers and reports
// whether the observed sequence of page numbers has a gap.
func hasPageNumberGap(text string) bool {
	nums := extractPageNumbers(text)
	if len(nums) < 2 {
		return false
	}
	for i := 1; i < len(nums); i++ {
		if nums[i]-nums[i-1] > 1 {
			return true
		}
	}
	return false
}

func extractPageNumbers(text string) []int {
	var nums []int
	lower := strings.ToLower(text)
	idx := 0
	for {
		rel := strings.Index(lower[idx:], "page ")
		if rel < 0 {
			break
		}
		start := idx + rel + len("page ")
		end := start
		for end < len(lower) && lower[end] >= '0' && lower[end] <= '9' {
			end++
		}
		if end > start {
			n := 0
			for _, c := range lower[start:end] {
				n = n*10 + int(c-'0')
			}
			nums = append(nums, n)
		}
		idx = start + 1
		if idx >= len(lower) {
			break
		}
	}
	return nums
}
