// Package dedup implements the deduplicator: the four ordered
// duplicate-detection strategies (file hash, content hash, metadata
// signature, fuzzy match), the orthogonal partial-overlap pass, and their
// tie-break rules. The index-then-group shape follows
// other_examples/.../internal-integrity-duplicates.go's scanDuplicates
// (build a lookup index, then group); the weighted multi-factor fuzzy
// scoring follows
// other_examples/.../internal-eval_analyzer-dedup.go's calculateSimilarity.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/archival/canonicalize/internal/hasher"
	"github.com/archival/canonicalize/internal/metadata"
	"github.com/archival/canonicalize/internal/model"
	"github.com/archival/canonicalize/internal/store"
)

// Config holds the deduplicator's tunables.
type Config struct {
	FuzzyThreshold    float64
	MetadataThreshold float64
	PartialMin        float64
	PartialMax        float64
	SkipFuzzy         bool
}

// Deduplicator classifies incoming documents against the index.
type Deduplicator struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
}

// New builds a Deduplicator.
func New(s *store.Store, cfg Config, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{store: s, cfg: cfg, logger: logger}
}

// TextSampleLen bounds the normalized-text prefix compared by the
// sequence-ratio text_similarity signal: comparisons only ever look at the
// first 10,000 normalized characters of a document, keeping fuzzy matching
// cheap on large corpora.
const TextSampleLen = 10000

// Incoming is one file's hashed/extracted state, as produced by the
// Hasher, Metadata Extractor, and Quality Assessor.
type Incoming struct {
	Hashes     model.HashSet
	Metadata   model.MetadataRecord
	Quality    model.QualityAssessment
	Source     model.DocumentSource
	TextSample string // first TextSampleLen normalized characters, for fuzzy text_similarity
}

// execer mirrors store's transaction-or-db abstraction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Classify runs the duplicate-detection strategies in priority order: it
// returns the canonical_id to attach the incoming document to (creating a
// new one if no strategy matched) plus the duplicate/overlap rows to
// write. It does not write anything itself — the pipeline commits the
// returned rows inside its single-file transaction.
func (d *Deduplicator) Classify(ctx context.Context, q execer, in Incoming) (model.IngestResult, error) {
	result := model.IngestResult{}

	fileMatch, fileOK, err := d.store.LookupByFileHash(ctx, q, in.Hashes.FileHash)
	if err != nil {
		return d.fallbackToNew(ctx, q, in, err)
	}
	contentMatch, contentOK, err := d.store.LookupByContentHash(ctx, q, in.Hashes.ContentHash)
	if err != nil {
		return d.fallbackToNew(ctx, q, in, err)
	}

	switch {
	case fileOK && contentOK && fileMatch != contentMatch:
		// file_hash and content_hash disagreeing on which canonical they
		// belong to should be impossible given a canonical's one-to-one
		// mapping from content hash; treat it as corruption — prefer
		// content_hash and surface for manual review rather than guessing.
		result.CanonicalID = contentMatch
		result.ReviewNeeded = true
		result.ReviewReason = fmt.Sprintf("file_hash matched %s but content_hash matched %s", fileMatch, contentMatch)
		result.DuplicateRows = append(result.DuplicateRows, model.DuplicateGroup{
			CanonicalID: contentMatch, DuplicateType: model.DuplicateExact,
			SimilarityScore: 1.0, DetectionMethod: model.MethodContentHash,
		})
	case fileOK:
		result.CanonicalID = fileMatch
		result.DuplicateRows = append(result.DuplicateRows, model.DuplicateGroup{
			CanonicalID: fileMatch, DuplicateType: model.DuplicateExact,
			SimilarityScore: 1.0, DetectionMethod: model.MethodFileHash,
		})
	case contentOK:
		result.CanonicalID = contentMatch
		result.DuplicateRows = append(result.DuplicateRows, model.DuplicateGroup{
			CanonicalID: contentMatch, DuplicateType: model.DuplicateExact,
			SimilarityScore: 1.0, DetectionMethod: model.MethodContentHash,
		})
	default:
		matchResult, matched, err := d.tryMetadataAndFuzzy(ctx, q, in)
		if err != nil {
			return d.fallbackToNew(ctx, q, in, err)
		}
		if matched {
			result = matchResult
		} else {
			// canonical_id is derived from content_hash, so it is already
			// known even though the row doesn't exist yet; this lets
			// partialOverlaps below reference it as doc_a_id.
			result.Created = true
			result.CanonicalID = in.Hashes.ContentHash
		}
	}

	overlaps, err := d.partialOverlaps(ctx, q, in, result.CanonicalID)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("partial overlap detection failed", zap.Error(err))
		}
	} else {
		result.OverlapRows = overlaps
	}

	return result, nil
}

// fallbackToNew handles a failure inside candidate fetching: it is logged
// and the document is treated as non-matching (a new canonical) rather
// than dropped, so one bad lookup doesn't stall the whole run.
func (d *Deduplicator) fallbackToNew(ctx context.Context, q execer, in Incoming, cause error) (model.IngestResult, error) {
	if d.logger != nil {
		d.logger.Warn("deduplication candidate lookup failed, treating as new canonical", zap.Error(cause))
	}
	overlaps, _ := d.partialOverlaps(ctx, q, in, in.Hashes.ContentHash)
	return model.IngestResult{Created: true, CanonicalID: in.Hashes.ContentHash, OverlapRows: overlaps}, nil
}

// tryMetadataAndFuzzy runs the metadata-signature and fuzzy-match
// strategies, applying the tie-break: when both apply, prefer fuzzy once
// its similarity exceeds 0.95, otherwise prefer the metadata match.
func (d *Deduplicator) tryMetadataAndFuzzy(ctx context.Context, q execer, in Incoming) (model.IngestResult, bool, error) {
	var metaResult *model.IngestResult
	if in.Metadata.DocumentType == model.DocumentTypeEmail && in.Metadata.Email != nil {
		if sig, ok := metadata.MetadataSignature(in.Metadata.Email); ok {
			canonicalID, found, err := d.store.LookupByMetadataSig(ctx, q, sig)
			if err != nil {
				return model.IngestResult{}, false, err
			}
			if found {
				metaResult = &model.IngestResult{
					CanonicalID: canonicalID,
					DuplicateRows: []model.DuplicateGroup{{
						CanonicalID: canonicalID, DuplicateType: model.DuplicateMetadata,
						SimilarityScore: d.cfg.MetadataThreshold, DetectionMethod: model.MethodMetadataSig,
					}},
				}
			}
		}
	}

	if d.cfg.SkipFuzzy {
		if metaResult != nil {
			return *metaResult, true, nil
		}
		return model.IngestResult{}, false, nil
	}

	fuzzyResult, fuzzyScore, fuzzyFound, err := d.tryFuzzy(ctx, q, in)
	if err != nil {
		return model.IngestResult{}, false, err
	}

	switch {
	case fuzzyFound && metaResult != nil:
		if fuzzyScore > 0.95 {
			return fuzzyResult, true, nil
		}
		return *metaResult, true, nil
	case fuzzyFound:
		return fuzzyResult, true, nil
	case metaResult != nil:
		return *metaResult, true, nil
	default:
		return model.IngestResult{}, false, nil
	}
}

// tryFuzzy compares the incoming fuzzy hash against prefix-filtered
// candidates, taking max(fuzzy_score, text_similarity) per candidate and
// the overall best candidate if it clears the threshold (inclusive).
func (d *Deduplicator) tryFuzzy(ctx context.Context, q execer, in Incoming) (model.IngestResult, float64, bool, error) {
	prefix := hasher.BlockPrefix(in.Hashes.FuzzyHash)
	candidates, err := d.store.CandidatesForFuzzy(ctx, q, prefix)
	if err != nil {
		return model.IngestResult{}, 0, false, err
	}
	// Candidates already come back canonical_id-ordered from the store;
	// re-sort defensively so scoring order is deterministic regardless of
	// what the query planner did (design note: forbid non-deterministic
	// iteration order affecting outputs).
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CanonicalID < candidates[j].CanonicalID })

	bestScore := 0.0
	bestCanonical := ""
	bestMethod := model.MethodFuzzyHash

	for _, c := range candidates {
		fuzzyScore := 0.0
		if n, cmpErr := hasher.CompareFuzzy(in.Hashes.FuzzyHash, c.FuzzyHash); cmpErr == nil {
			fuzzyScore = float64(n) / 100.0
		}
		textScore := 0.0
		if in.TextSample != "" && c.TextSample != "" {
			textScore = hasher.SequenceRatio(in.TextSample, c.TextSample)
		}
		score := fuzzyScore
		method := model.MethodFuzzyHash
		if textScore > score {
			score = textScore
			method = model.MethodTextDiff
		}
		if score > bestScore {
			bestScore = score
			bestCanonical = c.CanonicalID
			bestMethod = method
		}
	}

	if bestScore >= d.cfg.FuzzyThreshold {
		return model.IngestResult{
			CanonicalID: bestCanonical,
			DuplicateRows: []model.DuplicateGroup{{
				CanonicalID: bestCanonical, DuplicateType: model.DuplicateFuzzy,
				SimilarityScore: bestScore, DetectionMethod: bestMethod,
			}},
		}, bestScore, true, nil
	}
	return model.IngestResult{}, bestScore, false, nil
}

// partialOverlaps runs independently of the duplicate-detection strategies
// above: it compares per-page hashes of the incoming document against
// every candidate canonical sharing >= 1 page hash, returning a row for any
// pair with either overlap percentage strictly between PartialMin and
// PartialMax.
func (d *Deduplicator) partialOverlaps(ctx context.Context, q execer, in Incoming, attachedTo string) ([]model.PartialOverlap, error) {
	if len(in.Hashes.PerPageHashes) == 0 {
		return nil, nil
	}
	candidates, err := d.store.CandidatesForPageOverlap(ctx, q, in.Hashes.PerPageHashes, attachedTo)
	if err != nil {
		return nil, err
	}
	sort.Strings(candidates)

	var overlaps []model.PartialOverlap
	incomingSet := toSet(in.Hashes.PerPageHashes)

	for _, candidateID := range candidates {
		otherPages, err := d.store.GetPerPageHashes(ctx, q, candidateID)
		if err != nil {
			continue
		}
		otherSet := toSet(otherPages)
		shared := make(map[string]bool)
		for h := range incomingSet {
			if otherSet[h] {
				shared[h] = true
			}
		}
		if len(shared) == 0 {
			continue
		}
		overlapA := float64(len(shared)) / float64(len(incomingSet))
		overlapB := float64(len(shared)) / float64(len(otherSet))
		if (overlapA > d.cfg.PartialMin && overlapA < d.cfg.PartialMax) ||
			(overlapB > d.cfg.PartialMin && overlapB < d.cfg.PartialMax) {
			overlaps = append(overlaps, model.PartialOverlap{
				DocAID: attachedTo, DocBID: candidateID,
				OverlapPercentageA: overlapA, OverlapPercentageB: overlapB,
				PagesA: sharedPageRanges(in.Hashes.PerPageHashes, shared),
				PagesB: sharedPageRanges(otherPages, shared),
			})
		}
	}
	return overlaps, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// sharedPageRanges formats the 1-based page positions whose hashes fall in
// the shared set as a compact range string, e.g. "4-5" or "1-2,7".
func sharedPageRanges(pages []string, shared map[string]bool) string {
	var idx []int
	for i, h := range pages {
		if shared[h] {
			idx = append(idx, i+1)
		}
	}
	if len(idx) == 0 {
		return ""
	}
	var parts []string
	start, prev := idx[0], idx[0]
	for _, p := range idx[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		parts = append(parts, pageRange(start, prev))
		start, prev = p, p
	}
	parts = append(parts, pageRange(start, prev))
	return strings.Join(parts, ",")
}

func pageRange(a, b int) string {
	if a == b {
		return strconv.Itoa(a)
	}
	return strconv.Itoa(a) + "-" + strconv.Itoa(b)
}
