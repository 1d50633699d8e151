package dedup

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archival/canonicalize/internal/model"
	"github.com/archival/canonicalize/internal/store"
)

func newTestDedup(t *testing.T) (*Deduplicator, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := Config{FuzzyThreshold: 0.85, MetadataThreshold: 0.90, PartialMin: 0.10, PartialMax: 0.90}
	return New(store.NewFromDB(db, nil), cfg, nil), db, mock
}

// S1: an exact binary duplicate (same file_hash) attaches to the existing
// canonical via strategy 1, with no partial overlap pass (no page hashes).
func TestClassifyExactFileHashMatch(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE file_hash = \$1`).
		WithArgs("filehash1").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-1"))
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE content_hash = \$1`).
		WithArgs("contenthash1").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-1"))

	in := Incoming{Hashes: model.HashSet{FileHash: "filehash1", ContentHash: "contenthash1"}}
	res, err := d.Classify(context.Background(), db, in)
	require.NoError(t, err)
	assert.Equal(t, "canon-1", res.CanonicalID)
	require.Len(t, res.DuplicateRows, 1)
	assert.Equal(t, model.DuplicateExact, res.DuplicateRows[0].DuplicateType)
	assert.Equal(t, model.MethodFileHash, res.DuplicateRows[0].DetectionMethod)
	assert.False(t, res.ReviewNeeded)
}

// file_hash and content_hash disagreeing on which canonical they match
// should be impossible and is flagged for review, preferring content_hash.
func TestClassifyHashMismatchFlagsReview(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE file_hash = \$1`).
		WithArgs("filehash1").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-a"))
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE content_hash = \$1`).
		WithArgs("contenthash1").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-b"))

	in := Incoming{Hashes: model.HashSet{FileHash: "filehash1", ContentHash: "contenthash1"}}
	res, err := d.Classify(context.Background(), db, in)
	require.NoError(t, err)
	assert.Equal(t, "canon-b", res.CanonicalID)
	assert.True(t, res.ReviewNeeded)
	assert.Contains(t, res.ReviewReason, "canon-a")
	assert.Contains(t, res.ReviewReason, "canon-b")
}

// No match on any strategy: a brand-new canonical keyed by content_hash.
func TestClassifyNoMatchCreatesNew(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE file_hash = \$1`).
		WithArgs("filehash1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE content_hash = \$1`).
		WithArgs("contenthash1").
		WillReturnError(sql.ErrNoRows)
	// FuzzyHash is empty, so BlockPrefix("") short-circuits tryFuzzy before
	// any query is issued.

	in := Incoming{Hashes: model.HashSet{FileHash: "filehash1", ContentHash: "contenthash1"}}
	res, err := d.Classify(context.Background(), db, in)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "contenthash1", res.CanonicalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// S3: with fuzzy skipped, an email whose metadata signature hits attaches
// via the metadata strategy at the configured similarity.
func TestClassifyMetadataMatchWithSkipFuzzy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := Config{FuzzyThreshold: 0.90, MetadataThreshold: 0.95, PartialMin: 0.10, PartialMax: 0.90, SkipFuzzy: true}
	d := New(store.NewFromDB(db, nil), cfg, nil)

	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE file_hash = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE content_hash = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE metadata_sig = \$1`).
		WithArgs("a@x|b@y||epstein").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("meta-canon"))

	in := Incoming{
		Hashes: model.HashSet{FileHash: "fh", ContentHash: "ch"},
		Metadata: model.MetadataRecord{
			DocumentType: model.DocumentTypeEmail,
			Email:        &model.EmailFields{From: "a@x", To: []string{"b@y"}, Subject: "Re: Epstein"},
		},
	}
	res, err := d.Classify(context.Background(), db, in)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "meta-canon", res.CanonicalID)
	require.Len(t, res.DuplicateRows, 1)
	assert.Equal(t, model.DuplicateMetadata, res.DuplicateRows[0].DuplicateType)
	assert.Equal(t, model.MethodMetadataSig, res.DuplicateRows[0].DetectionMethod)
	assert.InDelta(t, 0.95, res.DuplicateRows[0].SimilarityScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// When both metadata and fuzzy strategies match, fuzzy wins once its
// similarity exceeds 0.95. An identical fuzzy hash scores 1.0.
func TestClassifyFuzzyBeatsMetadataAboveCutoff(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE file_hash = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE content_hash = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT canonical_id FROM canonical_documents WHERE metadata_sig = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("meta-canon"))
	mock.ExpectQuery(`SELECT canonical_id, fuzzy_hash, text_sample FROM canonical_documents`).
		WithArgs("3:abc%").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id", "fuzzy_hash", "text_sample"}).
			AddRow("fuzzy-canon", "3:abcdef:ghijkl", "shared sample"))

	in := Incoming{
		Hashes: model.HashSet{FileHash: "fh", ContentHash: "ch", FuzzyHash: "3:abcdef:ghijkl"},
		Metadata: model.MetadataRecord{
			DocumentType: model.DocumentTypeEmail,
			Email:        &model.EmailFields{From: "a@x", To: []string{"b@y"}, Subject: "Re: Epstein"},
		},
	}
	res, err := d.Classify(context.Background(), db, in)
	require.NoError(t, err)
	assert.Equal(t, "fuzzy-canon", res.CanonicalID)
	require.Len(t, res.DuplicateRows, 1)
	assert.Equal(t, model.DuplicateFuzzy, res.DuplicateRows[0].DuplicateType)
	assert.InDelta(t, 1.0, res.DuplicateRows[0].SimilarityScore, 1e-9)
}

func TestPartialOverlapsNoPageHashesShortCircuits(t *testing.T) {
	d, db, mock := newTestDedup(t)
	in := Incoming{}
	overlaps, err := d.partialOverlaps(context.Background(), db, in, "canon-1")
	require.NoError(t, err)
	assert.Nil(t, overlaps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A partial overlap row is only written when the overlap percentage on at
// least one side is strictly between PartialMin and PartialMax.
func TestPartialOverlapsRespectsBounds(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT DISTINCT canonical_id FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("other-canon"))
	mock.ExpectQuery(`SELECT per_page_hashes FROM canonical_documents WHERE canonical_id = \$1`).
		WithArgs("other-canon").
		WillReturnRows(sqlmock.NewRows([]string{"per_page_hashes"}).AddRow(`{p1,p2,p3,p4,p5,p6,p7,p8,p9,p10}`))

	in := Incoming{Hashes: model.HashSet{PerPageHashes: []string{"p1"}}}
	overlaps, err := d.partialOverlaps(context.Background(), db, in, "this-canon")
	require.NoError(t, err)
	// 1 shared page out of 1 incoming => overlapA = 1.0, outside (0.10,0.90);
	// 1 shared out of 10 other pages => overlapB = 0.10, not strictly greater
	// than PartialMin, so no row should be written.
	assert.Empty(t, overlaps)
}

// S4: doc A has pages [h1..h5], incoming doc B has [h4,h5,h6,h7]. The pair
// shares 2 pages: 0.5 of B, 0.4 of A, both inside the recording bounds.
func TestPartialOverlapsScenarioS4(t *testing.T) {
	d, db, mock := newTestDedup(t)

	mock.ExpectQuery(`SELECT DISTINCT canonical_id FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-a"))
	mock.ExpectQuery(`SELECT per_page_hashes FROM canonical_documents WHERE canonical_id = \$1`).
		WithArgs("canon-a").
		WillReturnRows(sqlmock.NewRows([]string{"per_page_hashes"}).AddRow(`{h1,h2,h3,h4,h5}`))

	in := Incoming{Hashes: model.HashSet{PerPageHashes: []string{"h4", "h5", "h6", "h7"}}}
	overlaps, err := d.partialOverlaps(context.Background(), db, in, "canon-b")
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	o := overlaps[0]
	assert.Equal(t, "canon-b", o.DocAID)
	assert.Equal(t, "canon-a", o.DocBID)
	assert.InDelta(t, 0.5, o.OverlapPercentageA, 1e-9)
	assert.InDelta(t, 0.4, o.OverlapPercentageB, 1e-9)
	assert.Equal(t, "1-2", o.PagesA)
	assert.Equal(t, "4-5", o.PagesB)
}

func TestSharedPageRangesCompressesRuns(t *testing.T) {
	shared := map[string]bool{"a": true, "b": true, "d": true}
	assert.Equal(t, "1-2,4", sharedPageRanges([]string{"a", "b", "c", "d"}, shared))
	assert.Equal(t, "", sharedPageRanges([]string{"x", "y"}, shared))
}

func TestToSet(t *testing.T) {
	s := toSet([]string{"a", "b", "a"})
	assert.True(t, s["a"])
	assert.True(t, s["b"])
	assert.Len(t, s, 2)
}
