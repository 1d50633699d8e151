package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archival/canonicalize/internal/model"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db, nil), mock
}

func TestLookupByFileHashCacheMiss(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT canonical_id FROM canonical_documents WHERE file_hash = $1 LIMIT 1`)).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id"}).AddRow("canon-1"))

	id, ok, err := s.LookupByFileHash(context.Background(), s.db, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "canon-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByFileHashCacheHitSkipsQuery(t *testing.T) {
	s, mock := newTestStore(t)
	s.fileCache.Add("abc", "canon-1")

	id, ok, err := s.LookupByFileHash(context.Background(), s.db, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "canon-1", id)
	assert.NoError(t, mock.ExpectationsWereMet(), "cached lookup must not hit the DB")
}

func TestLookupByFileHashNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT canonical_id FROM canonical_documents WHERE file_hash = $1 LIMIT 1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := s.LookupByFileHash(context.Background(), s.db, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupByFileHashEmptyHashShortCircuits(t *testing.T) {
	s, mock := newTestStore(t)
	_, ok, err := s.LookupByFileHash(context.Background(), s.db, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCanonicalInvalidatesCache(t *testing.T) {
	s, mock := newTestStore(t)
	s.fileCache.Add("filehash1", "stale")
	s.contentCache.Add("contenthash1", "stale")

	mock.ExpectExec(`INSERT INTO canonical_documents`).WillReturnResult(sqlmock.NewResult(1, 1))

	row := NewCanonicalRow{
		CanonicalID: "contenthash1",
		Hashes:      model.HashSet{FileHash: "filehash1", ContentHash: "contenthash1"},
		Metadata:    model.MetadataRecord{DocumentType: model.DocumentTypeOther},
		Quality:     model.QualityAssessment{Completeness: model.CompletenessComplete},
	}
	err := s.CreateCanonical(context.Background(), s.db, row)
	require.NoError(t, err)

	_, ok := s.fileCache.Get("filehash1")
	assert.False(t, ok, "create must invalidate the stale cache entry")
	_, ok = s.contentCache.Get("contenthash1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachSourceConflictIsIdempotent(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO document_sources`).WillReturnError(sql.ErrNoRows)

	id, inserted, err := s.AttachSource(context.Background(), s.db, model.DocumentSource{CanonicalID: "c1", SourceName: "src", FilePath: "/a"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(0), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachSourceReturnsID(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO document_sources`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, inserted, err := s.AttachSource(context.Background(), s.db, model.DocumentSource{CanonicalID: "c1", SourceName: "src", FilePath: "/a"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(7), id)
}

func TestWritePartialOverlapRejectsSelfPair(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.WritePartialOverlap(context.Background(), s.db, model.PartialOverlap{DocAID: "same", DocBID: "same"})
	assert.Error(t, err)
}

func TestCandidatesForFuzzyEmptyPrefix(t *testing.T) {
	s, mock := newTestStore(t)
	out, err := s.CandidatesForFuzzy(context.Background(), s.db, "")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidatesForFuzzyOrdersByCanonicalID(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT canonical_id, fuzzy_hash, text_sample FROM canonical_documents(.|\n)*ORDER BY canonical_id`).
		WithArgs("3:abc%").
		WillReturnRows(sqlmock.NewRows([]string{"canonical_id", "fuzzy_hash", "text_sample"}).
			AddRow("c1", "3:abc:def", "sample one").
			AddRow("c2", "3:abcxyz:ghi", "sample two"))

	out, err := s.CandidatesForFuzzy(context.Background(), s.db, "3:abc")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[0].CanonicalID)
	assert.Equal(t, "c2", out[1].CanonicalID)
}

func TestIsProcessed(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM document_sources WHERE source_name = $1 AND file_path = $2)`)).
		WithArgs("src", "/a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsProcessed(context.Background(), s.db, "src", "/a")
	require.NoError(t, err)
	assert.True(t, ok)
}
