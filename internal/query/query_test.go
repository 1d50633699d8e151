package query

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archival/canonicalize/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.NewFromDB(db, nil)), mock
}

func TestStatsComputesDedupRatio(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM document_sources`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM duplicate_groups`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(8))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM partial_overlaps`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT document_type, COUNT\(\*\) FROM canonical_documents GROUP BY document_type`).
		WillReturnRows(sqlmock.NewRows([]string{"document_type", "count"}).AddRow("email", 2))
	mock.ExpectQuery(`SELECT duplicate_type, COUNT\(\*\) FROM duplicate_groups GROUP BY duplicate_type`).
		WillReturnRows(sqlmock.NewRows([]string{"duplicate_type", "count"}).AddRow("exact", 8))

	s, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalCanonicals)
	assert.Equal(t, 10, s.TotalSources)
	assert.InDelta(t, 0.8, s.DedupRatio, 1e-9)
	assert.Equal(t, 2, s.ByDocumentType["email"])
	assert.Equal(t, 8, s.ByDuplicateType["exact"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsZeroSourcesNoDivideByZero(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM document_sources`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM duplicate_groups`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM partial_overlaps`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT document_type, COUNT\(\*\) FROM canonical_documents GROUP BY document_type`).
		WillReturnRows(sqlmock.NewRows([]string{"document_type", "count"}))
	mock.ExpectQuery(`SELECT duplicate_type, COUNT\(\*\) FROM duplicate_groups GROUP BY duplicate_type`).
		WillReturnRows(sqlmock.NewRows([]string{"duplicate_type", "count"}))

	s, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.DedupRatio)
}

func TestQualityBuckets(t *testing.T) {
	e, mock := newTestEngine(t)
	mock.ExpectQuery(`SELECT ocr_quality FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"ocr_quality"}).
			AddRow(0.95).AddRow(0.7).AddRow(0.2))

	bands, err := e.Quality(context.Background())
	require.NoError(t, err)
	require.Len(t, bands, 3)
	assert.Equal(t, "high (>=0.85)", bands[0].Label)
	assert.Equal(t, 1, bands[0].Count)
	assert.Equal(t, 1, bands[1].Count)
	assert.Equal(t, 1, bands[2].Count)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestExportJSONWritesValidJSON(t *testing.T) {
	e, mock := newTestEngine(t)
	mock.ExpectQuery(`SELECT (.|\n)*FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "canonical_id", "content_hash", "file_hash", "fuzzy_hash", "document_type", "title", "date",
			"email_from", "email_to", "email_cc", "email_subject", "email_attachments",
			"case_number", "court", "filing_type", "amount", "transaction_date", "account",
			"ocr_quality", "has_redactions", "completeness", "page_count", "primary_source_id",
			"selection_reason", "created_at", "updated_at",
		}))

	var buf bytes.Buffer
	err := e.Export(context.Background(), &buf, ExportJSON)
	require.NoError(t, err)
	var docs []any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &docs))
	assert.Len(t, docs, 0)
}

func TestExportUnknownFormat(t *testing.T) {
	e, mock := newTestEngine(t)
	mock.ExpectQuery(`SELECT (.|\n)*FROM canonical_documents`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "canonical_id", "content_hash", "file_hash", "fuzzy_hash", "document_type", "title", "date",
			"email_from", "email_to", "email_cc", "email_subject", "email_attachments",
			"case_number", "court", "filing_type", "amount", "transaction_date", "account",
			"ocr_quality", "has_redactions", "completeness", "page_count", "primary_source_id",
			"selection_reason", "created_at", "updated_at",
		}))

	var buf bytes.Buffer
	err := e.Export(context.Background(), &buf, ExportFormat("xml"))
	assert.Error(t, err)
}
