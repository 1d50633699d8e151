// Package query implements the read-only query interface: stats, recent
// documents, duplicate groups, sources, quality bands, text search, and
// export. Every method runs against the Store's *sql.DB
// directly (no transaction), since queries never block the pipeline's
// single writer.
package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/model"
	"github.com/archival/canonicalize/internal/store"
)

// Engine answers read-only questions over the index store.
type Engine struct {
	store *store.Store
}

// New builds a query Engine.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Stats is the summary returned by the "stats" command.
type Stats struct {
	TotalCanonicals int
	TotalSources    int
	TotalDuplicates int
	TotalOverlaps   int
	ByDocumentType  map[string]int
	ByDuplicateType map[string]int
	DedupRatio      float64 // 1 - (canonicals / sources), 0 when no sources
}

// Stats computes aggregate counts across the index.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	db := e.store.DB()
	s := Stats{ByDocumentType: map[string]int{}, ByDuplicateType: map[string]int{}}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_documents`).Scan(&s.TotalCanonicals); err != nil {
		return s, wrap("stats: count canonicals", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_sources`).Scan(&s.TotalSources); err != nil {
		return s, wrap("stats: count sources", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duplicate_groups`).Scan(&s.TotalDuplicates); err != nil {
		return s, wrap("stats: count duplicate groups", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partial_overlaps`).Scan(&s.TotalOverlaps); err != nil {
		return s, wrap("stats: count overlaps", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT document_type, COUNT(*) FROM canonical_documents GROUP BY document_type`)
	if err != nil {
		return s, wrap("stats: group by document type", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return s, wrap("stats: scan document type row", err)
		}
		s.ByDocumentType[t] = n
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT duplicate_type, COUNT(*) FROM duplicate_groups GROUP BY duplicate_type`)
	if err != nil {
		return s, wrap("stats: group by duplicate type", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return s, wrap("stats: scan duplicate type row", err)
		}
		s.ByDuplicateType[t] = n
	}
	rows.Close()

	if s.TotalSources > 0 {
		s.DedupRatio = 1.0 - float64(s.TotalCanonicals)/float64(s.TotalSources)
	}
	return s, nil
}

// All returns every canonical document, ordered by canonical_id, including
// type-specific fields. Used by the canonical-artifact writer to regenerate
// the on-disk Markdown layout.
func (e *Engine) All(ctx context.Context) ([]model.CanonicalDocument, error) {
	docs, err := e.store.ListCanonicals(ctx, e.store.DB())
	if err != nil {
		return nil, wrap("all", err)
	}
	return docs, nil
}

// DuplicatesForCanonical lists the DuplicateGroup rows recorded against one
// canonical, for the canonical-artifact writer's duplicates_found count.
func (e *Engine) DuplicatesForCanonical(ctx context.Context, canonicalID string) ([]model.DuplicateGroup, error) {
	return e.duplicateRowsFor(ctx, canonicalID)
}

// TextSample returns a canonical's stored normalized-text sample, the body
// the canonical-artifact writer persists.
func (e *Engine) TextSample(ctx context.Context, canonicalID string) (string, error) {
	return e.store.GetTextSample(ctx, e.store.DB(), canonicalID)
}

// Recent returns the N most recently created canonicals.
func (e *Engine) Recent(ctx context.Context, n int) ([]model.CanonicalDocument, error) {
	if n <= 0 {
		n = 10
	}
	docs, err := e.store.ListCanonicalsWhere(ctx, e.store.DB(), "ORDER BY created_at DESC LIMIT $1", n)
	if err != nil {
		return nil, wrap("recent", err)
	}
	return docs, nil
}

// DuplicateGroupSummary is one canonical and its attached duplicate rows,
// for the "duplicates" command (groups of size >= 2 sources).
type DuplicateGroupSummary struct {
	CanonicalID string
	SourceCount int
	Duplicates  []model.DuplicateGroup
}

// Duplicates lists canonicals with 2 or more attached sources.
func (e *Engine) Duplicates(ctx context.Context) ([]DuplicateGroupSummary, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
        SELECT canonical_id, COUNT(*) AS cnt FROM document_sources
        GROUP BY canonical_id HAVING COUNT(*) >= 2 ORDER BY cnt DESC, canonical_id`)
	if err != nil {
		return nil, wrap("duplicates: query", err)
	}
	var summaries []DuplicateGroupSummary
	for rows.Next() {
		var s DuplicateGroupSummary
		if err := rows.Scan(&s.CanonicalID, &s.SourceCount); err != nil {
			rows.Close()
			return nil, wrap("duplicates: scan row", err)
		}
		summaries = append(summaries, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("duplicates: iterate rows", err)
	}

	for i := range summaries {
		dups, err := e.duplicateRowsFor(ctx, summaries[i].CanonicalID)
		if err != nil {
			return nil, err
		}
		summaries[i].Duplicates = dups
	}
	return summaries, nil
}

func (e *Engine) duplicateRowsFor(ctx context.Context, canonicalID string) ([]model.DuplicateGroup, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
        SELECT id, canonical_id, COALESCE(source_id, 0), duplicate_type, similarity_score, detection_method, created_at
        FROM duplicate_groups WHERE canonical_id = $1 ORDER BY id`, canonicalID)
	if err != nil {
		return nil, wrap("duplicate rows for canonical", err)
	}
	defer rows.Close()

	var out []model.DuplicateGroup
	for rows.Next() {
		var g model.DuplicateGroup
		var dupType, method string
		if err := rows.Scan(&g.ID, &g.CanonicalID, &g.SourceID, &dupType, &g.SimilarityScore, &method, &g.CreatedAt); err != nil {
			return nil, wrap("scan duplicate group row", err)
		}
		g.DuplicateType = model.DuplicateType(dupType)
		g.DetectionMethod = model.DetectionMethod(method)
		out = append(out, g)
	}
	return out, wrap("iterate duplicate group rows", rows.Err())
}

// Sources lists every DocumentSource attached to a canonical.
func (e *Engine) Sources(ctx context.Context, canonicalID string) ([]model.DocumentSource, error) {
	return e.store.SourcesForCanonical(ctx, e.store.DB(), canonicalID)
}

// QualityBand is one bucket of the "quality" command's histogram.
type QualityBand struct {
	Label string
	Count int
}

// Quality buckets canonicals into high/medium/low OCR quality bands.
func (e *Engine) Quality(ctx context.Context) ([]QualityBand, error) {
	rows, err := e.store.DB().QueryContext(ctx, `SELECT ocr_quality FROM canonical_documents`)
	if err != nil {
		return nil, wrap("quality: query", err)
	}
	defer rows.Close()

	bands := map[string]int{"high (>=0.85)": 0, "medium (0.6-0.85)": 0, "low (<0.6)": 0}
	for rows.Next() {
		var q float64
		if err := rows.Scan(&q); err != nil {
			return nil, wrap("quality: scan row", err)
		}
		switch {
		case q >= 0.85:
			bands["high (>=0.85)"]++
		case q >= 0.6:
			bands["medium (0.6-0.85)"]++
		default:
			bands["low (<0.6)"]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("quality: iterate rows", err)
	}

	order := []string{"high (>=0.85)", "medium (0.6-0.85)", "low (<0.6)"}
	out := make([]QualityBand, 0, len(order))
	for _, label := range order {
		out = append(out, QualityBand{Label: label, Count: bands[label]})
	}
	return out, nil
}

// Search performs a case-insensitive substring search over title and
// email subject. This is a plain ILIKE scan, not a full-text index —
// acceptable at the scale this engine
// targets (tens of thousands of canonicals, not web-scale corpora).
func (e *Engine) Search(ctx context.Context, query string) ([]model.CanonicalDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty search query", cerrors.ErrInvalidInput)
	}
	pattern := "%" + query + "%"
	docs, err := e.store.ListCanonicalsWhere(ctx, e.store.DB(),
		"WHERE title ILIKE $1 OR email_subject ILIKE $1 ORDER BY created_at DESC", pattern)
	if err != nil {
		return nil, wrap("search", err)
	}
	return docs, nil
}

// ExportFormat is the export command's output encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Export writes every canonical document to w in the requested format.
func (e *Engine) Export(ctx context.Context, w io.Writer, format ExportFormat) error {
	docs, err := e.store.ListCanonicals(ctx, e.store.DB())
	if err != nil {
		return wrap("export", err)
	}

	switch format {
	case ExportCSV:
		return exportCSV(w, docs)
	case ExportJSON:
		return exportJSON(w, docs)
	default:
		return fmt.Errorf("%w: unknown export format %q", cerrors.ErrInvalidInput, format)
	}
}

func exportJSON(w io.Writer, docs []model.CanonicalDocument) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

func exportCSV(w io.Writer, docs []model.CanonicalDocument) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"canonical_id", "document_type", "title", "date", "ocr_quality",
		"has_redactions", "completeness", "page_count", "selection_reason", "created_at"}
	if err := cw.Write(header); err != nil {
		return wrap("export csv: write header", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].CanonicalID < docs[j].CanonicalID })
	for _, d := range docs {
		dateStr := ""
		if d.Date != nil {
			dateStr = d.Date.Format("2006-01-02")
		}
		row := []string{
			d.CanonicalID, string(d.DocumentType), d.Title, dateStr,
			fmt.Sprintf("%.4f", d.OCRQuality), fmt.Sprintf("%t", d.HasRedactions),
			string(d.Completeness), fmt.Sprintf("%d", d.PageCount), d.SelectionReason,
			d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := cw.Write(row); err != nil {
			return wrap("export csv: write row", err)
		}
	}
	return cw.Error()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", cerrors.ErrDatabaseOperation, op, err)
}
