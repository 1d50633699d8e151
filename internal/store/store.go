// Package store implements the index store: the persistent, ACID-correct,
// single-writer multi-reader system of record for canonical documents,
// sources, duplicate groups, partial overlaps, and the processing log.
// Schema creation follows database/db.go's EnsureSchema idiom (CREATE
// TABLE/INDEX IF NOT EXISTS, best-effort additive ALTER TABLE). An LRU
// front-cache (hashicorp/golang-lru) sits in front of the hottest lookups
// (file_hash/content_hash) so a single pipeline run does not round-trip to
// Postgres for every already-seen hash.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/model"
)

const cacheSize = 4096

// execer is satisfied by both *sql.DB and *sql.Tx, letting store methods
// run either standalone or inside the caller's transaction — one logical
// ingest of one file is a single transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Index Store handle.
type Store struct {
	db           *sql.DB
	logger       *zap.Logger
	fileCache    *lru.Cache // file_hash -> canonical_id
	contentCache *lru.Cache // content_hash -> canonical_id
}

// New opens the Postgres-backed index store.
func New(connStr string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping index store: %w", err)
	}
	fc, _ := lru.New(cacheSize)
	cc, _ := lru.New(cacheSize)
	return &Store{db: db, logger: logger, fileCache: fc, contentCache: cc}, nil
}

// NewFromDB wraps an already-open *sql.DB (e.g. a sqlmock connection in
// tests) without the dial/ping New performs.
func NewFromDB(db *sql.DB, logger *zap.Logger) *Store {
	fc, _ := lru.New(cacheSize)
	cc, _ := lru.New(cacheSize)
	return &Store{db: db, logger: logger, fileCache: fc, contentCache: cc}
}

// DB exposes the underlying *sql.DB for read-only query commands that run
// outside the pipeline's write transaction.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts the single transaction covering one file's ingest.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// invalidate drops cached entries for a hash pair after a write.
func (s *Store) invalidate(fileHash, contentHash string) {
	if fileHash != "" {
		s.fileCache.Remove(fileHash)
	}
	if contentHash != "" {
		s.contentCache.Remove(contentHash)
	}
}

// LookupByFileHash resolves a file_hash to its canonical_id in O(1) via
// the file_hash index and the LRU front-cache.
func (s *Store) LookupByFileHash(ctx context.Context, q execer, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	if v, ok := s.fileCache.Get(hash); ok {
		return v.(string), true, nil
	}
	var canonicalID string
	err := q.QueryRowContext(ctx, `SELECT canonical_id FROM canonical_documents WHERE file_hash = $1 LIMIT 1`, hash).Scan(&canonicalID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: lookup by file hash: %v", cerrors.ErrDatabaseOperation, err)
	}
	s.fileCache.Add(hash, canonicalID)
	return canonicalID, true, nil
}

// LookupByContentHash resolves a content_hash to its canonical_id.
func (s *Store) LookupByContentHash(ctx context.Context, q execer, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	if v, ok := s.contentCache.Get(hash); ok {
		return v.(string), true, nil
	}
	var canonicalID string
	err := q.QueryRowContext(ctx, `SELECT canonical_id FROM canonical_documents WHERE content_hash = $1 LIMIT 1`, hash).Scan(&canonicalID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: lookup by content hash: %v", cerrors.ErrDatabaseOperation, err)
	}
	s.contentCache.Add(hash, canonicalID)
	return canonicalID, true, nil
}

// LookupByMetadataSig resolves an email metadata signature to its
// canonical_id.
func (s *Store) LookupByMetadataSig(ctx context.Context, q execer, sig string) (string, bool, error) {
	if sig == "" {
		return "", false, nil
	}
	var canonicalID string
	err := q.QueryRowContext(ctx, `SELECT canonical_id FROM canonical_documents WHERE metadata_sig = $1 LIMIT 1`, sig).Scan(&canonicalID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: lookup by metadata sig: %v", cerrors.ErrDatabaseOperation, err)
	}
	return canonicalID, true, nil
}

// FuzzyCandidate is one row returned by CandidatesForFuzzy.
type FuzzyCandidate struct {
	CanonicalID string
	FuzzyHash   string
	TextSample  string
}

// CandidatesForFuzzy returns canonicals whose fuzzy hash shares the given
// block-prefix, narrowing the comparison set so fuzzy matching never scans
// the full table. Results are ordered by canonical_id so scoring runs in a
// deterministic order regardless of what the query planner does.
func (s *Store) CandidatesForFuzzy(ctx context.Context, q execer, prefix string) ([]FuzzyCandidate, error) {
	if prefix == "" {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
        SELECT canonical_id, fuzzy_hash, text_sample FROM canonical_documents
        WHERE fuzzy_hash LIKE $1
        ORDER BY canonical_id`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: candidates for fuzzy: %v", cerrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var out []FuzzyCandidate
	for rows.Next() {
		var c FuzzyCandidate
		if err := rows.Scan(&c.CanonicalID, &c.FuzzyHash, &c.TextSample); err != nil {
			return nil, fmt.Errorf("%w: scan fuzzy candidate: %v", cerrors.ErrDatabaseOperation, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetTextSample returns the normalized-text sample stored for a canonical,
// used both for fuzzy text comparison and as the canonical artifact's body.
func (s *Store) GetTextSample(ctx context.Context, q execer, canonicalID string) (string, error) {
	var sample string
	err := q.QueryRowContext(ctx, `SELECT text_sample FROM canonical_documents WHERE canonical_id = $1`, canonicalID).Scan(&sample)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get text sample: %v", cerrors.ErrDatabaseOperation, err)
	}
	return sample, nil
}

// GetPerPageHashes returns the per-page SHA-256 digests recorded for a
// canonical, used by partial-overlap detection.
func (s *Store) GetPerPageHashes(ctx context.Context, q execer, canonicalID string) ([]string, error) {
	var pages pq.StringArray
	err := q.QueryRowContext(ctx, `SELECT per_page_hashes FROM canonical_documents WHERE canonical_id = $1`, canonicalID).Scan(&pages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get per-page hashes: %v", cerrors.ErrDatabaseOperation, err)
	}
	return []string(pages), nil
}

// CandidatesForPageOverlap returns canonicals sharing at least one page
// hash with pageHashes, excluding excludeID, ordered deterministically.
func (s *Store) CandidatesForPageOverlap(ctx context.Context, q execer, pageHashes []string, excludeID string) ([]string, error) {
	if len(pageHashes) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
        SELECT DISTINCT canonical_id FROM canonical_documents
        WHERE per_page_hashes && $1 AND canonical_id <> $2
        ORDER BY canonical_id`, pq.Array(pageHashes), excludeID)
	if err != nil {
		return nil, fmt.Errorf("%w: candidates for page overlap: %v", cerrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan overlap candidate: %v", cerrors.ErrDatabaseOperation, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// NewCanonicalRow is the row CreateCanonical inserts.
type NewCanonicalRow struct {
	CanonicalID string
	Hashes      model.HashSet
	Metadata    model.MetadataRecord
	Quality     model.QualityAssessment
	PageCount   int
	MetadataSig string
	TextSample  string
}

// CreateCanonical inserts a new CanonicalDocument row — the creation
// branch of get-or-create, run when the deduplicator found no match.
func (s *Store) CreateCanonical(ctx context.Context, q execer, row NewCanonicalRow) error {
	email := row.Metadata.Email
	court := row.Metadata.CourtFiling
	fin := row.Metadata.Financial

	var (
		emailFrom, emailSubject             sql.NullString
		emailTo, emailCC, emailAttachments  pq.StringArray
		caseNumber, court_, filingType      sql.NullString
		amount                              sql.NullFloat64
		transactionDate                     sql.NullTime
		account                             sql.NullString
		date                                sql.NullTime
	)
	if email != nil {
		emailFrom = sql.NullString{String: email.From, Valid: email.From != ""}
		emailSubject = sql.NullString{String: email.Subject, Valid: email.Subject != ""}
		emailTo = pq.StringArray(email.To)
		emailCC = pq.StringArray(email.CC)
		emailAttachments = pq.StringArray(email.Attachments)
		if email.Date != nil {
			date = sql.NullTime{Time: *email.Date, Valid: true}
		}
	}
	if court != nil {
		caseNumber = sql.NullString{String: court.CaseNumber, Valid: court.CaseNumber != ""}
		court_ = sql.NullString{String: court.Court, Valid: court.Court != ""}
		filingType = sql.NullString{String: court.FilingType, Valid: court.FilingType != ""}
	}
	if fin != nil {
		if fin.Amount != nil {
			amount = sql.NullFloat64{Float64: *fin.Amount, Valid: true}
		}
		if fin.TransactionDate != nil {
			transactionDate = sql.NullTime{Time: *fin.TransactionDate, Valid: true}
			date = transactionDate
		}
		account = sql.NullString{String: fin.Account, Valid: fin.Account != ""}
	}
	if row.Metadata.Date != nil {
		date = sql.NullTime{Time: *row.Metadata.Date, Valid: true}
	}

	_, err := q.ExecContext(ctx, `
        INSERT INTO canonical_documents (
            canonical_id, content_hash, file_hash, document_type, title, date,
            email_from, email_to, email_cc, email_subject, email_attachments,
            case_number, court, filing_type, amount, transaction_date, account,
            ocr_quality, has_redactions, completeness, page_count,
            per_page_hashes, fuzzy_hash, text_sample, metadata_sig
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		row.CanonicalID, row.Hashes.ContentHash, row.Hashes.FileHash, string(row.Metadata.DocumentType),
		row.Metadata.Title, date,
		emailFrom, emailTo, emailCC, emailSubject, emailAttachments,
		caseNumber, court_, filingType, amount, transactionDate, account,
		row.Quality.OCRQuality, row.Quality.HasRedactions, string(row.Quality.Completeness), row.PageCount,
		pq.StringArray(row.Hashes.PerPageHashes), row.Hashes.FuzzyHash, row.TextSample, nullIfEmpty(row.MetadataSig),
	)
	if err != nil {
		return fmt.Errorf("%w: create canonical: %v", cerrors.ErrDatabaseOperation, err)
	}
	s.invalidate(row.Hashes.FileHash, row.Hashes.ContentHash)
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// AttachSource inserts a DocumentSource row, carrying both the aggregate
// file_quality_score and this source's own quality-assessor output
// (ocr_quality/has_redactions/redaction_count/completeness) so later
// re-selection can score this source on its own evidence indefinitely,
// not just at the moment it was ingested. Idempotent on (canonical_id,
// source_name, file_path): re-running over an already-indexed file is a
// no-op, which is what makes restarting a pipeline run over the same
// directory safe.
func (s *Store) AttachSource(ctx context.Context, q execer, src model.DocumentSource) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
        INSERT INTO document_sources (
            canonical_id, source_name, source_url, collection, download_date,
            pages, file_path, quality_score, file_size, format, authority,
            ocr_quality, has_redactions, redaction_count, completeness
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (canonical_id, source_name, file_path) DO NOTHING
        RETURNING id`,
		src.CanonicalID, src.SourceName, src.SourceURL, src.Collection, src.DownloadDate,
		src.Pages, src.FilePath, src.QualityScore, src.FileSize, string(src.Format), string(src.Authority),
		src.OCRQuality, src.HasRedactions, src.RedactionCount, string(src.Completeness),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: attach source: %v", cerrors.ErrDatabaseOperation, err)
	}
	return id, true, nil
}

// IsProcessed reports whether (sourceName, filePath) has already been
// attached to a canonical, keying the pipeline's restart skip.
func (s *Store) IsProcessed(ctx context.Context, q execer, sourceName, filePath string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
        SELECT EXISTS(SELECT 1 FROM document_sources WHERE source_name = $1 AND file_path = $2)`,
		sourceName, filePath).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: is processed: %v", cerrors.ErrDatabaseOperation, err)
	}
	return exists, nil
}

// SourcesForCanonical lists every DocumentSource for a canonical, ordered
// by id for deterministic iteration.
func (s *Store) SourcesForCanonical(ctx context.Context, q execer, canonicalID string) ([]model.DocumentSource, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT id, canonical_id, source_name, source_url, collection, download_date,
               pages, file_path, quality_score, file_size, format, authority,
               ocr_quality, has_redactions, redaction_count, completeness, created_at
        FROM document_sources WHERE canonical_id = $1 ORDER BY id`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("%w: sources for canonical: %v", cerrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var out []model.DocumentSource
	for rows.Next() {
		var src model.DocumentSource
		var format, authority, completeness string
		if err := rows.Scan(&src.ID, &src.CanonicalID, &src.SourceName, &src.SourceURL, &src.Collection,
			&src.DownloadDate, &src.Pages, &src.FilePath, &src.QualityScore, &src.FileSize,
			&format, &authority, &src.OCRQuality, &src.HasRedactions, &src.RedactionCount,
			&completeness, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan source: %v", cerrors.ErrDatabaseOperation, err)
		}
		src.Format = model.DocumentFormat(format)
		src.Authority = model.SourceAuthority(authority)
		src.Completeness = model.Completeness(completeness)
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdatePrimarySource atomically updates a canonical's primary_source,
// selection_reason, and the canonical row's own quality snapshot
// (ocr_quality/has_redactions/completeness), copied from the winning
// source. That snapshot is a convenience projection used by the canonical
// file writer and the query interface's "quality" listing, never by the
// selector itself; the selector always re-scores every source from
// document_sources directly, so this copy staying current (rather than
// frozen at whichever source created the canonical) matters only for
// that user-facing output, not for primary-source selection correctness.
func (s *Store) UpdatePrimarySource(ctx context.Context, q execer, canonicalID string, sourceID int64, reason string, quality model.QualityAssessment) error {
	_, err := q.ExecContext(ctx, `
        UPDATE canonical_documents
        SET primary_source_id = $1, selection_reason = $2,
            ocr_quality = $3, has_redactions = $4, completeness = $5,
            updated_at = NOW()
        WHERE canonical_id = $6`,
		sourceID, reason, quality.OCRQuality, quality.HasRedactions, string(quality.Completeness), canonicalID)
	if err != nil {
		return fmt.Errorf("%w: update primary source: %v", cerrors.ErrDatabaseOperation, err)
	}
	return nil
}

// WriteDuplicateGroup inserts a DuplicateGroup row. Existing rows are
// never modified: the store only accumulates evidence of duplication, it
// never retracts it.
func (s *Store) WriteDuplicateGroup(ctx context.Context, q execer, g model.DuplicateGroup) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO duplicate_groups (canonical_id, source_id, duplicate_type, similarity_score, detection_method)
        VALUES ($1,$2,$3,$4,$5)`,
		g.CanonicalID, nullableID(g.SourceID), string(g.DuplicateType), g.SimilarityScore, string(g.DetectionMethod))
	if err != nil {
		return fmt.Errorf("%w: write duplicate group: %v", cerrors.ErrDatabaseOperation, err)
	}
	return nil
}

func nullableID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// WritePartialOverlap inserts a PartialOverlap row, enforcing that the two
// documents are distinct before the insert (the percentage-range check
// happens earlier, in the deduplicator's overlap computation).
func (s *Store) WritePartialOverlap(ctx context.Context, q execer, o model.PartialOverlap) error {
	if o.DocAID == o.DocBID {
		return fmt.Errorf("%w: partial overlap doc_a_id == doc_b_id", cerrors.ErrIntegrityViolation)
	}
	_, err := q.ExecContext(ctx, `
        INSERT INTO partial_overlaps (doc_a_id, doc_b_id, overlap_percentage_a, overlap_percentage_b, pages_a, pages_b)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		o.DocAID, o.DocBID, o.OverlapPercentageA, o.OverlapPercentageB, o.PagesA, o.PagesB)
	if err != nil {
		return fmt.Errorf("%w: write partial overlap: %v", cerrors.ErrDatabaseOperation, err)
	}
	return nil
}

// AppendLog inserts a ProcessingLog row. Log order mirrors commit order,
// not submission order, because it is written at the point of commit,
// inside the same transaction.
func (s *Store) AppendLog(ctx context.Context, q execer, entry model.ProcessingLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = q.ExecContext(ctx, `
        INSERT INTO processing_log (ts, operation, source, status, message, details)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		timeOrNow(entry.Timestamp), entry.Operation, entry.Source, entry.Status, entry.Message, details)
	if err != nil {
		return fmt.Errorf("%w: append log: %v", cerrors.ErrDatabaseOperation, err)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// GetCanonical fetches one CanonicalDocument by canonical_id, including its
// type-specific fields (email/court filing/financial).
func (s *Store) GetCanonical(ctx context.Context, q execer, canonicalID string) (model.CanonicalDocument, bool, error) {
	row := q.QueryRowContext(ctx, fullCanonicalSelect+` WHERE canonical_id = $1`, canonicalID)
	doc, err := scanFullCanonical(row)
	if err == sql.ErrNoRows {
		return model.CanonicalDocument{}, false, nil
	}
	if err != nil {
		return model.CanonicalDocument{}, false, fmt.Errorf("%w: get canonical: %v", cerrors.ErrDatabaseOperation, err)
	}
	return doc, true, nil
}

// ListCanonicals returns every canonical document ordered by canonical_id,
// including type-specific fields. Used by the query package's All and
// Export listings and the canonical-artifact writer.
func (s *Store) ListCanonicals(ctx context.Context, q execer) ([]model.CanonicalDocument, error) {
	return s.ListCanonicalsWhere(ctx, q, "ORDER BY canonical_id")
}

// ListCanonicalsWhere is ListCanonicals with a caller-supplied WHERE/ORDER
// BY/LIMIT tail appended to fullCanonicalSelect, for the query package's
// filtered listings (recent N, search) that still need the full
// type-specific column set.
func (s *Store) ListCanonicalsWhere(ctx context.Context, q execer, whereOrderLimit string, args ...any) ([]model.CanonicalDocument, error) {
	rows, err := q.QueryContext(ctx, fullCanonicalSelect+" "+whereOrderLimit, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list canonicals: %v", cerrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var out []model.CanonicalDocument
	for rows.Next() {
		doc, err := scanFullCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan canonical: %v", cerrors.ErrDatabaseOperation, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// fullCanonicalSelect is shared by GetCanonical and ListCanonicals so the
// two stay in sync on column order.
const fullCanonicalSelect = `
        SELECT id, canonical_id, content_hash, file_hash, fuzzy_hash, document_type, title, date,
               email_from, email_to, email_cc, email_subject, email_attachments,
               case_number, court, filing_type, amount, transaction_date, account,
               ocr_quality, has_redactions, completeness, page_count, primary_source_id,
               selection_reason, created_at, updated_at
        FROM canonical_documents`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFullCanonical scans one row produced by fullCanonicalSelect.
func scanFullCanonical(row rowScanner) (model.CanonicalDocument, error) {
	var doc model.CanonicalDocument
	var docType, completeness string
	var primarySourceID sql.NullInt64
	var date sql.NullTime
	var emailFrom, emailSubject sql.NullString
	var emailTo, emailCC, emailAttachments pq.StringArray
	var caseNumber, court, filingType sql.NullString
	var amount sql.NullFloat64
	var transactionDate sql.NullTime
	var account sql.NullString

	err := row.Scan(
		&doc.ID, &doc.CanonicalID, &doc.ContentHash, &doc.FileHash, &doc.FuzzyHash, &docType, &doc.Title, &date,
		&emailFrom, &emailTo, &emailCC, &emailSubject, &emailAttachments,
		&caseNumber, &court, &filingType, &amount, &transactionDate, &account,
		&doc.OCRQuality, &doc.HasRedactions, &completeness, &doc.PageCount, &primarySourceID,
		&doc.SelectionReason, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return model.CanonicalDocument{}, err
	}

	doc.DocumentType = model.DocumentType(docType)
	doc.Completeness = model.Completeness(completeness)
	if date.Valid {
		doc.Date = &date.Time
	}
	if primarySourceID.Valid {
		doc.PrimarySourceID = primarySourceID.Int64
	}
	if emailFrom.Valid || len(emailTo) > 0 || emailSubject.Valid {
		doc.Email = &model.EmailFields{From: emailFrom.String, To: emailTo, CC: emailCC, Subject: emailSubject.String, Attachments: emailAttachments}
	}
	if caseNumber.Valid || court.Valid || filingType.Valid {
		doc.CourtFiling = &model.CourtFilingFields{CaseNumber: caseNumber.String, Court: court.String, FilingType: filingType.String}
	}
	if amount.Valid || transactionDate.Valid || account.Valid {
		fin := &model.FinancialFields{Account: account.String}
		if amount.Valid {
			fin.Amount = &amount.Float64
		}
		if transactionDate.Valid {
			fin.TransactionDate = &transactionDate.Time
		}
		doc.Financial = fin
	}
	return doc, nil
}
