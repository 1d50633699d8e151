package store

import (
	"context"
	"fmt"
)

// EnsureSchema creates the required tables and indexes if they do not
// already exist, following database/db.go's EnsureSchema idiom:
// CREATE TABLE/INDEX IF NOT EXISTS, plus best-effort additive ALTER TABLE
// statements for migrations.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS canonical_documents (
            id BIGSERIAL PRIMARY KEY,
            canonical_id TEXT UNIQUE NOT NULL,
            content_hash TEXT UNIQUE NOT NULL,
            file_hash TEXT NOT NULL,
            document_type TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            date DATE,
            email_from TEXT,
            email_to TEXT[],
            email_cc TEXT[],
            email_subject TEXT,
            email_attachments TEXT[],
            case_number TEXT,
            court TEXT,
            filing_type TEXT,
            amount DOUBLE PRECISION,
            transaction_date DATE,
            account TEXT,
            ocr_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
            has_redactions BOOLEAN NOT NULL DEFAULT FALSE,
            completeness TEXT NOT NULL DEFAULT 'complete',
            page_count INTEGER NOT NULL DEFAULT 1,
            primary_source_id BIGINT,
            selection_reason TEXT NOT NULL DEFAULT '',
            per_page_hashes TEXT[] NOT NULL DEFAULT '{}'::TEXT[],
            fuzzy_hash TEXT NOT NULL DEFAULT '',
            text_sample TEXT NOT NULL DEFAULT '',
            metadata_sig TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_canonical_content_hash ON canonical_documents(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_file_hash ON canonical_documents(file_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_metadata_sig ON canonical_documents(metadata_sig)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_document_type ON canonical_documents(document_type)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_date ON canonical_documents(date)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_created_at ON canonical_documents(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS document_sources (
            id BIGSERIAL PRIMARY KEY,
            canonical_id TEXT NOT NULL REFERENCES canonical_documents(canonical_id) ON DELETE CASCADE,
            source_name TEXT NOT NULL,
            source_url TEXT NOT NULL DEFAULT '',
            collection TEXT NOT NULL DEFAULT '',
            download_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            pages TEXT NOT NULL DEFAULT '',
            file_path TEXT NOT NULL,
            quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
            file_size BIGINT NOT NULL DEFAULT 0,
            format TEXT NOT NULL DEFAULT 'other',
            authority TEXT NOT NULL DEFAULT 'other',
            ocr_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
            has_redactions BOOLEAN NOT NULL DEFAULT FALSE,
            redaction_count INTEGER NOT NULL DEFAULT 0,
            completeness TEXT NOT NULL DEFAULT 'complete',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CONSTRAINT unique_source_occurrence UNIQUE(canonical_id, source_name, file_path)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sources_canonical_id ON document_sources(canonical_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_name_collection ON document_sources(source_name, collection)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_name_path ON document_sources(source_name, file_path)`,

		`CREATE TABLE IF NOT EXISTS duplicate_groups (
            id BIGSERIAL PRIMARY KEY,
            canonical_id TEXT NOT NULL REFERENCES canonical_documents(canonical_id) ON DELETE CASCADE,
            source_id BIGINT REFERENCES document_sources(id) ON DELETE SET NULL,
            duplicate_type TEXT NOT NULL,
            similarity_score DOUBLE PRECISION NOT NULL,
            detection_method TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_duplicate_groups_canonical_id ON duplicate_groups(canonical_id)`,

		`CREATE TABLE IF NOT EXISTS partial_overlaps (
            id BIGSERIAL PRIMARY KEY,
            doc_a_id TEXT NOT NULL REFERENCES canonical_documents(canonical_id) ON DELETE CASCADE,
            doc_b_id TEXT NOT NULL REFERENCES canonical_documents(canonical_id) ON DELETE CASCADE,
            overlap_percentage_a DOUBLE PRECISION NOT NULL,
            overlap_percentage_b DOUBLE PRECISION NOT NULL,
            pages_a TEXT NOT NULL DEFAULT '',
            pages_b TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CONSTRAINT distinct_partial_overlap_pair CHECK (doc_a_id <> doc_b_id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_partial_overlaps_doc_a ON partial_overlaps(doc_a_id)`,
		`CREATE INDEX IF NOT EXISTS idx_partial_overlaps_doc_b ON partial_overlaps(doc_b_id)`,

		`CREATE TABLE IF NOT EXISTS processing_log (
            id BIGSERIAL PRIMARY KEY,
            ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            operation TEXT NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            details JSONB NOT NULL DEFAULT '{}'::jsonb
        )`,
		`CREATE INDEX IF NOT EXISTS idx_processing_log_ts ON processing_log(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_processing_log_status ON processing_log(status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Additive, best-effort migrations: safe to run on every startup.
	migrations := []string{
		`ALTER TABLE canonical_documents ADD COLUMN IF NOT EXISTS fuzzy_hash TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE canonical_documents ADD COLUMN IF NOT EXISTS metadata_sig TEXT`,
		`ALTER TABLE canonical_documents ADD COLUMN IF NOT EXISTS text_sample TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE document_sources ADD COLUMN IF NOT EXISTS authority TEXT NOT NULL DEFAULT 'other'`,
		`ALTER TABLE document_sources ADD COLUMN IF NOT EXISTS ocr_quality DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE document_sources ADD COLUMN IF NOT EXISTS has_redactions BOOLEAN NOT NULL DEFAULT FALSE`,
		`ALTER TABLE document_sources ADD COLUMN IF NOT EXISTS redaction_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE document_sources ADD COLUMN IF NOT EXISTS completeness TEXT NOT NULL DEFAULT 'complete'`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_per_page_hashes ON canonical_documents USING GIN (per_page_hashes)`,
	}
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}

	return nil
}
