// Package canonicalfile writes the per-CanonicalDocument Markdown artifacts:
// one file per canonical, organized by document_type and the date's year,
// filename `{canonical_id}.md`, with a structured header block followed by
// the normalized text body. The header is written as plain ordered
// key/value Markdown, following a stable, versioned schema; HTML preview
// rendering reuses gomarkdown the way web/format/html.go does
// (markdown.ToHTML as a renderer, not a writer).
package canonicalfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"

	"github.com/archival/canonicalize/internal/model"
)

// HeaderVersion is the canonical file header schema version, bumped
// whenever the header's field set changes shape.
const HeaderVersion = "1"

// SourceRef is one entry of the header's sources[] list.
type SourceRef struct {
	SourceName   string
	URL          string
	DownloadDate time.Time
	Pages        string
	Collection   string
	QualityScore float64
}

// KeyValue is one header key the schema does not recognize, preserved
// verbatim across rewrites.
type KeyValue struct {
	Key   string
	Value string
}

// Document is everything canonicalfile needs to write one artifact: the
// CanonicalDocument row, its metadata record (for type-specific fields),
// its sources, and the normalized text body. Extra carries unknown header
// keys read back from an existing artifact; they are re-emitted after the
// schema's own keys.
type Document struct {
	Canonical       model.CanonicalDocument
	Metadata        model.MetadataRecord
	Sources         []SourceRef
	PrimarySource   string
	DuplicatesFound int
	FuzzyHash       string
	FileSize        int64
	Format          model.DocumentFormat
	Extra           []KeyValue
	Body            string
}

// Writer writes canonical Markdown artifacts under an output root.
type Writer struct {
	root string
}

// New builds a Writer rooted at outputRoot.
func New(outputRoot string) *Writer {
	return &Writer{root: outputRoot}
}

// Path returns the artifact path for a document without writing it,
// following the document_type/year/{canonical_id}.md layout.
func (w *Writer) Path(doc Document) string {
	year := "unknown"
	if doc.Canonical.Date != nil {
		year = strconv.Itoa(doc.Canonical.Date.Year())
	}
	dir := filepath.Join(w.root, string(doc.Canonical.DocumentType), year)
	return filepath.Join(dir, doc.Canonical.CanonicalID+".md")
}

// Write renders and persists one canonical artifact, creating parent
// directories as needed. When the artifact already exists, header keys the
// schema does not recognize are parsed out of it first and re-emitted in
// the new header, so keys added by external tooling survive the rewrite.
func (w *Writer) Write(doc Document) (string, error) {
	path := w.Path(doc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("canonicalfile: create directory: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		if parsed, perr := Parse(string(existing)); perr == nil {
			doc.Extra = mergeExtra(parsed.Extra, doc.Extra)
		}
	}

	content := Render(doc)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("canonicalfile: write %s: %w", path, err)
	}
	return path, nil
}

// mergeExtra keeps existing unknown keys in their original order, letting
// an explicitly supplied key of the same name win over the stored one.
func mergeExtra(existing, incoming []KeyValue) []KeyValue {
	seen := make(map[string]bool, len(incoming))
	for _, kv := range incoming {
		seen[kv.Key] = true
	}
	out := make([]KeyValue, 0, len(existing)+len(incoming))
	for _, kv := range existing {
		if !seen[kv.Key] {
			out = append(out, kv)
		}
	}
	return append(out, incoming...)
}

// Render builds the full artifact text: header block then a blank line
// then the normalized body.
func Render(doc Document) string {
	var b strings.Builder
	writeHeader(&b, doc)
	b.WriteString("\n")
	b.WriteString(doc.Body)
	if !strings.HasSuffix(doc.Body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func writeHeader(b *strings.Builder, doc Document) {
	c := doc.Canonical
	kv := func(key, value string) {
		fmt.Fprintf(b, "%s: %s\n", key, value)
	}

	b.WriteString("---\n")
	kv("canonical_id", c.CanonicalID)
	kv("document_type", string(c.DocumentType))
	kv("title", quoteIfNeeded(c.Title))
	kv("date", dateOrNull(c.Date))

	writeSources(b, doc.Sources)
	writeTypeFields(b, doc.Metadata)

	kv("duplicates_found", strconv.Itoa(doc.DuplicatesFound))
	kv("primary_source", doc.PrimarySource)
	kv("selection_reason", quoteIfNeeded(c.SelectionReason))
	kv("content_hash", c.ContentHash)
	kv("file_hash", c.FileHash)
	kv("fuzzy_hash", doc.FuzzyHash)
	kv("ocr_quality", strconv.FormatFloat(c.OCRQuality, 'f', 4, 64))
	kv("redactions", strconv.FormatBool(c.HasRedactions))
	kv("completeness", string(c.Completeness))
	kv("page_count", strconv.Itoa(c.PageCount))
	kv("file_size", strconv.FormatInt(doc.FileSize, 10))
	kv("format", string(doc.Format))
	kv("extracted_at", c.UpdatedAt.UTC().Format(time.RFC3339))
	kv("version", HeaderVersion)
	for _, x := range doc.Extra {
		kv(x.Key, x.Value)
	}
	b.WriteString("---\n")
}

// knownHeaderKeys is the schema's own key set; any other top-level header
// key found when parsing an artifact back is treated as unknown and
// preserved round-trip.
var knownHeaderKeys = map[string]bool{
	"canonical_id": true, "document_type": true, "title": true, "date": true,
	"sources": true, "duplicates_found": true, "primary_source": true,
	"selection_reason": true, "content_hash": true, "file_hash": true,
	"fuzzy_hash": true, "ocr_quality": true, "redactions": true,
	"completeness": true, "page_count": true, "file_size": true,
	"format": true, "extracted_at": true, "version": true,
	"email_from": true, "email_to": true, "email_cc": true,
	"email_subject": true, "email_attachments": true,
	"case_number": true, "court": true, "filing_type": true,
	"amount": true, "transaction_date": true, "account": true,
}

// Parsed is an artifact read back from disk: the schema's own keys as raw
// strings, unknown keys in file order, and the body text.
type Parsed struct {
	Fields map[string]string
	Extra  []KeyValue
	Body   string
}

// Parse splits an artifact's content into its header fields and body.
// Unknown top-level keys are collected in order so a rewrite can re-emit
// them; indented lines belong to the sources list and are not keys.
func Parse(content string) (Parsed, error) {
	p := Parsed{Fields: map[string]string{}}
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return p, fmt.Errorf("canonicalfile: missing opening header delimiter")
	}
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return p, fmt.Errorf("canonicalfile: missing closing header delimiter")
	}
	header := rest[:end]
	p.Body = strings.TrimPrefix(rest[end+len("\n---\n"):], "\n")

	for _, line := range strings.Split(header, "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if knownHeaderKeys[key] {
			p.Fields[key] = value
		} else {
			p.Extra = append(p.Extra, KeyValue{Key: key, Value: value})
		}
	}
	return p, nil
}

func writeSources(b *strings.Builder, sources []SourceRef) {
	sorted := make([]SourceRef, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceName < sorted[j].SourceName })

	b.WriteString("sources:\n")
	for _, s := range sorted {
		fmt.Fprintf(b, "  - source_name: %s\n", s.SourceName)
		if s.URL != "" {
			fmt.Fprintf(b, "    url: %s\n", s.URL)
		}
		fmt.Fprintf(b, "    download_date: %s\n", s.DownloadDate.UTC().Format(time.RFC3339))
		if s.Pages != "" {
			fmt.Fprintf(b, "    pages: %s\n", s.Pages)
		}
		if s.Collection != "" {
			fmt.Fprintf(b, "    collection: %s\n", s.Collection)
		}
		fmt.Fprintf(b, "    quality_score: %s\n", strconv.FormatFloat(s.QualityScore, 'f', 4, 64))
	}
}

func writeTypeFields(b *strings.Builder, meta model.MetadataRecord) {
	switch {
	case meta.Email != nil:
		e := meta.Email
		fmt.Fprintf(b, "email_from: %s\n", e.From)
		fmt.Fprintf(b, "email_to: %s\n", strings.Join(e.To, "; "))
		if len(e.CC) > 0 {
			fmt.Fprintf(b, "email_cc: %s\n", strings.Join(e.CC, "; "))
		}
		fmt.Fprintf(b, "email_subject: %s\n", quoteIfNeeded(e.Subject))
		if len(e.Attachments) > 0 {
			fmt.Fprintf(b, "email_attachments: %s\n", strings.Join(e.Attachments, "; "))
		}
	case meta.CourtFiling != nil:
		cf := meta.CourtFiling
		fmt.Fprintf(b, "case_number: %s\n", cf.CaseNumber)
		fmt.Fprintf(b, "court: %s\n", cf.Court)
		fmt.Fprintf(b, "filing_type: %s\n", cf.FilingType)
	case meta.Financial != nil:
		fin := meta.Financial
		if fin.Amount != nil {
			fmt.Fprintf(b, "amount: %s\n", strconv.FormatFloat(*fin.Amount, 'f', 2, 64))
		}
		if fin.TransactionDate != nil {
			fmt.Fprintf(b, "transaction_date: %s\n", fin.TransactionDate.Format("2006-01-02"))
		}
		fmt.Fprintf(b, "account: %s\n", fin.Account)
	}
}

func dateOrNull(d *time.Time) string {
	if d == nil {
		return "null"
	}
	return d.Format("2006-01-02")
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, ":\n\"") {
		return strconv.Quote(s)
	}
	return s
}

// RenderHTML renders a document's title and body as an HTML preview
// fragment, for optional consumption by external viewers. It does not
// participate in the on-disk artifact format.
func RenderHTML(doc Document) string {
	return string(markdown.ToHTML([]byte(renderBodyAsMarkdown(doc)), nil, nil))
}

func renderBodyAsMarkdown(doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Canonical.Title)
	fmt.Fprintf(&b, "_%s, %s_\n\n", doc.Canonical.DocumentType, dateOrNull(doc.Canonical.Date))
	b.WriteString(doc.Body)
	return b.String()
}
