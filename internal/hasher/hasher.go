// Package hasher produces the file, content, fuzzy, and per-page hashes
// that feed the deduplicator. Hashing is stream-first: the file hash never
// materializes a whole document in memory, following the
// chunked-copy style of web/services/pdf_service.go's streaming reads.
package hasher

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/model"
)

// chunkSize bounds how much of the file is held in memory at once: files
// are streamed in chunks no larger than 64 KiB.
const chunkSize = 64 * 1024

var whitespaceRun = regexp.MustCompile(`\s+`)

// Hasher computes HashSets for incoming documents.
type Hasher struct {
	logger *zap.Logger
}

// New builds a Hasher.
func New(logger *zap.Logger) *Hasher {
	return &Hasher{logger: logger}
}

// HashFile streams the bytes at path through SHA-256 in bounded chunks,
// returning the hex-encoded file_hash. It never loads the whole file into
// memory, satisfying the "stream-first" design note for multi-hundred-MB
// PDFs.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", cerrors.ErrHashing, path, err)
	}
	defer f.Close()

	sum := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(sum, bufio.NewReader(f), buf); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", cerrors.ErrHashing, path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// NormalizeForHash applies the normalization required before content
// hashing: decode to Unicode (callers pass a Go string, already UTF-8),
// lowercase, NFC-normalize, collapse whitespace runs, trim ends. Pure,
// deterministic and idempotent:
// NormalizeForHash(NormalizeForHash(t)) == NormalizeForHash(t).
func NormalizeForHash(text string) string {
	text = norm.NFC.String(text)
	text = strings.ToLower(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ContentHash returns the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	normalized := NormalizeForHash(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// pageHash SHA-256s one page's normalized text, used for per_page_hashes.
func pageHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeForHash(text)))
	return hex.EncodeToString(sum[:])
}

// Hash produces the full HashSet for a document given its raw bytes (via
// filePath, for streaming file_hash and PDF page extraction) and its
// already-extracted text. isPDF controls whether per-page hashing reads the
// PDF structure or falls back to a single synthetic page.
func (h *Hasher) Hash(filePath string, text string, isPDF bool) (model.HashSet, error) {
	fileHash, err := h.HashFile(filePath)
	if err != nil {
		return model.HashSet{}, err
	}

	contentHash := ContentHash(text)
	fuzzy := FuzzyHash(NormalizeForHash(text))

	var pages []string
	if isPDF {
		pages, err = h.perPageHashes(filePath)
		if err != nil {
			if h.logger != nil {
				h.logger.Warn("per-page hashing fell back to single page",
					zap.String("path", filePath), zap.Error(err))
			}
			pages = nil
		}
	}
	if len(pages) == 0 {
		// Non-PDF inputs (and PDFs whose page text failed to extract) get a
		// single synthetic "page 1" hash equal to content_hash so partial
		// overlap comparisons always have something to compare against.
		pages = []string{contentHash}
	}

	return model.HashSet{
		FileHash:      fileHash,
		ContentHash:   contentHash,
		FuzzyHash:     fuzzy,
		PerPageHashes: pages,
	}, nil
}

// perPageHashes extracts per-page text from a PDF via ledongthuc/pdf and
// SHA-256s each page's normalized text, following the page-iteration style
// of web/services/pdf_service.go's ExtractText.
func (h *Hasher) perPageHashes(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf %s: %v", cerrors.ErrHashing, path, err)
	}
	defer f.Close()

	total := r.NumPage()
	hashes := make([]string, 0, total)
	for pageNum := 1; pageNum <= total; pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			if h.logger != nil {
				h.logger.Warn("failed to extract page text",
					zap.String("path", path), zap.Int("page", pageNum), zap.Error(err))
			}
			continue
		}
		hashes = append(hashes, pageHash(text))
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%w: no extractable pages in %s", cerrors.ErrHashing, path)
	}
	return hashes, nil
}

// PageCount reports the number of pages in a PDF, or 1 for non-PDF inputs.
func (h *Hasher) PageCount(path string, isPDF bool) (int, error) {
	if !isPDF {
		return 1, nil
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open pdf %s: %v", cerrors.ErrHashing, path, err)
	}
	defer f.Close()
	n := r.NumPage()
	if n < 1 {
		return 1, nil
	}
	return n, nil
}
