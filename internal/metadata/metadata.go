// Package metadata implements the metadata extractor: document-type
// detection and type-specific field parsing from extracted
// text. It follows the regex-table extraction pattern of
// rag/stat_metadata.go's testPatterns table and
// ExtractStatisticalMetadata entry point: a table of compiled patterns
// plus a single best-effort, never-erroring extraction function.
package metadata

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/archival/canonicalize/internal/model"
)

// typeSignature pairs a detection pattern with the document type it implies.
type typeSignature struct {
	regex *regexp.Regexp
	typ   model.DocumentType
}

// typeSignatures detects document_type by keyword/pattern when no hint is
// given. Ordered most-specific first.
var typeSignatures = []typeSignature{
	{regexp.MustCompile(`(?i)^\s*from:.*\n.*to:`), model.DocumentTypeEmail},
	{regexp.MustCompile(`(?i)\bsubject:\s`), model.DocumentTypeEmail},
	{regexp.MustCompile(`(?i)\bcase\s*(no\.?|number)\s*[:#]?\s*\d`), model.DocumentTypeCourtFiling},
	{regexp.MustCompile(`(?i)\bsuperior court|district court|united states district court\b`), model.DocumentTypeCourtFiling},
	{regexp.MustCompile(`(?i)\bsubpoena\b`), model.DocumentTypeSubpoena},
	{regexp.MustCompile(`(?i)\bdeposition of\b`), model.DocumentTypeDeposition},
	{regexp.MustCompile(`(?i)\bfederal bureau of investigation|\bfbi\b`), model.DocumentTypeFBIReport},
	{regexp.MustCompile(`(?i)\binvoice\s*(no\.?|number|#)`), model.DocumentTypeInvoice},
	{regexp.MustCompile(`(?i)\bflight\s+(log|number|manifest)\b`), model.DocumentTypeFlightLog},
	{regexp.MustCompile(`(?i)\baddress\s+book\b`), model.DocumentTypeAddressBook},
	{regexp.MustCompile(`(?i)^\s*dear\s+\w+`), model.DocumentTypeLetter},
	{regexp.MustCompile(`(?i)^\s*memo(randum)?\b`), model.DocumentTypeMemo},
}

var (
	emailFrom   = regexp.MustCompile(`(?im)^from:\s*(.+)$`)
	emailTo     = regexp.MustCompile(`(?im)^to:\s*(.+)$`)
	emailCC     = regexp.MustCompile(`(?im)^cc:\s*(.+)$`)
	emailSubj   = regexp.MustCompile(`(?im)^subject:\s*(.+)$`)
	emailDate   = regexp.MustCompile(`(?im)^date:\s*(.+)$`)
	emailAttach = regexp.MustCompile(`(?im)^attachments?:\s*(.+)$`)

	caseNumberRe = regexp.MustCompile(`(?i)case\s*(?:no\.?|number)\s*[:#]?\s*([A-Za-z0-9\-:]+)`)
	courtRe      = regexp.MustCompile(`(?im)^(.*(?:court).*)$`)
	filingTypeRe = regexp.MustCompile(`(?i)\b(motion|deposition|exhibit|order)\b`)

	amountRe          = regexp.MustCompile(`\$\s?([0-9][0-9,]*(?:\.[0-9]{2})?)`)
	transactionDateRe = regexp.MustCompile(`(?i)transaction\s+date\s*[:#]?\s*([A-Za-z0-9,/\- ]+)`)
	accountRe         = regexp.MustCompile(`(?i)account\s*(?:no\.?|number|#)?\s*[:#]?\s*([A-Za-z0-9\-]+)`)

	subjectPrefix = regexp.MustCompile(`(?i)^(re|fwd|fw):\s*`)
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

// Extractor extracts MetadataRecords from document text.
type Extractor struct{}

// New builds an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses document-type-specific structured fields from text. It
// never fails: unparseable or absent fields come back nil/zero and the
// best-effort record is always returned.
func (e *Extractor) Extract(text string, hint model.DocumentType) model.MetadataRecord {
	docType := hint
	if docType == "" || !model.ValidDocumentTypes[docType] {
		docType = detectType(text)
	}

	rec := model.MetadataRecord{
		DocumentType: docType,
		Title:        extractTitle(text),
	}

	switch docType {
	case model.DocumentTypeEmail:
		rec.Email = extractEmailFields(text)
		rec.Date = rec.Email.Date
	case model.DocumentTypeCourtFiling, model.DocumentTypeSubpoena, model.DocumentTypeDeposition:
		rec.CourtFiling = extractCourtFields(text)
	case model.DocumentTypeInvoice:
		rec.Financial = extractFinancialFields(text)
		rec.Date = rec.Financial.TransactionDate
	}

	return rec
}

func detectType(text string) model.DocumentType {
	for _, sig := range typeSignatures {
		if sig.regex.MatchString(text) {
			return sig.typ
		}
	}
	return model.DocumentTypeOther
}

func extractTitle(text string) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if len(trimmed) > 200 {
				trimmed = trimmed[:200]
			}
			return trimmed
		}
	}
	return ""
}

func extractEmailFields(text string) *model.EmailFields {
	f := &model.EmailFields{}
	if m := emailFrom.FindStringSubmatch(text); len(m) == 2 {
		f.From = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := emailTo.FindStringSubmatch(text); len(m) == 2 {
		f.To = splitAddresses(m[1])
	}
	if m := emailCC.FindStringSubmatch(text); len(m) == 2 {
		f.CC = splitAddresses(m[1])
	}
	if m := emailSubj.FindStringSubmatch(text); len(m) == 2 {
		f.Subject = strings.TrimSpace(m[1])
	}
	if m := emailDate.FindStringSubmatch(text); len(m) == 2 {
		if d, ok := parseDate(m[1]); ok {
			f.Date = &d
		}
	}
	if m := emailAttach.FindStringSubmatch(text); len(m) == 2 {
		for _, a := range strings.Split(m[1], ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				f.Attachments = append(f.Attachments, a)
			}
		}
	}
	return f
}

func splitAddresses(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	var out []string
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizedSubject strips the Re:/Fwd:/FW: prefix set (case-insensitively,
// possibly repeated) and trims whitespace, for use by the deduplicator's
// metadata signature.
func NormalizedSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := subjectPrefix.ReplaceAllString(s, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(s)
}

func extractCourtFields(text string) *model.CourtFilingFields {
	f := &model.CourtFilingFields{}
	if m := caseNumberRe.FindStringSubmatch(text); len(m) == 2 {
		f.CaseNumber = strings.TrimSpace(m[1])
	}
	if m := courtRe.FindStringSubmatch(text); len(m) == 2 {
		f.Court = strings.TrimSpace(m[1])
	}
	if m := filingTypeRe.FindStringSubmatch(text); len(m) == 2 {
		f.FilingType = strings.ToLower(m[1])
	}
	return f
}

func extractFinancialFields(text string) *model.FinancialFields {
	f := &model.FinancialFields{}
	if m := amountRe.FindStringSubmatch(text); len(m) == 2 {
		cleaned := strings.ReplaceAll(m[1], ",", "")
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
			f.Amount = &v
		}
	}
	if m := transactionDateRe.FindStringSubmatch(text); len(m) == 2 {
		if d, ok := parseDate(m[1]); ok {
			f.TransactionDate = &d
		}
	}
	if m := accountRe.FindStringSubmatch(text); len(m) == 2 {
		f.Account = strings.TrimSpace(m[1])
	}
	return f
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MetadataSignature builds the (from, sorted-set(to), date, normalized
// subject) signature the deduplicator uses to match emails by metadata
// alone. Returns false if the fields needed for a signature are absent.
func MetadataSignature(f *model.EmailFields) (string, bool) {
	if f == nil || f.From == "" {
		return "", false
	}
	to := append([]string(nil), f.To...)
	sort.Strings(to)
	dateStr := ""
	if f.Date != nil {
		dateStr = f.Date.Format("2006-01-02")
	}
	sig := f.From + "|" + strings.Join(to, ",") + "|" + dateStr + "|" + NormalizedSubject(f.Subject)
	return sig, true
}
