// Package pipeline implements the batch ingest pipeline: iterating a
// source directory, running Hasher -> Metadata -> Quality -> Deduplicator
// -> Selector -> Index Store for each file, and emitting progress events
// and a final Report. The bounded worker pool follows golang.org/x/sync's
// errgroup+semaphore pattern (promoted to a direct dependency, per
// DESIGN.md): hashing and quality assessment for independent files run in
// parallel across workers, while store commits stay single-writer and
// serialized.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/dedup"
	"github.com/archival/canonicalize/internal/hasher"
	"github.com/archival/canonicalize/internal/metadata"
	"github.com/archival/canonicalize/internal/model"
	"github.com/archival/canonicalize/internal/quality"
	"github.com/archival/canonicalize/internal/selector"
	"github.com/archival/canonicalize/internal/store"
)

// Config holds the Pipeline's tunables.
type Config struct {
	SourceName       string
	SourceURL        string
	Collection       string
	Format           model.DocumentFormat
	Authority        model.SourceAuthority
	BatchSize        int
	Workers          int
	ProgressInterval time.Duration
	FileTimeout      time.Duration
	LockRetries      int     // store contention retries before aborting the batch
	ErrorSampleLimit int     // first-K error messages kept on the Report
	MinOCRQuality    float64 // warn threshold: files below it are counted on the Report
	DedupCfg         dedup.Config
	QualityWeights   quality.Weights
	SelectionWeights selector.Weights
}

// Progress is one progress event.
type Progress struct {
	Processed  int
	Total      int
	Throughput float64 // files/sec, EMA over last 60s
	Duplicates int
	Errors     int
}

// ErrorEntry is one recorded per-file failure, for the final Report.
type ErrorEntry struct {
	FilePath string
	Kind     string
	Message  string
}

// Report is the Pipeline's final output, optionally also written to disk
// as JSON by the --report flag.
type Report struct {
	RunID        string // correlates this run's processing_log rows for audit
	SourceDir    string
	Processed    int
	Created      int
	Duplicates   int
	Errors       int
	Skipped      int
	LowQuality   int    // files whose ocr_quality fell below the configured warn threshold
	State        string // Completed | Aborted
	StartedAt    time.Time
	FinishedAt   time.Time
	ErrorSamples []ErrorEntry
}

// Pipeline orchestrates one canonicalize run.
type Pipeline struct {
	store    *store.Store
	hasher   *hasher.Hasher
	metadata *metadata.Extractor
	quality  *quality.Assessor
	dedup    *dedup.Deduplicator
	selector *selector.Selector
	cfg      Config
	logger   *zap.Logger

	onProgress func(Progress)
}

// New builds a Pipeline wired to the given store.
func New(s *store.Store, cfg Config, logger *zap.Logger, onProgress func(Progress)) *Pipeline {
	return &Pipeline{
		store:      s,
		hasher:     hasher.New(logger),
		metadata:   metadata.New(),
		quality:    quality.New(cfg.QualityWeights),
		dedup:      dedup.New(s, cfg.DedupCfg, logger),
		selector:   selector.New(cfg.SelectionWeights),
		cfg:        cfg,
		logger:     logger,
		onProgress: onProgress,
	}
}

// fileTask is one discovered file plus its format classification.
type fileTask struct {
	path  string
	isPDF bool
	size  int64
}

// hashedFile is the output of stage 1 (hashing/metadata/quality), ready to
// be deduplicated and committed.
type hashedFile struct {
	task       fileTask
	hashes     model.HashSet
	meta       model.MetadataRecord
	qual       model.QualityAssessment
	pageCnt    int
	textSample string
	skipped    bool
	err        error
	errKind    string
}

// ProcessDirectory walks sourceDir and ingests every file it finds.
// Hashing runs across a bounded worker pool; store commits happen one file
// at a time in the order the workers finish hashing (grouped BatchSize files
// per transaction), in lock-step with hashing completion, so memory stays
// bounded independent of collection size —
// there is no unbounded in-memory queue absorbing backpressure.
func (p *Pipeline) ProcessDirectory(ctx context.Context, sourceDir string) (Report, error) {
	report := Report{RunID: uuid.NewString(), SourceDir: sourceDir, StartedAt: time.Now(), State: "Running"}

	tasks, err := discoverFiles(sourceDir, p.cfg.Format)
	if err != nil {
		return report, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].path < tasks[j].path })

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	// Cancel releases any worker still blocked on the results channel if
	// the run returns early on a fatal store error.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	results := make(chan hashedFile, workers)
	var wg sync.WaitGroup

	// Submission runs concurrently with collection: once the results buffer
	// and every worker slot are full, sem.Acquire blocks until the collector
	// below drains a result, keeping hashing and commits in lock-step with
	// no unbounded queue in between.
	go func() {
		for _, t := range tasks {
			t := t
			if gctx.Err() != nil {
				break
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			wg.Add(1)
			g.Go(func() error {
				defer sem.Release(1)
				defer wg.Done()
				hf := p.hashWithTimeout(gctx, t)
				select {
				case results <- hf:
				case <-gctx.Done():
				}
				return nil
			})
		}
		wg.Wait()
		close(results)
	}()

	ticker := time.NewTicker(progressInterval(p.cfg.ProgressInterval))
	defer ticker.Stop()

	throughput := newEMA()
	batch := make([]hashedFile, 0, p.cfg.BatchSize)
	aborted := false

	// Batch commits survive cancellation: on abort the in-flight batch is
	// still committed before the Report is returned, so a killed run leaves
	// a committed prefix behind rather than losing hashed work.
	flushCtx := context.WithoutCancel(ctx)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.commitBatch(flushCtx, report.RunID, batch, &report); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

collect:
	for {
		select {
		case hf, ok := <-results:
			if !ok {
				break collect
			}
			if hf.err != nil {
				report.Errors++
				report.ErrorSamples = appendSample(report.ErrorSamples, ErrorEntry{
					FilePath: hf.task.path, Kind: hf.errKind, Message: hf.err.Error(),
				}, p.cfg.ErrorSampleLimit)
				continue
			}
			if hf.skipped {
				report.Skipped++
				continue
			}
			batch = append(batch, hf)
			report.Processed++
			if p.cfg.MinOCRQuality > 0 && hf.qual.OCRQuality < p.cfg.MinOCRQuality {
				report.LowQuality++
			}
			throughput.tick()
			if len(batch) >= p.cfg.BatchSize {
				if err := flush(); err != nil {
					return report, err
				}
			}
		case <-ticker.C:
			if p.onProgress != nil {
				p.onProgress(Progress{
					Processed:  report.Processed,
					Total:      len(tasks),
					Throughput: throughput.rate(),
					Duplicates: report.Duplicates,
					Errors:     report.Errors,
				})
			}
		case <-ctx.Done():
			aborted = true
			break collect
		}
	}

	if err := flush(); err != nil {
		return report, err
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	if aborted {
		report.State = "Aborted"
	} else {
		report.State = "Completed"
	}
	return report, nil
}

// hashWithTimeout bounds hashStage by FileTimeout (default 60s per file),
// so one pathological file cannot stall an entire run. The hashing
// primitives are plain CPU-bound calls with no context parameter, so the
// timeout is enforced by racing the result against the clock rather than
// by cancelling work already in flight; a slow file is reported as a
// timeout error and the worker moves to the next file.
func (p *Pipeline) hashWithTimeout(ctx context.Context, t fileTask) hashedFile {
	timeout := p.cfg.FileTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	done := make(chan hashedFile, 1)
	go func() { done <- p.hashStage(ctx, t) }()

	select {
	case hf := <-done:
		return hf
	case <-time.After(timeout):
		return hashedFile{task: t, err: fmt.Errorf("hashing exceeded %s", timeout), errKind: "timeout"}
	case <-ctx.Done():
		return hashedFile{task: t, err: fmt.Errorf("%w: %v", cerrors.ErrCancelled, ctx.Err()), errKind: "cancelled"}
	}
}

// hashStage runs Hasher -> Metadata -> Quality for one file, recovering
// per-file errors locally rather than letting one bad file fail the run.
// Already-indexed files (keyed by source_name + file_path) are skipped
// before any hashing work, which is what makes restarting a run over the
// same directory cheap.
func (p *Pipeline) hashStage(ctx context.Context, t fileTask) hashedFile {
	if already, err := p.store.IsProcessed(ctx, p.store.DB(), p.cfg.SourceName, t.path); err == nil && already {
		return hashedFile{task: t, skipped: true}
	}

	text, err := readText(t.path)
	if err != nil {
		return hashedFile{task: t, err: err, errKind: "io"}
	}

	hashes, err := p.hasher.Hash(t.path, text, t.isPDF)
	if err != nil {
		return hashedFile{task: t, err: err, errKind: "hashing"}
	}
	pageCount, err := p.hasher.PageCount(t.path, t.isPDF)
	if err != nil {
		pageCount = len(hashes.PerPageHashes)
	}

	meta := p.metadata.Extract(text, "")
	qual := p.quality.Assess(text)
	sample := truncateSample(hasher.NormalizeForHash(text))

	return hashedFile{task: t, hashes: hashes, meta: meta, qual: qual, pageCnt: pageCount, textSample: sample}
}

// commitBatch commits up to BatchSize files in a single transaction,
// amortizing commit overhead across the batch. Each file runs inside its own
// savepoint: a failing file's writes are rolled back to that savepoint, the
// file is logged and skipped, and the rest of the batch still commits, so a
// partial-batch failure still persists the prefix that succeeded. Store
// contention opening the transaction is retried with exponential backoff
// up to LockRetries times before the batch aborts.
func (p *Pipeline) commitBatch(ctx context.Context, runID string, batch []hashedFile, report *Report) error {
	tx, err := p.beginWithRetry(ctx)
	if err != nil {
		return err
	}

	var firstFailure error
	for _, hf := range batch {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT ingest_file"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch savepoint failed: %w", err)
		}
		created, isDuplicate, err := p.commitOne(ctx, runID, tx, hf)
		if err != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ingest_file")
			if firstFailure == nil {
				firstFailure = err
			}
			report.Errors++
			report.ErrorSamples = appendSample(report.ErrorSamples, ErrorEntry{
				FilePath: hf.task.path, Kind: "commit", Message: err.Error(),
			}, p.cfg.ErrorSampleLimit)
			if p.logger != nil {
				p.logger.Warn("commit failed for file, continuing batch",
					zap.String("path", hf.task.path), zap.Error(err))
			}
			continue
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT ingest_file")
		if created {
			report.Created++
		}
		if isDuplicate {
			report.Duplicates++
		}
	}

	if firstFailure != nil {
		_ = p.store.AppendLog(ctx, tx, model.ProcessingLog{
			Operation: "commit_batch", Source: p.cfg.SourceName, Status: "warning",
			Message: firstFailure.Error(),
			Details: map[string]any{"run_id": runID},
		})
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("batch commit failed: %w", err)
	}
	return nil
}

// beginWithRetry opens the batch transaction, retrying transient store
// contention with exponential backoff. Exhausting the retry budget aborts
// the batch and surfaces the last error to the caller.
func (p *Pipeline) beginWithRetry(ctx context.Context) (*sql.Tx, error) {
	retries := p.cfg.LockRetries
	if retries <= 0 {
		retries = 5
	}
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		tx, err := p.store.BeginTx(ctx)
		if err == nil {
			return tx, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if p.logger != nil {
			p.logger.Warn("store transaction open failed, backing off",
				zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, fmt.Errorf("store contention: retries exhausted: %w", lastErr)
}

// commitOne runs Deduplicator -> Selector -> Index Store writes for one
// file as a single logical ingest. It reports whether a new canonical was
// created and whether any duplicate row was written, for the Report's
// counts.
func (p *Pipeline) commitOne(ctx context.Context, runID string, tx *sql.Tx, hf hashedFile) (created bool, isDuplicate bool, err error) {
	source := model.DocumentSource{
		SourceName:     p.cfg.SourceName,
		SourceURL:      p.cfg.SourceURL,
		Collection:     p.cfg.Collection,
		DownloadDate:   time.Now(),
		FilePath:       hf.task.path,
		QualityScore:   hf.qual.OCRQuality,
		FileSize:       hf.task.size,
		Format:         p.cfg.Format,
		Authority:      p.cfg.Authority,
		OCRQuality:     hf.qual.OCRQuality,
		HasRedactions:  hf.qual.HasRedactions,
		RedactionCount: hf.qual.RedactionCount,
		Completeness:   hf.qual.Completeness,
	}

	in := dedup.Incoming{
		Hashes:     hf.hashes,
		Metadata:   hf.meta,
		Quality:    hf.qual,
		Source:     source,
		TextSample: hf.textSample,
	}

	result, err := p.dedup.Classify(ctx, tx, in)
	if err != nil {
		return false, false, err
	}

	source.CanonicalID = result.CanonicalID

	if result.Created {
		sig := ""
		if hf.meta.DocumentType == model.DocumentTypeEmail && hf.meta.Email != nil {
			if s, ok := metadataSignature(hf.meta.Email); ok {
				sig = s
			}
		}
		if err := p.store.CreateCanonical(ctx, tx, store.NewCanonicalRow{
			CanonicalID: result.CanonicalID,
			Hashes:      hf.hashes,
			Metadata:    hf.meta,
			Quality:     hf.qual,
			PageCount:   hf.pageCnt,
			MetadataSig: sig,
			TextSample:  hf.textSample,
		}); err != nil {
			return false, false, err
		}
	}

	sourceID, inserted, err := p.store.AttachSource(ctx, tx, source)
	if err != nil {
		return false, false, err
	}
	if !inserted {
		return result.Created, len(result.DuplicateRows) > 0, nil // already indexed; restart no-op
	}

	for _, row := range result.DuplicateRows {
		row.SourceID = sourceID
		if err := p.store.WriteDuplicateGroup(ctx, tx, row); err != nil {
			return false, false, err
		}
	}
	for _, row := range result.OverlapRows {
		if err := p.store.WritePartialOverlap(ctx, tx, row); err != nil && p.logger != nil {
			p.logger.Warn("partial overlap write failed", zap.Error(err))
		}
	}

	if err := p.reselectPrimary(ctx, tx, result.CanonicalID); err != nil {
		return false, false, err
	}

	status := "ok"
	if result.ReviewNeeded {
		status = "warning"
	}
	if err := p.store.AppendLog(ctx, tx, model.ProcessingLog{
		Operation: "ingest", Source: p.cfg.SourceName, Status: status,
		Message: fmt.Sprintf("ingested %s into %s", hf.task.path, result.CanonicalID),
		Details: map[string]any{"review_reason": result.ReviewReason, "run_id": runID},
	}); err != nil {
		return false, false, err
	}

	return result.Created, len(result.DuplicateRows) > 0, nil
}

// reselectPrimary re-runs the Canonical Selector over every source of a
// canonical whenever a new source is attached. Every source's own quality
// assessment lives on its document_sources row (written by AttachSource at
// ingest time), so this reads each source's real, independent evidence
// straight from the store rather than standing in a shared value for
// sources other than the one just ingested — that is what keeps the
// primary an honest argmax as a canonical accumulates sources over many
// separate runs.
func (p *Pipeline) reselectPrimary(ctx context.Context, tx *sql.Tx, canonicalID string) error {
	sources, err := p.store.SourcesForCanonical(ctx, tx, canonicalID)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	candidates := make([]selector.Candidate, 0, len(sources))
	for _, src := range sources {
		candidates = append(candidates, selector.Candidate{
			Source:         src,
			OCRQuality:     src.OCRQuality,
			HasRedactions:  src.HasRedactions,
			RedactionCount: src.RedactionCount,
			Completeness:   src.Completeness,
		})
	}

	selection, err := p.selector.SelectPrimary(candidates)
	if err != nil {
		return err
	}
	won := selection.Source
	return p.store.UpdatePrimarySource(ctx, tx, canonicalID, won.ID, selection.Reason, model.QualityAssessment{
		OCRQuality:     won.OCRQuality,
		HasRedactions:  won.HasRedactions,
		RedactionCount: won.RedactionCount,
		Completeness:   won.Completeness,
	})
}

func metadataSignature(f *model.EmailFields) (string, bool) {
	return metadata.MetadataSignature(f)
}

func truncateSample(s string) string {
	if len(s) > dedup.TextSampleLen {
		return s[:dedup.TextSampleLen]
	}
	return s
}

// appendSample bounds the Report's error samples: the full error count is
// always tracked, but only the first limit messages are kept
// (maxErrorSamples when no limit is configured).
const maxErrorSamples = 20

func appendSample(samples []ErrorEntry, e ErrorEntry, limit int) []ErrorEntry {
	if limit <= 0 {
		limit = maxErrorSamples
	}
	if len(samples) >= limit {
		return samples
	}
	return append(samples, e)
}

func progressInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

// discoverFiles walks sourceDir and returns every non-directory entry; the
// format argument does not filter, and a file counts as a PDF when its
// extension is .pdf.
func discoverFiles(sourceDir string, format model.DocumentFormat) ([]fileTask, error) {
	var tasks []fileTask
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		isPDF := ext == ".pdf"
		info, err := d.Info()
		if err != nil {
			return nil
		}
		tasks = append(tasks, fileTask{path: path, isPDF: isPDF, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover files in %s: %w", sourceDir, err)
	}
	return tasks, nil
}

// readText loads a document's extracted text. For .txt/.md inputs this is
// the file itself; for PDFs the caller relies on the hasher's own PDF text
// extraction for per-page hashing, and here reads a plain-text sidecar
// (<file>.txt) if present, since OCR text extraction itself is an external
// concern — this engine consumes already-extracted text, it doesn't
// produce it.
func readText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		sidecar := path + ".txt"
		if b, err := os.ReadFile(sidecar); err == nil {
			return string(b), nil
		}
		return "", nil
	}
}

// ema is a simple exponential-moving-average throughput tracker, in
// files/sec over roughly the last 60s: each tick weighs the rate since the
// previous tick by that interval's share of emaWindow.
type ema struct {
	mu       sync.Mutex
	count    int
	started  time.Time
	lastTick time.Time
	value    float64
}

func newEMA() *ema {
	now := time.Now()
	return &ema{started: now, lastTick: now}
}

const emaWindow = 60 * time.Second
const emaAlpha = 2.0 / (60.0 + 1.0)

func (e *ema) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	delta := now.Sub(e.lastTick).Seconds()
	e.lastTick = now
	instant := 0.0
	if delta > 0 {
		instant = 1.0 / delta
	}
	if e.count == 0 {
		e.value = instant
	} else {
		alpha := delta / emaWindow.Seconds()
		if alpha > 1 {
			alpha = 1
		}
		e.value = alpha*instant + (1-alpha)*e.value
	}
	e.count++
}

func (e *ema) rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}
