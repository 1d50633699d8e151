package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/canonicalfile"
	"github.com/archival/canonicalize/internal/dedup"
	"github.com/archival/canonicalize/internal/model"
	"github.com/archival/canonicalize/internal/pipeline"
	"github.com/archival/canonicalize/internal/quality"
	"github.com/archival/canonicalize/internal/query"
	"github.com/archival/canonicalize/internal/selector"
	"github.com/archival/canonicalize/internal/store"
)

var (
	sourceDir       string
	sourceName      string
	sourceURL       string
	collectionName  string
	docFormat       string
	authorityFlag   string
	batchSizeFlag   int
	skipDuplicates  bool
	reportPath      string
)

var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize",
	Short: "Ingest a directory of documents into the index store",
	RunE:  runCanonicalize,
}

func init() {
	canonicalizeCmd.Flags().StringVar(&sourceDir, "source-dir", "", "directory of documents to ingest (required)")
	canonicalizeCmd.Flags().StringVar(&sourceName, "source-name", "", "name identifying this source (required)")
	canonicalizeCmd.Flags().StringVar(&collectionName, "collection", "", "collection name (required)")
	canonicalizeCmd.Flags().StringVar(&sourceURL, "url", "", "source URL, if any")
	canonicalizeCmd.Flags().StringVar(&docFormat, "format", "txt", "document format: txt|markdown|pdf|docx|other")
	canonicalizeCmd.Flags().StringVar(&authorityFlag, "authority", "other", "source authority bucket")
	canonicalizeCmd.Flags().IntVar(&batchSizeFlag, "batch-size", 0, "commit batch size (default from config)")
	canonicalizeCmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", false, "skip fuzzy-match step (dedup.Config.SkipFuzzy override)")
	canonicalizeCmd.Flags().StringVar(&reportPath, "report", "", "write the run's JSON report to this path")
	canonicalizeCmd.MarkFlagRequired("source-dir")
	canonicalizeCmd.MarkFlagRequired("source-name")
	canonicalizeCmd.MarkFlagRequired("collection")
}

func runCanonicalize(cmd *cobra.Command, args []string) error {
	if sourceDir == "" || sourceName == "" || collectionName == "" {
		return fmt.Errorf("%w: --source-dir, --source-name and --collection are required", cerrors.ErrInvalidInput)
	}
	if _, err := os.Stat(sourceDir); err != nil {
		return fmt.Errorf("%w: source-dir %s: %v", cerrors.ErrInvalidInput, sourceDir, err)
	}

	lockFile, err := store.Lock(cfg.LockPath)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := store.Unlock(cfg.LockPath, lockFile); uerr != nil && logger != nil {
			logger.Warn("failed to release store lock", zap.Error(uerr))
		}
	}()

	batchSize := batchSizeFlag
	if batchSize <= 0 {
		batchSize = cfg.BatchSize
	}

	pcfg := pipeline.Config{
		SourceName:       sourceName,
		SourceURL:        sourceURL,
		Collection:       collectionName,
		Format:           model.DocumentFormat(docFormat),
		Authority:        model.SourceAuthority(authorityFlag),
		BatchSize:        batchSize,
		Workers:          cfg.Workers,
		ProgressInterval: time.Duration(cfg.ProgressIntervalMS) * time.Millisecond,
		FileTimeout:      time.Duration(cfg.FileTimeoutSeconds) * time.Second,
		LockRetries:      cfg.StoreLockRetries,
		ErrorSampleLimit: cfg.ReportErrorSample,
		MinOCRQuality:    cfg.MinOCRQuality,
		DedupCfg: dedup.Config{
			FuzzyThreshold:    cfg.FuzzyThreshold,
			MetadataThreshold: cfg.MetadataThreshold,
			PartialMin:        cfg.PartialOverlapMin,
			PartialMax:        cfg.PartialOverlapMax,
			SkipFuzzy:         cfg.SkipFuzzy || skipDuplicates,
		},
		QualityWeights: quality.Weights{
			Word:       cfg.QualityWeights.Word,
			Corruption: cfg.QualityWeights.Corruption,
			Line:       cfg.QualityWeights.Line,
		},
		SelectionWeights: selector.Weights{
			OCRQuality:   cfg.SelectionWeights.OCRQuality,
			Redactions:   cfg.SelectionWeights.Redactions,
			Completeness: cfg.SelectionWeights.Completeness,
			Authority:    cfg.SelectionWeights.Authority,
			FileQuality:  cfg.SelectionWeights.FileQuality,
		},
	}

	onProgress := func(p pipeline.Progress) {
		logger.Info("progress",
			zap.Int("processed", p.Processed), zap.Int("total", p.Total),
			zap.Float64("files_per_sec", p.Throughput),
			zap.Int("duplicates", p.Duplicates), zap.Int("errors", p.Errors))
	}

	pl := pipeline.New(idx, pcfg, logger, onProgress)
	report, err := pl.ProcessDirectory(cmd.Context(), sourceDir)
	if err != nil {
		return fmt.Errorf("canonicalize run failed: %w", err)
	}

	if reportPath != "" {
		if err := writeReport(reportPath, report); err != nil {
			logger.Warn("failed to write report file", zap.Error(err))
		}
	}

	if err := writeArtifacts(cmd, report); err != nil {
		logger.Warn("failed to write canonical artifacts", zap.Error(err))
	}

	fmt.Printf("run_id=%s processed=%d created=%d duplicates=%d errors=%d skipped=%d low_quality=%d state=%s\n",
		report.RunID, report.Processed, report.Created, report.Duplicates, report.Errors, report.Skipped, report.LowQuality, report.State)

	if report.Errors > 0 {
		return errPartialFailure
	}
	return nil
}

func writeReport(path string, report pipeline.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// writeArtifacts regenerates every canonical Markdown artifact under
// OutputRoot after a run. This redundantly rewrites canonicals untouched
// by the current run as well, since there is no cheap "changed since last
// run" marker in the schema; fine at this engine's scale (tens of
// thousands of canonicals). Rewrites go through canonicalfile.Write, which
// parses any existing artifact first and carries unrecognized header keys
// into the new header, so externally-added keys survive regeneration.
func writeArtifacts(cmd *cobra.Command, report pipeline.Report) error {
	qe := query.New(idx)
	docs, err := qe.All(cmd.Context())
	if err != nil {
		return err
	}

	w := canonicalfile.New(cfg.OutputRoot)
	for _, doc := range docs {
		sources, err := qe.Sources(cmd.Context(), doc.CanonicalID)
		if err != nil {
			logger.Warn("failed to load sources for canonical", zap.String("canonical_id", doc.CanonicalID), zap.Error(err))
			continue
		}
		dups, err := qe.DuplicatesForCanonical(cmd.Context(), doc.CanonicalID)
		if err != nil {
			logger.Warn("failed to load duplicates for canonical", zap.String("canonical_id", doc.CanonicalID), zap.Error(err))
			continue
		}
		body, err := qe.TextSample(cmd.Context(), doc.CanonicalID)
		if err != nil {
			logger.Warn("failed to load text sample for canonical", zap.String("canonical_id", doc.CanonicalID), zap.Error(err))
		}

		refs := make([]canonicalfile.SourceRef, 0, len(sources))
		var primaryName string
		var primarySize int64
		var primaryFormat model.DocumentFormat
		for _, src := range sources {
			refs = append(refs, canonicalfile.SourceRef{
				SourceName:   src.SourceName,
				URL:          src.SourceURL,
				DownloadDate: src.DownloadDate,
				Collection:   src.Collection,
				QualityScore: src.QualityScore,
			})
			if src.ID == doc.PrimarySourceID {
				primaryName = src.SourceName
				primarySize = src.FileSize
				primaryFormat = src.Format
			}
		}

		meta := model.MetadataRecord{
			DocumentType: doc.DocumentType,
			Title:        doc.Title,
			Date:         doc.Date,
			Email:        doc.Email,
			CourtFiling:  doc.CourtFiling,
			Financial:    doc.Financial,
		}

		artifact := canonicalfile.Document{
			Canonical:       doc,
			Metadata:        meta,
			Sources:         refs,
			PrimarySource:   primaryName,
			DuplicatesFound: len(dups),
			FuzzyHash:       doc.FuzzyHash,
			FileSize:        primarySize,
			Format:          primaryFormat,
			Body:            body,
		}
		if _, err := w.Write(artifact); err != nil {
			logger.Warn("failed to write canonical artifact", zap.String("canonical_id", doc.CanonicalID), zap.Error(err))
		}
	}
	return nil
}
