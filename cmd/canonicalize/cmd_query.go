package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/query"
)

// queryCmd is the parent of the read-only query surface: stats, recent N,
// duplicates, sources CID, quality, search Q, and export {json|csv} PATH.
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read-only queries over the index store",
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate counts across the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		qe := query.New(idx)
		s, err := qe.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("canonicals:        %d\n", s.TotalCanonicals)
		fmt.Printf("sources:           %d\n", s.TotalSources)
		fmt.Printf("duplicate groups:  %d\n", s.TotalDuplicates)
		fmt.Printf("partial overlaps:  %d\n", s.TotalOverlaps)
		fmt.Printf("dedup ratio:       %.4f\n", s.DedupRatio)

		fmt.Println("by document type:")
		for _, t := range sortedKeys(s.ByDocumentType) {
			fmt.Printf("  %-16s %d\n", t, s.ByDocumentType[t])
		}
		fmt.Println("by duplicate type:")
		for _, t := range sortedKeys(s.ByDuplicateType) {
			fmt.Printf("  %-16s %d\n", t, s.ByDuplicateType[t])
		}
		return nil
	},
}

var queryRecentCmd = &cobra.Command{
	Use:   "recent N",
	Short: "List the N most recently created canonical documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: recent expects an integer, got %q", cerrors.ErrInvalidInput, args[0])
		}
		qe := query.New(idx)
		docs, err := qe.Recent(cmd.Context(), n)
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%s\t%s\t%s\t%s\n", d.CanonicalID, d.DocumentType, d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), d.Title)
		}
		return nil
	},
}

var queryDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List duplicate groups of size >= 2 sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		qe := query.New(idx)
		summaries, err := qe.Duplicates(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range summaries {
			fmt.Printf("%s\tsources=%d\n", s.CanonicalID, s.SourceCount)
			for _, g := range s.Duplicates {
				fmt.Printf("  %s\tsimilarity=%.4f\tmethod=%s\n", g.DuplicateType, g.SimilarityScore, g.DetectionMethod)
			}
		}
		return nil
	},
}

var querySourcesCmd = &cobra.Command{
	Use:   "sources CID",
	Short: "List every source attached to a canonical document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qe := query.New(idx)
		sources, err := qe.Sources(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("%w: no sources for canonical %s", cerrors.ErrNotFound, args[0])
		}
		for _, src := range sources {
			fmt.Printf("%s\t%s\t%s\tquality=%.4f\tfile=%s\n", src.SourceName, src.Collection, src.Format, src.QualityScore, src.FilePath)
		}
		return nil
	},
}

var queryQualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Print canonical-document counts by OCR quality band",
	RunE: func(cmd *cobra.Command, args []string) error {
		qe := query.New(idx)
		bands, err := qe.Quality(cmd.Context())
		if err != nil {
			return err
		}
		for _, b := range bands {
			fmt.Printf("%-20s %d\n", b.Label, b.Count)
		}
		return nil
	},
}

var querySearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Substring search over title and email subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qe := query.New(idx)
		docs, err := qe.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%s\t%s\t%s\n", d.CanonicalID, d.DocumentType, d.Title)
		}
		return nil
	},
}

var queryExportCmd = &cobra.Command{
	Use:   "export {json|csv} PATH",
	Short: "Export every canonical document as JSON or CSV",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := query.ExportFormat(args[0])
		if format != query.ExportJSON && format != query.ExportCSV {
			return fmt.Errorf("%w: export format must be json or csv, got %q", cerrors.ErrInvalidInput, args[0])
		}
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("%w: create export file %s: %v", cerrors.ErrInvalidInput, args[1], err)
		}
		defer f.Close()

		qe := query.New(idx)
		if err := qe.Export(cmd.Context(), f, format); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", args[1])
		return nil
	},
}

func init() {
	queryCmd.AddCommand(queryStatsCmd, queryRecentCmd, queryDuplicatesCmd, querySourcesCmd, queryQualityCmd, querySearchCmd, queryExportCmd)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
