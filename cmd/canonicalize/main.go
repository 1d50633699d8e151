// Package main implements the canonicalize CLI: ingest, query, and init
// commands over the document canonicalization engine's index store.
//
// File index:
//   - main.go               - entry point, rootCmd, global flags, init()
//   - cmd_init.go            - initCmd
//   - cmd_canonicalize.go    - canonicalizeCmd, runCanonicalize()
//   - cmd_query.go           - queryCmd and its subcommands
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/archival/canonicalize/config"
	cerrors "github.com/archival/canonicalize/errors"
	"github.com/archival/canonicalize/internal/store"
)

// Exit codes: 0 success, 1 bad args, 2 runtime failure, 3 partial failure
// (some files logged as errors, run still completed).
const (
	exitBadArgs        = 1
	exitRuntimeFailure = 2
	exitPartialFailure = 3
)

// errPartialFailure signals a completed run that still had per-file
// errors, so main can exit 3 instead of 1/2; main prints only this short
// message to stderr (the report itself already carries the detail).
var errPartialFailure = errors.New("run completed with errors")

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errPartialFailure):
		return exitPartialFailure
	case cerrors.IsInvalidInput(err):
		return exitBadArgs
	default:
		return exitRuntimeFailure
	}
}

var (
	verbose    bool
	configPath string

	logger *zap.Logger
	cfg    *config.Config
	idx    *store.Store
)

// rootCmd is the canonicalize CLI's entry point.
var rootCmd = &cobra.Command{
	Use:   "canonicalize",
	Short: "Document canonicalization engine",
	Long: `canonicalize deduplicates and canonicalizes a corpus of documents
across multiple sources, keeping one best-quality copy per underlying
document plus a full record of where every duplicate and partial overlap
came from.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = config.InitLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(logger, configPath)
		if err != nil {
			return err
		}

		idx, err = store.New(cfg.StorePath, logger)
		if err != nil {
			return fmt.Errorf("failed to open index store: %w", err)
		}
		return idx.EnsureSchema(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if idx != nil {
			_ = idx.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: ./config.yaml)")

	rootCmd.AddCommand(initCmd, canonicalizeCmd, queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
