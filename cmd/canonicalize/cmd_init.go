package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// initCmd creates an empty index store. It is idempotent: EnsureSchema
// (run in PersistentPreRunE, same as every other command) already creates
// the store on first use, so init only needs to report success.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty index store (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("index store ready", zap.String("store_path", cfg.StorePath))
		fmt.Println("index store ready:", cfg.StorePath)
		return nil
	},
}
