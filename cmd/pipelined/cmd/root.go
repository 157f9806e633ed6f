package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pipelined",
	Short: "Document ingestion pipeline control surface",
	Long: `pipelined drives the document ingestion pipeline: run one stage, a
batch of stages, every stage, or resume a document at its first
incomplete stage. Each invocation acquires a per-(document, stage)
advisory lock, tracks progress in Postgres, and schedules a background
retry on transient failure.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults and env vars apply otherwise)")

	rootCmd.AddCommand(runStageCmd)
	rootCmd.AddCommand(runStagesCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(smartResumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listStagesCmd)
	rootCmd.AddCommand(migrateCmd)
}
