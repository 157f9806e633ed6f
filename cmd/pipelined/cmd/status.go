package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/docpipeline/internal/app"
	"github.com/vitaliisemenov/docpipeline/internal/core"
)

var statusStage string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of one (document, stage) pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if documentID == "" || statusStage == "" {
			return fmt.Errorf("--document-id and --stage are required")
		}

		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Scheduler.StageStatus(cmd.Context(), documentID, core.Stage(statusStage))
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var listStagesCmd = &cobra.Command{
	Use:   "list-stages",
	Short: "List every recorded stage status for a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		if documentID == "" {
			return fmt.Errorf("--document-id is required")
		}

		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Scheduler.ListStages(cmd.Context(), documentID)
		if err != nil {
			return err
		}
		return printJSON(statuses)
	},
}

func init() {
	statusCmd.Flags().StringVar(&documentID, "document-id", "", "document id (required)")
	statusCmd.Flags().StringVar(&statusStage, "stage", "", "stage name (required)")
	listStagesCmd.Flags().StringVar(&documentID, "document-id", "", "document id (required)")
}
