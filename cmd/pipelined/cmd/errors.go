package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/docpipeline/internal/app"
	"github.com/vitaliisemenov/docpipeline/internal/errorlog"
)

var (
	errorID        string
	correlationID  string
	resolvedBy     string
	resolutionNote string
	unresolvedN    int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect and resolve durable pipeline error records",
}

var errorsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a pipeline error by id, or every error sharing a correlation id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		errs := errorlog.NewLogger(a.DB.Pool(), a.Logger)

		if correlationID != "" {
			rows, err := errs.ByCorrelationID(cmd.Context(), correlationID)
			if err != nil {
				return err
			}
			return printJSON(rows)
		}
		if errorID == "" {
			return fmt.Errorf("--error-id or --correlation-id is required")
		}
		pe, err := errs.ByID(cmd.Context(), errorID)
		if err != nil {
			return err
		}
		return printJSON(pe)
	},
}

var errorsListUnresolvedCmd = &cobra.Command{
	Use:   "list-unresolved",
	Short: "List pipeline errors not yet resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		errs := errorlog.NewLogger(a.DB.Pool(), a.Logger)
		rows, err := errs.ListUnresolved(cmd.Context(), unresolvedN)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var errorsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Mark a pipeline error resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		if errorID == "" || resolvedBy == "" {
			return fmt.Errorf("--error-id and --resolved-by are required")
		}

		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		errs := errorlog.NewLogger(a.DB.Pool(), a.Logger)
		return errs.MarkResolved(cmd.Context(), errorID, resolvedBy, resolutionNote)
	},
}

func printJSON(v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func init() {
	errorsGetCmd.Flags().StringVar(&errorID, "error-id", "", "pipeline error id")
	errorsGetCmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id of one stage attempt (exact match)")

	errorsListUnresolvedCmd.Flags().IntVar(&unresolvedN, "limit", 50, "maximum rows to return")

	errorsResolveCmd.Flags().StringVar(&errorID, "error-id", "", "pipeline error id (required)")
	errorsResolveCmd.Flags().StringVar(&resolvedBy, "resolved-by", "", "operator identifier (required)")
	errorsResolveCmd.Flags().StringVar(&resolutionNote, "notes", "", "free-text resolution notes")

	errorsCmd.AddCommand(errorsGetCmd)
	errorsCmd.AddCommand(errorsListUnresolvedCmd)
	errorsCmd.AddCommand(errorsResolveCmd)
	rootCmd.AddCommand(errorsCmd)
}
