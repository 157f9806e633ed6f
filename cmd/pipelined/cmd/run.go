package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/docpipeline/internal/app"
	"github.com/vitaliisemenov/docpipeline/internal/core"
)

var (
	documentID   string
	filePath     string
	documentType string
	manufacturer string
	series       string
	modelFlag      string
	version        string
	language       string
	stageNames     string
	forceReprocess bool
)

func addDocumentFlags(c *cobra.Command) {
	c.Flags().StringVar(&documentID, "document-id", "", "document id (required)")
	c.Flags().StringVar(&filePath, "file", "", "path to the source file (required for the upload stage)")
	c.Flags().StringVar(&documentType, "type", string(core.DocumentTypeServiceManual), "document type")
	c.Flags().StringVar(&manufacturer, "manufacturer", "", "manufacturer")
	c.Flags().StringVar(&series, "series", "", "product series")
	c.Flags().StringVar(&modelFlag, "model", "", "model")
	c.Flags().StringVar(&version, "doc-version", "", "document version")
	c.Flags().StringVar(&language, "language", "en", "document language")
	c.Flags().BoolVar(&forceReprocess, "force-reprocess", false, "bypass the upload stage's duplicate content-hash check")
	_ = c.MarkFlagRequired("document-id")
}

func buildContext() *core.ProcessingContext {
	pctx := app.NewProcessingContext(documentID, filePath, core.DocumentType(documentType))
	pctx.Manufacturer = manufacturer
	pctx.Series = series
	pctx.Model = modelFlag
	pctx.Version = version
	pctx.Language = language
	pctx.ForceReprocess = forceReprocess
	return pctx
}

var runStageCmd = &cobra.Command{
	Use:   "run-stage <stage>",
	Short: "Run a single stage for one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := core.Stage(args[0])

		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		pctx := buildContext()
		outcome, err := a.Scheduler.RunStage(cmd.Context(), documentID, stage, pctx)
		if err != nil {
			return err
		}
		return printJSON(outcome)
	},
}

var runStagesCmd = &cobra.Command{
	Use:   "run-stages",
	Short: "Run a comma-separated list of stages for one document, in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stageNames == "" {
			return fmt.Errorf("--stages is required")
		}
		var stages []core.Stage
		for _, s := range strings.Split(stageNames, ",") {
			stages = append(stages, core.Stage(strings.TrimSpace(s)))
		}

		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		pctx := buildContext()
		outcomes, err := a.Scheduler.RunStages(cmd.Context(), documentID, stages, pctx)
		if err != nil {
			return err
		}
		return printJSON(outcomes)
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Run every stage in canonical order for one document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		pctx := buildContext()
		outcomes, err := a.Scheduler.RunAll(cmd.Context(), documentID, pctx)
		if err != nil {
			return err
		}
		return printJSON(outcomes)
	},
}

var smartResumeCmd = &cobra.Command{
	Use:   "smart-resume",
	Short: "Resume a document at its first incomplete stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		pctx := buildContext()
		outcomes, err := a.Scheduler.SmartResume(cmd.Context(), documentID, pctx)
		if err != nil {
			return err
		}
		return printJSON(outcomes)
	},
}

func init() {
	addDocumentFlags(runStageCmd)
	addDocumentFlags(runStagesCmd)
	runStagesCmd.Flags().StringVar(&stageNames, "stages", "", "comma-separated stage names, in the order to run them")
	addDocumentFlags(runAllCmd)
	addDocumentFlags(smartResumeCmd)
}
