package cli

import (
	"github.com/spf13/cobra"
)

// RunOptions override the environment configuration for one run.
// Zero values leave the configured setting in place.
type RunOptions struct {
	SourceKind  string
	SourcePath  string
	SourceTable string
	SourceName  string
	Full        bool
	DryRun      bool

	RawBatchSize   int
	FactBatchSize  int
	IssueBatchSize int
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one incremental extract, check and load pass",
		RunE: func(c *cobra.Command, args []string) error {
			return runPipeline(c.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.SourceKind, "source", "", "Source kind: csv, sqlserver or mongo")
	cmd.Flags().StringVarP(&opts.SourcePath, "file", "f", "", "Path to the CSV extract")
	cmd.Flags().StringVarP(&opts.SourceTable, "table", "t", "", "Source table or collection")
	cmd.Flags().StringVarP(&opts.SourceName, "source-name", "n", "", "Name the watermark is kept under")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "Ignore the stored watermark and extract every row")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Extract and check only; load nothing")
	cmd.Flags().IntVar(&opts.RawBatchSize, "raw-batch-size", 0, "Rows per raw chunk")
	cmd.Flags().IntVar(&opts.FactBatchSize, "fact-batch-size", 0, "Rows per fact chunk")
	cmd.Flags().IntVar(&opts.IssueBatchSize, "issue-batch-size", 0, "Rows per issue chunk")

	return cmd
}
