package cli

import (
	"github.com/spf13/cobra"
)

func NewWatermarkCmd() *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect load watermarks",
	}
	cmd.PersistentFlags().StringVarP(&sourceName, "source-name", "n", "", "Source name (defaults to SOURCE_NAME)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the last loaded event time for a source",
		RunE: func(c *cobra.Command, args []string) error {
			return showWatermark(c.Context(), sourceName)
		},
	}

	cmd.AddCommand(show)
	return cmd
}

type ExportOptions struct {
	Output  string
	BatchID string
}

func NewIssuesCmd() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Work with logged data-quality issues",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write logged issues as CSV",
		RunE: func(c *cobra.Command, args []string) error {
			return exportIssues(c.Context(), opts)
		},
	}
	export.Flags().StringVarP(&opts.Output, "output", "o", "-", "Output file, - for stdout")
	export.Flags().StringVar(&opts.BatchID, "batch-id", "", "Only export issues of this batch")

	cmd.AddCommand(export)
	return cmd
}

func NewInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the pipeline tables (SQL Server) or indexes (MongoDB)",
		RunE: func(c *cobra.Command, args []string) error {
			return initDB(c.Context())
		},
	}
}
