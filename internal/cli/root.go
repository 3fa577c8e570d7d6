package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "finguard",
		Short: "finguard - incremental transaction ETL with data-quality checks",
		Long: `finguard extracts financial transactions newer than the stored watermark,
runs data-quality rules over them and loads raw, cleansed and issue records
into SQL Server or MongoDB.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewRunCmd(), NewWatermarkCmd(), NewIssuesCmd(), NewInitDBCmd())

	return rootCmd
}
