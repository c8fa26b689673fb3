package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"clinical-workflow-server/internal/services"
)

var dryRun bool

var assignDefaultStatusCmd = &cobra.Command{
	Use:   "assign-default-status",
	Short: "Give every medical record without a status the Pending status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		records := services.NewMedicalRecordService(db, nil, log)

		if dryRun {
			missing, err := records.RecordsWithoutStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range missing {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcreated %s\n", rec.ID, rec.CreatedAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) would be assigned the default status\n", len(missing))
			return nil
		}

		count, err := records.BackfillDefaultStatuses(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) assigned the default status\n", count)
		return nil
	},
}

func init() {
	assignDefaultStatusCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list affected records without writing")
	rootCmd.AddCommand(assignDefaultStatusCmd)
}
