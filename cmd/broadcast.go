package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/services"
)

var (
	testRecordID string
	testAction   string
)

var broadcastTestCmd = &cobra.Command{
	Use:   "broadcast-test",
	Short: "Publish a change event for an existing record",
	Long: `Publishes the current state of a medical record through the configured
webhook, or the log when none is configured. Without --record-id the most
recently created record is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}

		transport := webhookTransport()
		if transport == nil {
			transport = broadcast.NewLogTransport(log)
		}
		broadcaster := broadcast.New(transport, broadcastOptions(), log)
		broadcaster.Start()

		records := services.NewMedicalRecordService(db, broadcaster, log)
		ev, err := records.BroadcastSnapshot(cmd.Context(), testRecordID, testAction)
		broadcaster.Stop()
		if err != nil {
			return err
		}

		stats := broadcaster.Stats()
		if stats.Delivered == 0 {
			return fmt.Errorf("event for record %s was not delivered via %s", ev.RecordID(), transport.Name())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %q for record %s via %s\n", ev.Action, ev.RecordID(), transport.Name())
		return nil
	},
}

func init() {
	broadcastTestCmd.Flags().StringVar(&testRecordID, "record-id", "", "record to publish (default: latest)")
	broadcastTestCmd.Flags().StringVar(&testAction, "action", services.ActionTest, "action tag to publish")
	rootCmd.AddCommand(broadcastTestCmd)
}
