package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit <artifact-id>",
	Short: "Show the audit trail for an artifact",
	Long:  "Lists the append-only audit trail. Use --job to query by job ID instead of artifact ID.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "audit")
		if err != nil {
			return err
		}
		defer env.Close()

		eventType, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		byJob, _ := cmd.Flags().GetBool("job")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.AuditFilter{
			EventType: model.AuditEventType(eventType),
			Limit:     limit,
		}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}

		var events []model.AuditEvent
		if byJob {
			events, err = env.Recorder.JobHistory(ctx, args[0], filter)
		} else {
			events, err = env.Recorder.History(ctx, args[0], filter)
		}
		if err != nil {
			return eris.Wrap(err, "audit history")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		formatAuditList(os.Stdout, events)
		return nil
	},
}

func init() {
	auditCmd.Flags().String("type", "", "filter by event type (validation_run, state_transition, gate_check, ...)")
	auditCmd.Flags().Duration("since", 0, "time window (e.g. 24h, 168h)")
	auditCmd.Flags().Int("limit", 100, "max number of events")
	auditCmd.Flags().Bool("job", false, "treat the argument as a job ID")
	auditCmd.Flags().Bool("json", false, "emit events as JSON")
	rootCmd.AddCommand(auditCmd)
}
