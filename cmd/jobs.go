package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pagemill/governor/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and drive generation jobs",
	Long:  "Commands for creating, listing, transitioning, and cancelling generation jobs.",
}

// -- jobs new --

var jobsNewCmd = &cobra.Command{
	Use:   "new <artifact-id>",
	Short: "Create a draft job for an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Engine.NewJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs new")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list <artifact-id>",
	Short: "List jobs for an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobsByArtifact(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs transition --

var jobsTransitionCmd = &cobra.Command{
	Use:   "transition <job-id> <target-state>",
	Short: "Apply a manual state transition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		reason, _ := cmd.Flags().GetString("reason")
		job, err := env.Engine.Transition(ctx, args[0], model.JobState(args[1]), reason)
		if err != nil {
			return eris.Wrap(err, "jobs transition")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		reason, _ := cmd.Flags().GetString("reason")
		if err := env.Engine.Cancel(ctx, args[0], reason); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}

		fmt.Println("cancelled")
		return nil
	},
}

// -- jobs history --

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show the state transition history of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		events, err := env.Engine.StateHistory(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs history")
		}

		formatAuditList(os.Stdout, events)
		return nil
	},
}

func init() {
	jobsTransitionCmd.Flags().String("reason", "", "reason recorded in the audit trail")
	jobsCancelCmd.Flags().String("reason", "operator cancel", "reason recorded in the audit trail")

	jobsCmd.AddCommand(jobsNewCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsTransitionCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsHistoryCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.GenerationJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tRETRIES\tCOST_USD\tLAST_ERROR\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t--------\t----------\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%.4f\t%s\t%s\n",
			truncateID(j.ID),
			j.State,
			j.RetryCount, j.MaxRetries,
			j.AccumulatedCostUSD,
			j.LastErrorCode,
			j.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatAuditList writes a tabular list of audit events to w.
func formatAuditList(out io.Writer, events []model.AuditEvent) {
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "No events found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TS\tTYPE\tACTOR\tOUTCOME\tJOB")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t---")

	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339),
			e.EventType,
			e.Actor,
			e.Outcome,
			truncateID(e.JobID),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
