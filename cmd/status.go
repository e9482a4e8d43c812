package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pagemill/governor/internal/monitoring"
)

var (
	statusLookback int
	statusSend     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health and job metrics",
	Long:  "Pings dependencies, aggregates job and spend metrics over the lookback window, and evaluates alert thresholds. With --send, breached thresholds are delivered to the configured webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		lookback := statusLookback
		if lookback == 0 {
			lookback = cfg.Monitoring.LookbackHours
		}

		report := env.Checker.Check(ctx)
		snap, err := monitoring.NewCollector(env.Store).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		_, _ = fmt.Fprintf(w, "Healthy:\t%v\n", report.Healthy)
		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "  %s:\t%s\n", name, report.Checks[name])
		}

		_, _ = fmt.Fprintf(w, "\nJobs (last %dh):\t%d\n", snap.LookbackHours, snap.JobsTotal)
		_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", snap.JobsCompleted)
		_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", snap.JobsFailed)
		_, _ = fmt.Fprintf(w, "  Retry budget absorbed:\t%d\n", snap.JobsAbsorbed)
		_, _ = fmt.Fprintf(w, "  Failure rate:\t%.1f%%\n", snap.JobFailRate*100)
		_, _ = fmt.Fprintf(w, "Spend:\t$%.2f\n", snap.TotalCostUSD)
		_, _ = fmt.Fprintf(w, "Audit events:\t%d\n", snap.AuditEvents)
		_ = w.Flush()

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if len(alerts) == 0 {
			fmt.Println("\nNo alerts.")
			return nil
		}

		fmt.Printf("\nAlerts (%d):\n", len(alerts))
		for _, a := range alerts {
			fmt.Printf("  [%s] %s\n", a.Type, a.Message)
		}

		if statusSend {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Printf("Sent %d/%d alert(s).\n", sent, len(alerts))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().BoolVar(&statusSend, "send", false, "deliver breached alerts to the configured webhook")
	rootCmd.AddCommand(statusCmd)
}
