package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	maintenanceOlderThan time.Duration
	maintenanceSite      string
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run store maintenance tasks",
	Long:  "Purges gate results older than the retention window and, when --site is given, deletes artifacts whose silo no longer exists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("maintenance"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		cutoff := time.Now().UTC().Add(-maintenanceOlderThan)
		purged, err := st.DeleteStaleGateResults(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "purge gate results")
		}
		zap.L().Info("stale gate results purged",
			zap.Int("purged", purged),
			zap.Time("older_than", cutoff),
		)

		if maintenanceSite != "" {
			removed, err := st.DeleteOrphanArtifacts(ctx, maintenanceSite)
			if err != nil {
				return eris.Wrap(err, "delete orphan artifacts")
			}
			zap.L().Info("orphan artifacts removed",
				zap.String("site_id", maintenanceSite),
				zap.Int("removed", removed),
			)
		}

		return nil
	},
}

func init() {
	maintenanceCmd.Flags().DurationVar(&maintenanceOlderThan, "older-than", 24*time.Hour, "gate result retention window")
	maintenanceCmd.Flags().StringVar(&maintenanceSite, "site", "", "also remove artifacts orphaned by deleted silos on this site")
	rootCmd.AddCommand(maintenanceCmd)
}
