package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var decommissionRedirect string

var decommissionCmd = &cobra.Command{
	Use:   "decommission <artifact-id>",
	Short: "Retire a published artifact",
	Long:  "Runs the decommission gate path, validating the redirect target when one is given. Authority score and source URLs survive the retirement.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "decommission")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Decommission(ctx, args[0], decommissionRedirect)
		if err != nil {
			return eris.Wrap(err, "decommission")
		}

		if result.Decommissioned {
			zap.L().Info("artifact decommissioned",
				zap.String("artifact_id", args[0]),
				zap.String("redirect", result.Redirect),
			)
		} else {
			zap.L().Warn("decommission blocked by gates",
				zap.String("artifact_id", args[0]),
				zap.Strings("failed_gates", result.Decision.FailedGates()),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	decommissionCmd.Flags().StringVar(&decommissionRedirect, "redirect", "", "redirect target: a site path or an absolute http(s) URL")
	rootCmd.AddCommand(decommissionCmd)
}
