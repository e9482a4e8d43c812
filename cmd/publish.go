package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishCmd = &cobra.Command{
	Use:   "publish <artifact-id>",
	Short: "Publish an approved artifact",
	Long:  "Re-evaluates every configured gate fresh and publishes only when all pass. Cached gate results never authorize a publish.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "publish")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Publish(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		if result.Published {
			zap.L().Info("artifact published",
				zap.String("artifact_id", args[0]),
				zap.String("path", result.Artifact.Path),
			)
		} else {
			zap.L().Warn("publish blocked by gates",
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
	rootCmd.AddCommand(publishCmd)
}
