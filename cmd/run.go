package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/engine"
)

var (
	runArtifactID    string
	runJobID         string
	runBrief         string
	runPromptVersion string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a generation job end to end",
	Long:  "Creates a job for the artifact (or resumes a draft job), then drives it through preflight, generation, postcheck, and budget enforcement until a terminal or completed state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := runJobID
		if jobID == "" {
			job, err := env.Engine.NewJob(ctx, runArtifactID)
			if err != nil {
				return eris.Wrap(err, "create job")
			}
			jobID = job.ID
			zap.L().Info("job created",
				zap.String("job_id", job.ID),
				zap.String("artifact_id", job.ArtifactID),
			)
		}

		result, err := env.Engine.Run(ctx, jobID, engine.GenerationRequest{
			Brief:          runBrief,
			PromptVersion:  runPromptVersion,
			AttemptTimeout: attemptTimeout(cfg.Generation),
			MaxTokens:      cfg.Generation.MaxTokens,
		})
		if result != nil {
			zap.L().Info("job run finished",
				zap.String("job_id", jobID),
				zap.String("state", string(result.Job.State)),
				zap.Int("attempts", result.Attempts),
				zap.Float64("cost_usd", result.CostUSD),
			)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
		}
		if err != nil {
			return eris.Wrap(err, "job run")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runArtifactID, "artifact", "", "artifact ID to generate content for")
	runCmd.Flags().StringVar(&runJobID, "job", "", "existing draft job ID to run instead of creating one")
	runCmd.Flags().StringVar(&runBrief, "brief", "", "editorial brief passed to the generation provider")
	runCmd.Flags().StringVar(&runPromptVersion, "prompt-version", "v1", "prompt version locked into the job")
	runCmd.MarkFlagsOneRequired("artifact", "job")
	runCmd.MarkFlagsMutuallyExclusive("artifact", "job")
	rootCmd.AddCommand(runCmd)
}
