package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/validate"
)

var (
	validateFile   string
	validateCreate bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run preflight validation for a content plan",
	Long:  "Checks a candidate artifact against site structure (path uniqueness, keyword binding, silo arity) and scans for cannibalization conflicts. With --create, a passing candidate is persisted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		candidate, err := readArtifact(validateFile)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Validate(ctx, candidate)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		if result.Pass && validateCreate {
			created, err := env.Store.CreateArtifact(ctx, candidate)
			if err != nil {
				return eris.Wrap(err, "create artifact")
			}
			zap.L().Info("artifact created",
				zap.String("artifact_id", created.ID),
				zap.String("path", created.Path),
			)
			candidate = created
		}

		out := struct {
			Artifact *model.Artifact  `json:"artifact,omitempty"`
			Pass     bool             `json:"pass"`
			Result   *validate.Result `json:"result"`
		}{Pass: result.Pass, Result: result}
		if validateCreate && result.Pass {
			out.Artifact = candidate
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// readArtifact decodes an artifact JSON document from a file, or stdin when
// path is "-" or empty.
func readArtifact(path string) (*model.Artifact, error) {
	in := os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open artifact file %s", path)
		}
		defer f.Close() //nolint:errcheck
		in = f
	}

	var a model.Artifact
	if err := json.NewDecoder(in).Decode(&a); err != nil {
		return nil, eris.Wrap(err, "decode artifact json")
	}
	return &a, nil
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "artifact JSON file (default stdin)")
	validateCmd.Flags().BoolVar(&validateCreate, "create", false, "persist the artifact when validation passes")
	rootCmd.AddCommand(validateCmd)
}
