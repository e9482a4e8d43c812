package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var gatesJSON bool

var gatesCmd = &cobra.Command{
	Use:   "gates <artifact-id>",
	Short: "Inspect lifecycle gate results for an artifact",
	Long:  "Evaluates every configured gate for the artifact, serving recent results from the store cache. Inspection only: publish and decommission always re-evaluate.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "gates")
		if err != nil {
			return err
		}
		defer env.Close()

		decision, err := env.Engine.CheckGates(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "gates check")
		}

		if gatesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		}

		names := make([]string, 0, len(decision.Results))
		for name := range decision.Results {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "GATE\tRESULT\tCODE\tDETAIL")
		_, _ = fmt.Fprintln(w, "----\t------\t----\t------")
		for _, name := range names {
			r := decision.Results[name]
			status := "pass"
			if !r.Passed {
				status = "FAIL"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, status, r.ErrorCode, r.Detail)
		}
		_ = w.Flush()

		source := "fresh"
		if decision.FromCache {
			source = "cached"
		}
		fmt.Printf("\nAll passed: %v (%s, checked %s)\n",
			decision.AllPassed, source, decision.CheckedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	gatesCmd.Flags().BoolVar(&gatesJSON, "json", false, "emit the full decision as JSON")
	rootCmd.AddCommand(gatesCmd)
}
