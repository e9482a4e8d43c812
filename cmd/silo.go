package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/model"
)

var siloCmd = &cobra.Command{
	Use:   "silo",
	Short: "Manage topical silos",
	Long:  "Commands for creating, listing, and deleting silos. The store enforces the per-site arity bounds.",
}

// -- silo create --

var siloCreateCmd = &cobra.Command{
	Use:   "create <site-id> <name>",
	Short: "Create a silo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "silo")
		if err != nil {
			return err
		}
		defer env.Close()

		topic, _ := cmd.Flags().GetString("topic")
		silo, err := env.Store.CreateSilo(ctx, &model.Silo{
			SiteID: args[0],
			Name:   args[1],
			Topic:  topic,
		})
		if err != nil {
			return eris.Wrap(err, "silo create")
		}

		zap.L().Info("silo created",
			zap.String("silo_id", silo.ID),
			zap.String("site_id", silo.SiteID),
			zap.String("name", silo.Name),
		)
		return nil
	},
}

// -- silo list --

var siloListCmd = &cobra.Command{
	Use:   "list <site-id>",
	Short: "List silos for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "silo")
		if err != nil {
			return err
		}
		defer env.Close()

		silos, err := env.Store.ListSilos(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "silo list")
		}

		if len(silos) == 0 {
			fmt.Fprintln(os.Stderr, "No silos found.")
			return nil
		}

		formatSiloList(os.Stdout, silos)
		return nil
	},
}

// -- silo delete --

var siloDeleteCmd = &cobra.Command{
	Use:   "delete <silo-id>",
	Short: "Delete a silo",
	Long:  "Deletes a silo. Refused when the site would drop below the minimum silo count or the silo still holds artifacts.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "silo")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.DeleteSilo(ctx, args[0]); err != nil {
			return eris.Wrap(err, "silo delete")
		}

		fmt.Println("deleted")
		return nil
	},
}

func init() {
	siloCreateCmd.Flags().String("topic", "", "topical focus of the silo")

	siloCmd.AddCommand(siloCreateCmd)
	siloCmd.AddCommand(siloListCmd)
	siloCmd.AddCommand(siloDeleteCmd)
	rootCmd.AddCommand(siloCmd)
}

// formatSiloList writes a tabular list of silos to w.
func formatSiloList(out io.Writer, silos []model.Silo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTOPIC\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------")
	for _, s := range silos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(s.ID), s.Name, s.Topic, s.CreatedAt.Format("2006-01-02"))
	}
	_ = w.Flush()
}
