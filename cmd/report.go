package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/conflict"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// Report heuristics. Thin content is measured on the stored body, not the
// provider payload.
const (
	thinContentWords   = 250
	highAuthorityScore = 0.8
	auditRowsPerPage   = 50
)

var (
	reportSite string
	reportOut  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a site governance workbook",
	Long:  "Scans the site for conflicts, scores site health, and writes an xlsx workbook with Conflicts, Site Health, and Audit Trail sheets.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		artifacts, err := env.Store.ListArtifactsBySite(ctx, reportSite)
		if err != nil {
			return eris.Wrap(err, "list artifacts")
		}
		if len(artifacts) == 0 {
			return eris.Errorf("no artifacts found for site %s", reportSite)
		}

		conflicts := env.Detector.ScanSite(artifacts)
		issues, bonuses := collectSignals(artifacts)
		health := env.Scorer.Score(len(artifacts), conflicts, issues, bonuses)

		f := xlsx.NewFile()
		if err := writeConflictSheet(f, artifacts, conflicts); err != nil {
			return err
		}
		if err := writeHealthSheet(f, health, issues); err != nil {
			return err
		}
		if err := writeAuditSheet(ctx, f, env, artifacts); err != nil {
			return err
		}

		if err := f.Save(reportOut); err != nil {
			return eris.Wrapf(err, "save workbook %s", reportOut)
		}

		zap.L().Info("report written",
			zap.String("site_id", reportSite),
			zap.String("out", reportOut),
			zap.Int("artifacts", len(artifacts)),
			zap.Int("conflicts", len(conflicts)),
			zap.Float64("health_score", health.Score),
		)
		fmt.Printf("Site %s: health %.1f (%s), %d conflict pair(s) -> %s\n",
			reportSite, health.Score, health.Grade, len(conflicts), reportOut)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSite, "site", "", "site ID to report on (required)")
	reportCmd.Flags().StringVar(&reportOut, "out", "governance-report.xlsx", "output workbook path")
	_ = reportCmd.MarkFlagRequired("site")
	rootCmd.AddCommand(reportCmd)
}

// collectSignals derives scoring issues and bonuses from stored artifacts.
func collectSignals(artifacts []model.Artifact) ([]conflict.Issue, []conflict.Bonus) {
	var issues []conflict.Issue
	var bonuses []conflict.Bonus

	for i := range artifacts {
		a := &artifacts[i]
		if a.Heading() == "" {
			issues = append(issues, conflict.Issue{Kind: conflict.IssueMissingH1, ArtifactID: a.ID, Detail: a.Path})
		}
		if strings.TrimSpace(a.MetaDescription) == "" {
			issues = append(issues, conflict.Issue{Kind: conflict.IssueMissingMetaDescription, ArtifactID: a.ID, Detail: a.Path})
		}
		if a.Body != "" && len(strings.Fields(a.Body)) < thinContentWords {
			issues = append(issues, conflict.Issue{Kind: conflict.IssueThinContent, ArtifactID: a.ID, Detail: a.Path})
		}
		if a.Status == model.StatusPublished && a.AuthorityScore >= highAuthorityScore {
			bonuses = append(bonuses, conflict.Bonus{Name: "high_authority:" + a.Path, Points: 2})
		}
	}
	return issues, bonuses
}

func writeConflictSheet(f *xlsx.File, artifacts []model.Artifact, conflicts []model.ConflictRecord) error {
	sheet, err := f.AddSheet("Conflicts")
	if err != nil {
		return eris.Wrap(err, "add conflicts sheet")
	}

	paths := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		paths[a.ID] = a.Path
	}

	header := sheet.AddRow()
	for _, h := range []string{"Page A", "Page B", "Type", "Weight", "Signals"} {
		header.AddCell().Value = h
	}

	for _, c := range conflicts {
		signals := make([]string, 0, len(c.Signals))
		for _, s := range c.Signals {
			signals = append(signals, fmt.Sprintf("%s=%.2f", s.Name, s.Value))
		}

		row := sheet.AddRow()
		row.AddCell().Value = paths[c.PageA]
		row.AddCell().Value = paths[c.PageB]
		row.AddCell().Value = string(c.Type)
		row.AddCell().SetFloat(c.Weight)
		row.AddCell().Value = strings.Join(signals, ", ")
	}
	return nil
}

func writeHealthSheet(f *xlsx.File, health conflict.SiteHealth, issues []conflict.Issue) error {
	sheet, err := f.AddSheet("Site Health")
	if err != nil {
		return eris.Wrap(err, "add site health sheet")
	}

	addKV := func(key string, value any) {
		row := sheet.AddRow()
		row.AddCell().Value = key
		row.AddCell().SetValue(value)
	}

	addKV("Score", health.Score)
	addKV("Grade", health.Grade)
	addKV("Ceiling", health.Ceiling)
	addKV("Weighted conflicts", health.WeightedCount)
	addKV("Conflict pages", health.ConflictPages)
	addKV("Total pages", health.TotalPages)
	addKV("Total deductions", health.TotalDeductions)
	addKV("Total bonus", health.TotalBonus)

	sheet.AddRow()
	header := sheet.AddRow()
	header.AddCell().Value = "Issue"
	header.AddCell().Value = "Page"
	for _, issue := range issues {
		row := sheet.AddRow()
		row.AddCell().Value = issue.Kind
		row.AddCell().Value = issue.Detail
	}
	return nil
}

func writeAuditSheet(ctx context.Context, f *xlsx.File, env *engineEnv, artifacts []model.Artifact) error {
	sheet, err := f.AddSheet("Audit Trail")
	if err != nil {
		return eris.Wrap(err, "add audit trail sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Timestamp", "Page", "Event", "Actor", "Outcome", "Error Code", "Payload Hash"} {
		header.AddCell().Value = h
	}

	for _, a := range artifacts {
		events, err := env.Recorder.History(ctx, a.ID, store.AuditFilter{Limit: auditRowsPerPage})
		if err != nil {
			return eris.Wrapf(err, "audit history for %s", a.Path)
		}
		for _, e := range events {
			row := sheet.AddRow()
			row.AddCell().Value = e.Timestamp.Format("2006-01-02 15:04:05")
			row.AddCell().Value = a.Path
			row.AddCell().Value = string(e.EventType)
			row.AddCell().Value = e.Actor
			row.AddCell().Value = e.Outcome
			row.AddCell().Value = e.ErrorCode
			row.AddCell().Value = e.PayloadHash
		}
	}
	return nil
}
