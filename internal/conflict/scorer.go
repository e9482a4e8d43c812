package conflict

import (
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/model"
)

// Issue kinds recognized by the site health scorer.
const (
	IssueMissingH1              = "missing_h1"
	IssueMissingMetaDescription = "missing_meta_description"
	IssueThinContent            = "thin_content"
	IssueMissingSitemap         = "missing_sitemap"
	IssueOrphanPage             = "orphan_page"
)

// Baseline point deductions per issue kind.
var defaultDeductions = map[string]float64{
	IssueMissingH1:              10,
	IssueMissingMetaDescription: 6,
	IssueThinContent:            12,
	IssueMissingSitemap:         8,
	IssueOrphanPage:             7,
}

// Issue is a single quality problem found on a site. ArtifactID is empty for
// site-level issues such as a missing sitemap.
type Issue struct {
	Kind       string `json:"kind"`
	ArtifactID string `json:"artifact_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Bonus is a passing quality signal worth extra points. Bonuses are capped in
// aggregate regardless of how many are earned.
type Bonus struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// SiteHealth is the scored health report for one site.
type SiteHealth struct {
	Score           float64 `json:"score"`
	Grade           string  `json:"grade"`
	WeightedCount   float64 `json:"weighted_conflict_count"`
	Ceiling         float64 `json:"ceiling"`
	ConflictPages   int     `json:"conflict_pages"`
	TotalPages      int     `json:"total_pages"`
	TotalDeductions float64 `json:"total_deductions"`
	TotalBonus      float64 `json:"total_bonus"`
}

// Scorer computes a site health score bounded by a conflict-derived ceiling.
type Scorer struct {
	cfg        config.ScoringConfig
	deductions map[string]float64
}

// NewScorer creates a Scorer with the baseline deduction table. Policy-file
// overrides are applied via ApplyPolicy.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	deductions := make(map[string]float64, len(defaultDeductions))
	for k, v := range defaultDeductions {
		deductions[k] = v
	}
	return &Scorer{cfg: cfg, deductions: deductions}
}

// Score computes the site health score. Deductions on pages involved in a
// conflict are amplified; the conflict-derived ceiling is applied last and
// can only lower the result.
func (s *Scorer) Score(totalPages int, conflicts []model.ConflictRecord, issues []Issue, bonuses []Bonus) SiteHealth {
	conflictPages := make(map[string]struct{})
	for _, c := range conflicts {
		conflictPages[c.PageA] = struct{}{}
		conflictPages[c.PageB] = struct{}{}
	}

	weighted := WeightedCount(conflicts)

	deducted := 0.0
	for _, issue := range issues {
		points, ok := s.deductions[issue.Kind]
		if !ok {
			zap.L().Warn("scorer: unknown issue kind", zap.String("kind", issue.Kind))
			continue
		}
		if _, inConflict := conflictPages[issue.ArtifactID]; inConflict && issue.ArtifactID != "" {
			points *= s.cfg.ConflictMultiplier
		}
		deducted += points
	}
	// Each conflicting pair costs its severity weight times the pair rate.
	deducted += weighted * s.cfg.ConflictPairDeduction

	bonus := 0.0
	for _, b := range bonuses {
		bonus += b.Points
	}
	if bonus > s.cfg.MaxBonus {
		bonus = s.cfg.MaxBonus
	}

	score := 100 - deducted + bonus

	ceiling := conflictCeiling(weighted)
	ceiling += pageContextBonus(len(conflictPages), totalPages)
	if ceiling > 100 {
		ceiling = 100
	}
	if score > ceiling {
		score = ceiling
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return SiteHealth{
		Score:           score,
		Grade:           GradeFor(score),
		WeightedCount:   weighted,
		Ceiling:         ceiling,
		ConflictPages:   len(conflictPages),
		TotalPages:      totalPages,
		TotalDeductions: deducted,
		TotalBonus:      bonus,
	}
}

// conflictCeiling maps a weighted conflict count to a hard score ceiling.
// Monotonically non-increasing: one more conflicting pair never raises it.
func conflictCeiling(weighted float64) float64 {
	switch {
	case weighted == 0:
		return 100
	case weighted <= 1:
		return 84
	case weighted <= 2:
		return 79
	case weighted <= 3:
		return 74
	case weighted <= 4:
		return 69
	case weighted <= 6:
		return 64
	case weighted <= 9:
		return 54
	default:
		return 44
	}
}

// pageContextBonus relaxes the ceiling when few of the site's pages are
// involved in any conflict.
func pageContextBonus(conflictPages, totalPages int) float64 {
	if totalPages == 0 || conflictPages == 0 {
		return 0
	}
	pct := float64(conflictPages) / float64(totalPages) * 100
	switch {
	case pct < 5:
		return 15
	case pct < 10:
		return 10
	case pct < 20:
		return 5
	default:
		return 0
	}
}

// GradeFor maps a score to its letter grade band.
func GradeFor(score float64) string {
	switch {
	case score >= 97:
		return "A+"
	case score >= 93:
		return "A"
	case score >= 90:
		return "A-"
	case score >= 87:
		return "B+"
	case score >= 83:
		return "B"
	case score >= 80:
		return "B-"
	case score >= 77:
		return "C+"
	case score >= 73:
		return "C"
	case score >= 70:
		return "C-"
	case score >= 67:
		return "D+"
	case score >= 63:
		return "D"
	case score >= 60:
		return "D-"
	default:
		return "F"
	}
}
