package conflict

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/pkg/embedding"
)

// Severity weights per conflict type.
var conflictWeights = map[model.ConflictType]float64{
	model.ConflictExactMatch:         1.5,
	model.ConflictHighOverlap:        1.25,
	model.ConflictIntentCollision:    1.0,
	model.ConflictURLCannibalization: 1.0,
	model.ConflictTitleDuplicate:     0.75,
}

// WeightFor returns the severity weight of a conflict type.
func WeightFor(t model.ConflictType) float64 {
	return conflictWeights[t]
}

// Detector computes pairwise similarity between artifacts on a site and
// classifies conflicting ("cannibalizing") pairs.
type Detector struct {
	cfg      config.DetectorConfig
	semantic bool
}

// NewDetector creates a Detector. Semantic comparison only runs when enabled
// and both artifacts carry an embedding.
func NewDetector(cfg config.DetectorConfig, semanticEnabled bool) *Detector {
	return &Detector{cfg: cfg, semantic: semanticEnabled}
}

// TokenOverlap measures token-set similarity between two strings: the size of
// the intersection over the size of the union of their whitespace tokens,
// case-insensitive, with tokens shorter than minLen filtered out.
func TokenOverlap(a, b string, minLen int) float64 {
	setA := tokenSet(a, minLen)
	setB := tokenSet(b, minLen)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string, minLen int) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if len(tok) >= minLen {
			out[tok] = struct{}{}
		}
	}
	return out
}

// slugTokens treats hyphens as word separators so "/boiler-repair" and
// "/repair-boiler" compare token-wise.
func slugText(slug string) string {
	return strings.ReplaceAll(slug, "-", " ")
}

// Compare evaluates one unordered pair. It returns nil when the pair is not
// in conflict.
func (d *Detector) Compare(a, b *model.Artifact) *model.ConflictRecord {
	minLen := d.cfg.MinTokenLength

	signals := []model.SimilaritySignal{
		{Name: "title", Value: TokenOverlap(a.Title, b.Title, minLen), Threshold: d.cfg.TitleThreshold},
		{Name: "heading", Value: TokenOverlap(a.Heading(), b.Heading(), minLen), Threshold: d.cfg.HeadingThreshold},
		{Name: "slug", Value: TokenOverlap(slugText(a.Slug()), slugText(b.Slug()), minLen), Threshold: d.cfg.SlugThreshold},
		{Name: "meta", Value: TokenOverlap(a.MetaDescription, b.MetaDescription, minLen), Threshold: d.cfg.MetaThreshold},
	}
	if d.semantic && len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		signals = append(signals, model.SimilaritySignal{
			Name:      "semantic",
			Value:     embedding.CosineSimilarity(a.Embedding, b.Embedding),
			Threshold: d.cfg.SemanticThreshold,
		})
	}

	exceeded := 0
	for _, s := range signals {
		if s.Exceeds() {
			exceeded++
		}
	}

	titleA := strings.ToLower(strings.TrimSpace(a.Title))
	titleB := strings.ToLower(strings.TrimSpace(b.Title))
	identicalTitles := titleA != "" && titleA == titleB

	// A pair conflicts once enough signals cross their thresholds. Identical
	// titles alone are always at least a title duplicate.
	if exceeded < d.cfg.MinSignals && !identicalTitles {
		return nil
	}

	rec := &model.ConflictRecord{
		Type:    d.classify(signals, exceeded, identicalTitles),
		Signals: signals,
	}
	rec.Weight = WeightFor(rec.Type)
	rec.PageA, rec.PageB = a.ID, b.ID
	if rec.PageB < rec.PageA {
		rec.PageA, rec.PageB = rec.PageB, rec.PageA
	}
	return rec
}

// classify derives the conflict type by priority.
func (d *Detector) classify(signals []model.SimilaritySignal, exceeded int, identicalTitles bool) model.ConflictType {
	var title, heading, slug model.SimilaritySignal
	for _, s := range signals {
		switch s.Name {
		case "title":
			title = s
		case "heading":
			heading = s
		case "slug":
			slug = s
		}
	}

	switch {
	case identicalTitles && exceeded >= d.cfg.MinSignals:
		return model.ConflictExactMatch
	case identicalTitles:
		return model.ConflictTitleDuplicate
	case title.Value > d.cfg.ExactThreshold || heading.Value > d.cfg.ExactThreshold:
		return model.ConflictExactMatch
	case title.Exceeds() || heading.Exceeds():
		return model.ConflictHighOverlap
	case slug.Exceeds():
		return model.ConflictURLCannibalization
	default:
		return model.ConflictIntentCollision
	}
}

// ScanCandidate compares one candidate artifact against every other artifact
// on the site. Used by preflight: the candidate may not yet be persisted.
func (d *Detector) ScanCandidate(candidate *model.Artifact, others []model.Artifact) []model.ConflictRecord {
	var out []model.ConflictRecord
	for i := range others {
		if others[i].ID == candidate.ID {
			continue
		}
		if rec := d.Compare(candidate, &others[i]); rec != nil {
			out = append(out, *rec)
		}
	}
	if len(out) > 0 {
		zap.L().Debug("conflict: candidate scan flagged pairs",
			zap.String("artifact_id", candidate.ID),
			zap.Int("pairs", len(out)),
		)
	}
	return out
}

// ScanSite compares every unordered pair of artifacts on a site.
func (d *Detector) ScanSite(artifacts []model.Artifact) []model.ConflictRecord {
	var out []model.ConflictRecord
	for i := range artifacts {
		for j := i + 1; j < len(artifacts); j++ {
			if rec := d.Compare(&artifacts[i], &artifacts[j]); rec != nil {
				out = append(out, *rec)
			}
		}
	}
	return out
}

// WeightedCount sums the severity weights of a set of conflict records.
func WeightedCount(records []model.ConflictRecord) float64 {
	total := 0.0
	for _, r := range records {
		total += r.Weight
	}
	return total
}
