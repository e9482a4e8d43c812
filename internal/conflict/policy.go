package conflict

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/pagemill/governor/internal/config"
)

// Policy is an optional YAML tunables file overriding detector thresholds,
// scoring rates, and the per-issue deduction table. Absent fields keep their
// baseline values.
type Policy struct {
	Detector   *config.DetectorConfig `yaml:"detector"`
	Scoring    *config.ScoringConfig  `yaml:"scoring"`
	Deductions map[string]float64     `yaml:"deductions"`
}

// LoadPolicy reads and parses a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "conflict: read policy file %s", path)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "conflict: parse policy file %s", path)
	}

	if p.Detector != nil {
		if err := validateThresholds(p.Detector); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func validateThresholds(d *config.DetectorConfig) error {
	for name, v := range map[string]float64{
		"title_threshold":    d.TitleThreshold,
		"heading_threshold":  d.HeadingThreshold,
		"slug_threshold":     d.SlugThreshold,
		"meta_threshold":     d.MetaThreshold,
		"semantic_threshold": d.SemanticThreshold,
		"exact_threshold":    d.ExactThreshold,
	} {
		if v <= 0 || v > 1 {
			return eris.Errorf("conflict: policy %s must be in (0, 1], got %v", name, v)
		}
	}
	if d.MinSignals < 1 {
		return eris.New("conflict: policy min_signals must be at least 1")
	}
	return nil
}

// ApplyPolicy overlays policy overrides onto the scorer's deduction table.
func (s *Scorer) ApplyPolicy(p *Policy) {
	if p == nil {
		return
	}
	if p.Scoring != nil {
		s.cfg = *p.Scoring
	}
	for kind, points := range p.Deductions {
		s.deductions[kind] = points
	}
}
