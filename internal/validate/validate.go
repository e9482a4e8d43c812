// Package validate implements the two validation stages around content
// generation: preflight (structural + conflict checks before a job may
// start) and postcheck (structural inspection of the generated result).
package validate

import (
	"github.com/pagemill/governor/internal/model"
)

// Check names reported by the postcheck validator.
const (
	CheckSchemaCompliance = "schema_compliance"
	CheckEntityCoverage   = "entity_coverage"
	CheckFAQMinimum       = "faq_minimum"
	CheckLinkValidity     = "link_validity"
)

// Result is the outcome of a validation stage. Violations itemize every
// failure so a caller can remediate without guessing.
type Result struct {
	Pass       bool                   `json:"pass"`
	Violations []model.Violation      `json:"violations,omitempty"`
	Conflicts  []model.ConflictRecord `json:"conflicts,omitempty"`
}

// FailedChecks returns the distinct check names that failed, in first-seen
// order.
func (r *Result) FailedChecks() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range r.Violations {
		if v.Check == "" {
			continue
		}
		if _, ok := seen[v.Check]; ok {
			continue
		}
		seen[v.Check] = struct{}{}
		out = append(out, v.Check)
	}
	return out
}

// Err converts a failed result into the typed error the engine folds into
// its retry decision. Returns nil for a passing result. The kind matters:
// structural violations are never retried, content-quality ones may be.
func (r *Result) Err() error {
	if r.Pass {
		return nil
	}
	if len(r.Conflicts) > 0 {
		return model.NewConflict(model.CodeConflictDetected, "conflicting artifacts on the site must be remediated first")
	}
	if len(r.Violations) > 0 {
		v := r.Violations[0]
		switch v.Code {
		case model.CodePathNotUnique,
			model.CodeKeywordAlreadyBound,
			model.CodeKeywordRebid,
			model.CodeSiloLimitExceeded,
			model.CodeSiloMinimumRequired,
			model.CodeSiloNotFound,
			model.CodeSiloNameTaken:
			return model.NewStructural(v.Code, v.Detail)
		}
		return model.NewContentQuality(v.Code, v.Detail)
	}
	return model.NewContentQuality(model.CodeSchemaMismatch, "validation failed")
}
