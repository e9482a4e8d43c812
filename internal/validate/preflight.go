package validate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/conflict"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// Preflight runs the structural and conflict checks that must pass before
// generation is allowed to start. Structural checks run first and fail fast;
// the conflict scan only runs on a structurally sound candidate.
type Preflight struct {
	store    store.Store
	detector *conflict.Detector
	recorder *audit.Recorder
}

func NewPreflight(st store.Store, det *conflict.Detector, rec *audit.Recorder) *Preflight {
	return &Preflight{store: st, detector: det, recorder: rec}
}

// Validate checks a candidate artifact (new or edited) against its site.
// A structural store failure that is not a typed violation is returned as an
// error; governance violations land in the result.
func (p *Preflight) Validate(ctx context.Context, candidate *model.Artifact) (*Result, error) {
	result := &Result{Pass: true}

	violation, err := p.structuralChecks(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if violation != nil {
		result.Pass = false
		result.Violations = append(result.Violations, *violation)
		p.record(ctx, candidate, result)
		return result, nil
	}

	// Conflict scan against every other artifact on the site.
	siteArtifacts, err := p.store.ListArtifactsBySite(ctx, candidate.SiteID)
	if err != nil {
		return nil, err
	}
	conflicts := p.detector.ScanCandidate(candidate, siteArtifacts)
	if len(conflicts) > 0 {
		result.Pass = false
		result.Conflicts = conflicts
		for _, c := range conflicts {
			other := c.PageA
			if other == candidate.ID {
				other = c.PageB
			}
			result.Violations = append(result.Violations, model.Violation{
				Code:   model.CodeConflictDetected,
				Detail: fmt.Sprintf("%s conflict with artifact %s", c.Type, other),
				Hint:   "differentiate the title, heading, slug, or meta description, or merge the pages",
			})
		}
	}

	p.record(ctx, candidate, result)
	return result, nil
}

// structuralChecks runs path, keyword, and silo checks in order, returning
// the first violation found.
func (p *Preflight) structuralChecks(ctx context.Context, candidate *model.Artifact) (*model.Violation, error) {
	// Path uniqueness: a dry-run probe. The store re-enforces atomically at
	// write time, so a race here is still caught.
	if err := p.store.ReservePath(ctx, candidate.SiteID, candidate.Path, candidate.ID); err != nil {
		if ge, ok := model.AsError(err); ok {
			return violationOf(ge), nil
		}
		return nil, err
	}

	if v, err := p.checkKeywordBinding(ctx, candidate); v != nil || err != nil {
		return v, err
	}

	return p.checkSilo(ctx, candidate)
}

func (p *Preflight) checkKeywordBinding(ctx context.Context, candidate *model.Artifact) (*model.Violation, error) {
	if candidate.TargetKeyword == "" {
		return nil, nil
	}

	// An edited artifact may never swap its bound keyword.
	if candidate.ID != "" {
		stored, err := p.store.GetArtifact(ctx, candidate.ID)
		if err == nil && stored.TargetKeyword != "" && stored.TargetKeyword != candidate.TargetKeyword {
			return &model.Violation{
				Code:   model.CodeKeywordRebid,
				Detail: fmt.Sprintf("artifact is bound to keyword %q", stored.TargetKeyword),
				Hint:   "create a new artifact for the new keyword",
			}, nil
		}
		if err != nil {
			if _, ok := model.AsError(err); !ok {
				return nil, err
			}
			// Not persisted yet: falls through to the site-wide check.
		}
	}

	siteArtifacts, err := p.store.ListArtifactsBySite(ctx, candidate.SiteID)
	if err != nil {
		return nil, err
	}
	for _, a := range siteArtifacts {
		if a.ID != candidate.ID && strings.EqualFold(a.TargetKeyword, candidate.TargetKeyword) {
			return &model.Violation{
				Code:   model.CodeKeywordAlreadyBound,
				Detail: fmt.Sprintf("keyword %q is bound to artifact %s", candidate.TargetKeyword, a.ID),
				Hint:   "target a different keyword or edit the holding artifact",
			}, nil
		}
	}
	return nil, nil
}

func (p *Preflight) checkSilo(ctx context.Context, candidate *model.Artifact) (*model.Violation, error) {
	// Arity first: an unfinished site fails on the cheap count before the
	// membership listing.
	count, err := p.store.CountSilos(ctx, candidate.SiteID)
	if err != nil {
		return nil, err
	}
	if count < model.MinSilosPerSite {
		return &model.Violation{
			Code:   model.CodeSiloMinimumRequired,
			Detail: fmt.Sprintf("site has %d silos, minimum is %d", count, model.MinSilosPerSite),
			Hint:   "complete the site's silo setup before adding content",
		}, nil
	}

	silos, err := p.store.ListSilos(ctx, candidate.SiteID)
	if err != nil {
		return nil, err
	}
	for _, s := range silos {
		if s.ID == candidate.SiloID {
			return nil, nil
		}
	}
	return &model.Violation{
		Code:   model.CodeSiloNotFound,
		Detail: fmt.Sprintf("silo %s does not exist on site %s", candidate.SiloID, candidate.SiteID),
		Hint:   "assign the artifact to one of the site's silos",
	}, nil
}

func (p *Preflight) record(ctx context.Context, candidate *model.Artifact, result *Result) {
	outcome := "pass"
	if !result.Pass {
		outcome = "fail"
	}

	codes := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		codes = append(codes, v.Code)
	}

	p.recorder.Record(ctx, audit.NewEvent(model.AuditValidationRun, "validator", candidate.ID, "", outcome, map[string]any{
		"stage":     "preflight",
		"site_id":   candidate.SiteID,
		"path":      candidate.Path,
		"codes":     codes,
		"conflicts": len(result.Conflicts),
	}))
	if len(result.Conflicts) > 0 {
		p.recorder.Record(ctx, audit.NewEvent(model.AuditConflictScan, "validator", candidate.ID, "", "flagged", map[string]any{
			"pairs": result.Conflicts,
		}))
	}

	zap.L().Debug("validate: preflight finished",
		zap.String("artifact_id", candidate.ID),
		zap.String("outcome", outcome),
		zap.Strings("codes", codes),
	)
}

func violationOf(ge *model.Error) *model.Violation {
	return &model.Violation{Code: ge.Code, Detail: ge.Hint}
}
