// Package gates implements the lifecycle gate set evaluated immediately
// before publish and decommission actions. Gates are a closed enum with a
// uniform evaluation contract; all configured gates must pass for the action
// to proceed, with no partial override.
package gates

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// Gate names. The set is closed: configuration selects from these, it never
// defines new ones.
const (
	GateGovernanceChecks       = "governance-checks"
	GateSchemaSync             = "schema-sync"
	GateEmbeddingPresent       = "embedding-present"
	GateAuthoritySourcing      = "authority-sourcing"
	GateContentStructure       = "content-structure"
	GateStatusEligibility      = "status-eligibility"
	GateExperienceVerification = "experience-verification"
	GateGeoFormatting          = "geo-formatting"
	GatePerformanceBudget      = "performance-budget"
	GateMediaIntegrity         = "media-integrity"
)

// Action is the lifecycle action the gates are authorizing.
type Action string

const (
	ActionInspect      Action = "inspect"
	ActionPublish      Action = "publish"
	ActionDecommission Action = "decommission"
)

// EvalContext carries everything a gate may consult. Gates read, they never
// mutate.
type EvalContext struct {
	Artifact *model.Artifact
	Action   Action
	Redirect string // decommission redirect target, optional
	Store    store.Store
}

// Gate is one independently evaluable pass/fail check.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, ec EvalContext) model.GateResult
}

func pass(name string) model.GateResult {
	return model.GateResult{Gate: name, Passed: true, CheckedAt: time.Now().UTC()}
}

func fail(name, code, detail string) model.GateResult {
	return model.GateResult{Gate: name, Passed: false, ErrorCode: code, Detail: detail, CheckedAt: time.Now().UTC()}
}

// governanceChecksGate requires every recorded validator outcome on the
// artifact to have passed, and at least one to exist.
type governanceChecksGate struct{}

func (governanceChecksGate) Name() string { return GateGovernanceChecks }

func (g governanceChecksGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	checks := ec.Artifact.GovernanceChecks
	if len(checks) == 0 {
		return fail(g.Name(), model.CodeGateFailed, "no validator has run against this artifact")
	}
	for name, outcome := range checks {
		if !outcome.Passed {
			return fail(g.Name(), outcome.ErrorCode,
				fmt.Sprintf("validator %s failed", name))
		}
	}
	return pass(g.Name())
}

// schemaSyncGate requires the stored structured-data headline to match the
// body's first H1. An artifact with no rendered headline has nothing to sync.
type schemaSyncGate struct{}

func (schemaSyncGate) Name() string { return GateSchemaSync }

func (g schemaSyncGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	headline := strings.TrimSpace(ec.Artifact.Headline)
	if headline == "" {
		return pass(g.Name())
	}
	h1 := ec.Artifact.Heading()
	if !strings.EqualFold(headline, h1) {
		return fail(g.Name(), model.CodeSchemaMismatch,
			fmt.Sprintf("structured-data headline %q does not match body heading %q", headline, h1))
	}
	return pass(g.Name())
}

type embeddingPresentGate struct{}

func (embeddingPresentGate) Name() string { return GateEmbeddingPresent }

func (g embeddingPresentGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	if len(ec.Artifact.Embedding) == 0 {
		return fail(g.Name(), model.CodeGateFailed, "artifact has no embedding vector")
	}
	return pass(g.Name())
}

// authoritySourcingGate enforces a minimum authority score and source count.
type authoritySourcingGate struct {
	minScore   float64
	minSources int
}

func (authoritySourcingGate) Name() string { return GateAuthoritySourcing }

func (g authoritySourcingGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	a := ec.Artifact
	if a.AuthorityScore < g.minScore {
		return fail(g.Name(), model.CodeGateFailed,
			fmt.Sprintf("authority score %.2f is below the %.2f minimum", a.AuthorityScore, g.minScore))
	}
	if len(a.SourceURLs) < g.minSources {
		return fail(g.Name(), model.CodeGateFailed,
			fmt.Sprintf("%d source URLs, minimum is %d", len(a.SourceURLs), g.minSources))
	}
	return pass(g.Name())
}

// contentStructureGate requires a heading, the entity minimum, and the FAQ
// minimum on the stored artifact.
type contentStructureGate struct{}

func (contentStructureGate) Name() string { return GateContentStructure }

func (g contentStructureGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	a := ec.Artifact
	if strings.TrimSpace(a.Body) == "" {
		return fail(g.Name(), model.CodeSchemaMismatch, "artifact body is empty")
	}
	if a.Heading() == "" {
		return fail(g.Name(), model.CodeGateFailed, "body has no top-level heading")
	}
	if len(a.Sections.Entities) < 3 {
		return fail(g.Name(), model.CodeEntityCoverage,
			fmt.Sprintf("%d entities, minimum is 3", len(a.Sections.Entities)))
	}
	valid := 0
	for _, f := range a.Sections.FAQs {
		if f.Valid() {
			valid++
		}
	}
	if valid < 3 {
		return fail(g.Name(), model.CodeFAQMinimum,
			fmt.Sprintf("%d valid FAQs, minimum is 3", valid))
	}
	return pass(g.Name())
}

// statusEligibilityGate ties the gate decision to the action: publish needs
// an approved artifact, decommission needs a published one. Decommission with
// a redirect additionally validates the target here.
type statusEligibilityGate struct{}

func (statusEligibilityGate) Name() string { return GateStatusEligibility }

func (g statusEligibilityGate) Evaluate(ctx context.Context, ec EvalContext) model.GateResult {
	a := ec.Artifact
	switch ec.Action {
	case ActionPublish:
		if a.Status != model.StatusApproved {
			return fail(g.Name(), model.CodeGateFailed,
				fmt.Sprintf("status %s is not eligible for publish; approval required", a.Status))
		}
	case ActionDecommission:
		if a.Status != model.StatusPublished {
			return fail(g.Name(), model.CodeGateFailed,
				fmt.Sprintf("status %s is not eligible for decommission; only published artifacts retire", a.Status))
		}
		if ec.Redirect != "" {
			if r := g.checkRedirect(ctx, ec); r != nil {
				return *r
			}
		}
	}
	return pass(g.Name())
}

// checkRedirect validates the decommission redirect target. Internal targets
// must resolve to an existing, published artifact on the same site; external
// targets must be well-formed http(s) URLs.
func (g statusEligibilityGate) checkRedirect(ctx context.Context, ec EvalContext) *model.GateResult {
	redirect := strings.TrimSpace(ec.Redirect)

	if strings.HasPrefix(redirect, "/") {
		normalized := model.NormalizePath(redirect)
		siblings, err := ec.Store.ListArtifactsBySite(ctx, ec.Artifact.SiteID)
		if err != nil {
			r := fail(g.Name(), model.CodeGateFailed, fmt.Sprintf("redirect lookup failed: %v", err))
			return &r
		}
		for _, sib := range siblings {
			if sib.Path != normalized || sib.ID == ec.Artifact.ID {
				continue
			}
			if sib.Status != model.StatusPublished {
				r := fail(g.Name(), model.CodeRedirectUnpublished,
					fmt.Sprintf("redirect target %s exists but is %s", normalized, sib.Status))
				return &r
			}
			return nil
		}
		r := fail(g.Name(), model.CodeRedirectTargetMissing,
			fmt.Sprintf("redirect target %s does not exist on the site", normalized))
		return &r
	}

	u, err := url.Parse(redirect)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		r := fail(g.Name(), model.CodeRedirectURLInvalid,
			fmt.Sprintf("external redirect %q is not a well-formed http(s) URL", redirect))
		return &r
	}
	return nil
}

type experienceVerificationGate struct{}

func (experienceVerificationGate) Name() string { return GateExperienceVerification }

func (g experienceVerificationGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	if strings.TrimSpace(ec.Artifact.AuthorAttribution) == "" {
		return fail(g.Name(), model.CodeGateFailed, "no author attribution recorded")
	}
	return pass(g.Name())
}

// geoFormattingGate checks the serp-facing fields stay within render limits.
type geoFormattingGate struct{}

func (geoFormattingGate) Name() string { return GateGeoFormatting }

func (g geoFormattingGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	a := ec.Artifact
	if strings.TrimSpace(a.MetaDescription) == "" {
		return fail(g.Name(), model.CodeGateFailed, "meta description is empty")
	}
	if len(a.Title) > 70 {
		return fail(g.Name(), model.CodeGateFailed,
			fmt.Sprintf("title is %d characters, limit is 70", len(a.Title)))
	}
	if len(a.MetaDescription) > 160 {
		return fail(g.Name(), model.CodeGateFailed,
			fmt.Sprintf("meta description is %d characters, limit is 160", len(a.MetaDescription)))
	}
	return pass(g.Name())
}

type performanceBudgetGate struct {
	budgetKB int
}

func (performanceBudgetGate) Name() string { return GatePerformanceBudget }

func (g performanceBudgetGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	if g.budgetKB <= 0 {
		return pass(g.Name())
	}
	size := len(ec.Artifact.Body)
	if size > g.budgetKB*1024 {
		return fail(g.Name(), model.CodeGateFailed,
			fmt.Sprintf("body is %d bytes, budget is %d KB", size, g.budgetKB))
	}
	return pass(g.Name())
}

type mediaIntegrityGate struct{}

func (mediaIntegrityGate) Name() string { return GateMediaIntegrity }

func (g mediaIntegrityGate) Evaluate(_ context.Context, ec EvalContext) model.GateResult {
	for _, m := range ec.Artifact.Sections.Media {
		u, err := url.Parse(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fail(g.Name(), model.CodeGateFailed,
				fmt.Sprintf("media URL %q is not a well-formed http(s) URL", m.URL))
		}
		if strings.TrimSpace(m.Alt) == "" {
			return fail(g.Name(), model.CodeGateFailed,
				fmt.Sprintf("media %s has no alt text", m.URL))
		}
	}
	return pass(g.Name())
}
