package validate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// Postcheck inspects the structured result of a generation call before the
// engine accepts it. All checks are evaluated independently and all must
// pass; failures list which checks tripped.
type Postcheck struct {
	store          store.Store
	recorder       *audit.Recorder
	allowedDomains []string
	minEntities    int
	minFAQs        int
}

func NewPostcheck(st store.Store, rec *audit.Recorder, allowedDomains []string) *Postcheck {
	return &Postcheck{
		store:          st,
		recorder:       rec,
		allowedDomains: allowedDomains,
		minEntities:    3,
		minFAQs:        3,
	}
}

// Validate runs every postcheck against the generated content for the given
// artifact. The artifact supplies the site context for link resolution.
func (p *Postcheck) Validate(ctx context.Context, artifact *model.Artifact, jobID string, content *model.GeneratedContent) (*Result, error) {
	result := &Result{Pass: true}

	p.checkSchema(content, result)
	p.checkEntities(content, result)
	p.checkFAQs(content, result)
	if err := p.checkLinks(ctx, artifact, content, result); err != nil {
		return nil, err
	}

	result.Pass = len(result.Violations) == 0
	p.record(ctx, artifact.ID, jobID, result)
	return result, nil
}

func (p *Postcheck) checkSchema(content *model.GeneratedContent, result *Result) {
	fail := func(detail string) {
		result.Violations = append(result.Violations, model.Violation{
			Code:   model.CodeSchemaMismatch,
			Check:  CheckSchemaCompliance,
			Detail: detail,
			Hint:   "regenerate with the structured output contract",
		})
	}

	if content == nil {
		fail("no structured content returned")
		return
	}
	if strings.TrimSpace(content.Body) == "" {
		fail("body is empty")
	}
	if content.Entities == nil {
		fail("entities collection missing")
	}
	if content.FAQs == nil {
		fail("faqs collection missing")
	}
	if content.Links == nil {
		fail("links collection missing")
	}
}

func (p *Postcheck) checkEntities(content *model.GeneratedContent, result *Result) {
	if content == nil {
		return
	}
	distinct := make(map[string]struct{})
	for _, e := range content.Entities {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name != "" {
			distinct[name] = struct{}{}
		}
	}
	if len(distinct) < p.minEntities {
		result.Violations = append(result.Violations, model.Violation{
			Code:   model.CodeEntityCoverage,
			Check:  CheckEntityCoverage,
			Detail: fmt.Sprintf("%d distinct entities, minimum is %d", len(distinct), p.minEntities),
			Hint:   "cover more named concepts in the content",
		})
	}
}

func (p *Postcheck) checkFAQs(content *model.GeneratedContent, result *Result) {
	if content == nil {
		return
	}
	valid := 0
	invalid := 0
	for _, f := range content.FAQs {
		if f.Valid() {
			valid++
		} else {
			invalid++
		}
	}

	// An FAQ missing a question or answer is invalid, not merely incomplete:
	// it never counts toward the minimum and trips the check on its own.
	if valid < p.minFAQs || invalid > 0 {
		result.Violations = append(result.Violations, model.Violation{
			Code:   model.CodeFAQMinimum,
			Check:  CheckFAQMinimum,
			Detail: fmt.Sprintf("%d valid FAQs (minimum %d), %d invalid", valid, p.minFAQs, invalid),
			Hint:   "every FAQ needs both a question and an answer",
		})
	}
}

func (p *Postcheck) checkLinks(ctx context.Context, artifact *model.Artifact, content *model.GeneratedContent, result *Result) error {
	if content == nil || len(content.Links) == 0 {
		return nil
	}

	knownPaths, err := p.sitePaths(ctx, artifact.SiteID)
	if err != nil {
		return err
	}

	for _, link := range content.Links {
		href := strings.TrimSpace(link.Href)
		if href == "" {
			result.Violations = append(result.Violations, model.Violation{
				Code:   model.CodeLinkHallucinated,
				Check:  CheckLinkValidity,
				Detail: "empty link href",
			})
			continue
		}

		if strings.HasPrefix(href, "/") {
			normalized := model.NormalizePath(href)
			if _, ok := knownPaths[normalized]; !ok {
				result.Violations = append(result.Violations, model.Violation{
					Code:   model.CodeLinkHallucinated,
					Check:  CheckLinkValidity,
					Detail: fmt.Sprintf("internal link %s does not resolve to a known site path", href),
					Hint:   "link only to existing pages",
				})
			}
			continue
		}

		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result.Violations = append(result.Violations, model.Violation{
				Code:   model.CodeLinkHallucinated,
				Check:  CheckLinkValidity,
				Detail: fmt.Sprintf("malformed external link %s", href),
			})
			continue
		}
		if !p.domainAllowed(u.Hostname()) {
			result.Violations = append(result.Violations, model.Violation{
				Code:   model.CodeLinkDomainForbidden,
				Check:  CheckLinkValidity,
				Detail: fmt.Sprintf("external domain %s is not allow-listed", u.Hostname()),
				Hint:   "use an allow-listed source domain",
			})
		}
	}
	return nil
}

func (p *Postcheck) sitePaths(ctx context.Context, siteID string) (map[string]struct{}, error) {
	artifacts, err := p.store.ListArtifactsBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(artifacts))
	for _, a := range artifacts {
		out[a.Path] = struct{}{}
	}
	return out, nil
}

func (p *Postcheck) domainAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, d := range p.allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (p *Postcheck) record(ctx context.Context, artifactID, jobID string, result *Result) {
	outcome := "pass"
	if !result.Pass {
		outcome = "fail"
	}
	p.recorder.Record(ctx, audit.NewEvent(model.AuditValidationRun, "validator", artifactID, jobID, outcome, map[string]any{
		"stage":         "postcheck",
		"failed_checks": result.FailedChecks(),
	}))
}
