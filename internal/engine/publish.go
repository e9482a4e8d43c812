package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/gates"
	"github.com/pagemill/governor/internal/model"
)

// PublishResult reports a publish decision: the action outcome plus the full
// per-gate breakdown so a blocked caller knows exactly what to remediate.
type PublishResult struct {
	Published bool            `json:"published"`
	Decision  *gates.Decision `json:"decision"`
	Artifact  *model.Artifact `json:"artifact,omitempty"`
}

// DecommissionResult reports a decommission decision. Authority score and
// source URLs are echoed back verbatim: retiring a page never destroys the
// evidence of its authority.
type DecommissionResult struct {
	Decommissioned     bool            `json:"decommissioned"`
	Decision           *gates.Decision `json:"decision"`
	PreservedAuthority float64         `json:"preserved_authority_score"`
	PreservedSources   []string        `json:"preserved_source_urls,omitempty"`
	Redirect           string          `json:"redirect,omitempty"`
}

// CheckGates evaluates the configured gate set for inspection. Results may
// come from the store-backed cache within the staleness window; a publish
// decision never uses this path.
func (e *Engine) CheckGates(ctx context.Context, artifactID string) (*gates.Decision, error) {
	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	decision, err := e.gates.CheckCached(ctx, artifact, e.cfg.GateCacheTTL())
	if err != nil {
		return nil, err
	}

	outcome := "pass"
	if !decision.AllPassed {
		outcome = "fail"
	}
	e.recorder.Record(ctx, audit.NewEvent(model.AuditGateCheck, "engine", artifactID, "", outcome, map[string]any{
		"failed_gates": decision.FailedGates(),
		"from_cache":   decision.FromCache,
	}))
	return decision, nil
}

// Publish re-evaluates every configured gate fresh and, only if all pass,
// flips the artifact to published. The gate run and the status change happen
// under the publish call; no cached result can authorize it.
func (e *Engine) Publish(ctx context.Context, artifactID string) (*PublishResult, error) {
	if !e.toggles.PublishEnabled {
		return nil, model.NewState(model.CodePublishDisabled, "publishing is disabled by configuration")
	}

	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	decision, err := e.gates.CheckAll(ctx, artifact, gates.ActionPublish, "")
	if err != nil {
		return nil, err
	}
	result := &PublishResult{Decision: decision}

	if !decision.AllPassed {
		e.recordPublishDecision(ctx, artifactID, "blocked", decision)
		return result, nil
	}

	artifact.Status = model.StatusPublished
	artifact.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	result.Published = true
	result.Artifact = artifact

	e.recordPublishDecision(ctx, artifactID, "published", decision)
	zap.L().Info("engine: artifact published",
		zap.String("artifact_id", artifactID),
		zap.String("path", artifact.Path),
	)
	return result, nil
}

// Decommission retires a published artifact, optionally recording a redirect.
// The gate path validates the redirect target; the artifact's authority score
// and source URLs are preserved unchanged.
func (e *Engine) Decommission(ctx context.Context, artifactID, redirect string) (*DecommissionResult, error) {
	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	decision, err := e.gates.CheckAll(ctx, artifact, gates.ActionDecommission, redirect)
	if err != nil {
		return nil, err
	}
	result := &DecommissionResult{
		Decision:           decision,
		PreservedAuthority: artifact.AuthorityScore,
		PreservedSources:   artifact.SourceURLs,
	}

	if !decision.AllPassed {
		e.recordDecommissionDecision(ctx, artifactID, "blocked", redirect, decision)
		return result, nil
	}

	artifact.Status = model.StatusDecommissioned
	if redirect != "" {
		if strings.HasPrefix(strings.TrimSpace(redirect), "/") {
			artifact.RedirectTo = model.NormalizePath(redirect)
		} else {
			artifact.RedirectTo = strings.TrimSpace(redirect)
		}
	}
	artifact.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	result.Decommissioned = true
	result.Redirect = artifact.RedirectTo

	e.recordDecommissionDecision(ctx, artifactID, "decommissioned", artifact.RedirectTo, decision)
	zap.L().Info("engine: artifact decommissioned",
		zap.String("artifact_id", artifactID),
		zap.String("redirect", artifact.RedirectTo),
	)
	return result, nil
}

func (e *Engine) recordPublishDecision(ctx context.Context, artifactID, outcome string, decision *gates.Decision) {
	e.recorder.Record(ctx, audit.NewEvent(model.AuditPublishDecision, "engine", artifactID, "", outcome, map[string]any{
		"failed_gates": decision.FailedGates(),
	}))
	if err := e.recorder.Flush(ctx); err != nil {
		zap.L().Error("engine: audit flush after publish decision", zap.Error(err))
	}
}

func (e *Engine) recordDecommissionDecision(ctx context.Context, artifactID, outcome, redirect string, decision *gates.Decision) {
	e.recorder.Record(ctx, audit.NewEvent(model.AuditDecommission, "engine", artifactID, "", outcome, map[string]any{
		"failed_gates": decision.FailedGates(),
		"redirect":     redirect,
	}))
	if err := e.recorder.Flush(ctx); err != nil {
		zap.L().Error("engine: audit flush after decommission decision", zap.Error(err))
	}
}
