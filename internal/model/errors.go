package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies governance failures by their retry and remediation
// semantics. Kinds, not codes, decide what the engine does next; codes are
// stable identifiers for callers.
type ErrorKind string

const (
	// KindStructural marks path/keyword/silo invariant violations. Fatal to
	// the current request, never retried automatically.
	KindStructural ErrorKind = "structural"
	// KindConflict marks detected cannibalization. Blocks preflight; the
	// caller remediates, the engine never retries it.
	KindConflict ErrorKind = "conflict"
	// KindContentQuality marks postcheck failures. Triggers the retry path,
	// bounded by the cost/retry guard.
	KindContentQuality ErrorKind = "content_quality"
	// KindBudget marks retry or cost ceiling breaches. Always fatal; the job
	// moves to an absorbing failure state.
	KindBudget ErrorKind = "budget"
	// KindState marks invalid or skipped transitions and concurrent
	// mutations. Fatal to the request; never mutates job state.
	KindState ErrorKind = "state"
	// KindGate marks one or more failed lifecycle gates. Blocks the specific
	// action; fully remediable and re-evaluated on the next attempt.
	KindGate ErrorKind = "gate"
	// KindSystem marks downstream provider failures. Retried up to the same
	// bounded budget as content-quality failures, then surfaced.
	KindSystem ErrorKind = "system"
)

// Stable error codes. Every governance error carries exactly one.
const (
	CodePathNotUnique         = "PATH_NOT_UNIQUE"
	CodeKeywordAlreadyBound   = "KEYWORD_ALREADY_BOUND"
	CodeKeywordRebid          = "KEYWORD_REBIND_FORBIDDEN"
	CodeSiloLimitExceeded     = "SILO_LIMIT_EXCEEDED"
	CodeSiloMinimumRequired   = "SILO_MINIMUM_REQUIRED"
	CodeSiloNotFound          = "SILO_NOT_FOUND"
	CodeSiloNameTaken         = "SILO_NAME_TAKEN"
	CodeConflictDetected      = "CONFLICT_DETECTED"
	CodeEntityCoverage        = "ENTITY_COVERAGE"
	CodeFAQMinimum            = "FAQ_MINIMUM"
	CodeLinkHallucinated      = "LINK_HALLUCINATED"
	CodeLinkDomainForbidden   = "LINK_DOMAIN_FORBIDDEN"
	CodeSchemaMismatch        = "SCHEMA_MISMATCH"
	CodeRetryLimitExceeded    = "RETRY_LIMIT_EXCEEDED"
	CodeCostLimitExceeded     = "COST_LIMIT_EXCEEDED"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeStateConflict         = "STATE_CONFLICT"
	CodeJobTerminal           = "JOB_TERMINAL"
	CodeGateFailed            = "GATE_FAILED"
	CodeGenerationDisabled    = "GENERATION_DISABLED"
	CodePublishDisabled       = "PUBLISH_DISABLED"
	CodeGenerationCancelled   = "GENERATION_CANCELLED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeRedirectTargetMissing = "REDIRECT_TARGET_MISSING"
	CodeRedirectUnpublished   = "REDIRECT_TARGET_UNPUBLISHED"
	CodeRedirectURLInvalid    = "REDIRECT_URL_INVALID"
	CodeArtifactNotFound      = "ARTIFACT_NOT_FOUND"
	CodeJobNotFound           = "JOB_NOT_FOUND"
)

// Error is the typed governance error. It participates in errors.Is/As
// chains so callers can branch on Kind or Code while the underlying cause
// stays wrapped.
type Error struct {
	Kind ErrorKind
	Code string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Hint)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the engine's retry path applies to this kind.
func (e *Error) Retryable() bool {
	return e.Kind == KindContentQuality || e.Kind == KindSystem
}

func newError(kind ErrorKind, code, hint string) *Error {
	return &Error{Kind: kind, Code: code, Hint: hint}
}

// NewStructural builds a structural invariant violation.
func NewStructural(code, hint string) *Error { return newError(KindStructural, code, hint) }

// NewConflict builds a cannibalization violation.
func NewConflict(code, hint string) *Error { return newError(KindConflict, code, hint) }

// NewContentQuality builds a postcheck violation.
func NewContentQuality(code, hint string) *Error { return newError(KindContentQuality, code, hint) }

// NewBudget builds a retry/cost ceiling violation.
func NewBudget(code, hint string) *Error { return newError(KindBudget, code, hint) }

// NewState builds a state machine violation.
func NewState(code, hint string) *Error { return newError(KindState, code, hint) }

// NewGate builds a lifecycle gate violation.
func NewGate(code, hint string) *Error { return newError(KindGate, code, hint) }

// NewSystem builds a downstream provider failure.
func NewSystem(code, hint string) *Error { return newError(KindSystem, code, hint) }

// WrapSystem wraps an unrecognized error from an external collaborator as a
// system error rather than dropping it.
func WrapSystem(code string, err error) *Error {
	return &Error{Kind: KindSystem, Code: code, Hint: "downstream provider failed; retry later", Err: err}
}

// AsError extracts the governance error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// CodeOf returns the stable code from anywhere in the chain, or "".
func CodeOf(err error) string {
	if ge, ok := AsError(err); ok {
		return ge.Code
	}
	return ""
}

// KindOf returns the error kind from anywhere in the chain, or "".
func KindOf(err error) ErrorKind {
	if ge, ok := AsError(err); ok {
		return ge.Kind
	}
	return ""
}

// Violation is one itemized validation or gate failure returned to callers,
// so remediation never requires guessing.
type Violation struct {
	Code   string `json:"code"`
	Check  string `json:"check,omitempty"`
	Detail string `json:"detail,omitempty"`
	Hint   string `json:"hint,omitempty"`
}
