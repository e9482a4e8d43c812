package model

import "time"

// GateResult is the outcome of a single lifecycle gate evaluated against an
// artifact. Results may be cached briefly but must never authorize a publish
// past the configured staleness window.
type GateResult struct {
	Gate      string    `json:"gate"`
	Passed    bool      `json:"passed"`
	ErrorCode string    `json:"error_code,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// StaleAfter reports whether the result is older than the given window at
// the reference time.
func (g GateResult) StaleAfter(window time.Duration, now time.Time) bool {
	return now.Sub(g.CheckedAt) > window
}
