package model

// ConflictType classifies how two artifacts compete for the same intent.
type ConflictType string

const (
	ConflictExactMatch         ConflictType = "exact_match"
	ConflictHighOverlap        ConflictType = "high_overlap"
	ConflictIntentCollision    ConflictType = "intent_collision"
	ConflictURLCannibalization ConflictType = "url_cannibalization"
	ConflictTitleDuplicate     ConflictType = "title_duplicate"
)

// SimilaritySignal is one measured similarity dimension between two artifacts.
type SimilaritySignal struct {
	Name      string  `json:"name"` // title, heading, slug, meta, semantic
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Exceeds reports whether the signal crossed its configured threshold.
func (s SimilaritySignal) Exceeds() bool {
	return s.Value > s.Threshold
}

// ConflictRecord is an unordered artifact pair flagged as competing for the
// same search intent. Records are transient: they are recomputed on scan and
// logged through the audit trail rather than stored as mutable rows.
type ConflictRecord struct {
	PageA   string             `json:"page_a"` // lexically smaller artifact ID
	PageB   string             `json:"page_b"`
	Type    ConflictType       `json:"type"`
	Signals []SimilaritySignal `json:"signals"`
	Weight  float64            `json:"weight"`
}

// Pages returns the pair in canonical order.
func (c ConflictRecord) Pages() (string, string) {
	return c.PageA, c.PageB
}

// Involves reports whether the given artifact ID is part of the pair.
func (c ConflictRecord) Involves(artifactID string) bool {
	return c.PageA == artifactID || c.PageB == artifactID
}
