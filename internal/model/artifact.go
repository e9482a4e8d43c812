package model

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ArtifactStatus represents the lifecycle state of a content artifact.
type ArtifactStatus string

const (
	StatusDraft          ArtifactStatus = "draft"
	StatusPendingReview  ArtifactStatus = "pending_review"
	StatusApproved       ArtifactStatus = "approved"
	StatusPublished      ArtifactStatus = "published"
	StatusDecommissioned ArtifactStatus = "decommissioned"
	StatusBlocked        ArtifactStatus = "blocked"
)

// AllArtifactStatuses returns every defined artifact status.
func AllArtifactStatuses() []ArtifactStatus {
	return []ArtifactStatus{
		StatusDraft,
		StatusPendingReview,
		StatusApproved,
		StatusPublished,
		StatusDecommissioned,
		StatusBlocked,
	}
}

// Entity is a named concept the artifact covers.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// FAQ is a question/answer pair emitted with the artifact. Both fields are
// required; an FAQ missing either one is invalid.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Valid reports whether both required FAQ fields are populated.
func (f FAQ) Valid() bool {
	return strings.TrimSpace(f.Question) != "" && strings.TrimSpace(f.Answer) != ""
}

// Link is a hyperlink emitted in the artifact body.
type Link struct {
	Href   string `json:"href"`
	Anchor string `json:"anchor,omitempty"`
}

// MediaRef references an embedded media asset.
type MediaRef struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Sections holds the structured parts of an artifact body.
type Sections struct {
	Entities []Entity   `json:"entities"`
	FAQs     []FAQ      `json:"faqs"`
	Links    []Link     `json:"links"`
	Media    []MediaRef `json:"media,omitempty"`
}

// CheckOutcome records the result of a single validator run against an artifact.
type CheckOutcome struct {
	Passed    bool      `json:"passed"`
	ErrorCode string    `json:"error_code,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Artifact is a single generated content unit ("page") identified by a
// normalized path unique within its site. The target keyword binding is
// one-to-one and never reassigned once set.
type Artifact struct {
	ID                string                  `json:"id"`
	SiteID            string                  `json:"site_id"`
	SiloID            string                  `json:"silo_id"`
	Path              string                  `json:"path"`
	Title             string                  `json:"title"`
	Headline          string                  `json:"headline,omitempty"` // rendered structured-data headline
	Body              string                  `json:"body"`
	MetaDescription   string                  `json:"meta_description,omitempty"`
	TargetKeyword     string                  `json:"target_keyword,omitempty"`
	Sections          Sections                `json:"sections"`
	Embedding         []float32               `json:"embedding,omitempty"`
	AuthorityScore    float64                 `json:"authority_score"`
	SourceURLs        []string                `json:"source_urls,omitempty"`
	AuthorAttribution string                  `json:"author_attribution,omitempty"`
	Status            ArtifactStatus          `json:"status"`
	GovernanceChecks  map[string]CheckOutcome `json:"governance_checks,omitempty"`
	RedirectTo        string                  `json:"redirect_to,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Slug returns the final path segment, used for URL-slug similarity.
func (a *Artifact) Slug() string {
	p := strings.TrimSuffix(a.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Heading returns the first H1 of the body, or "" when the body has none.
func (a *Artifact) Heading() string {
	for _, line := range strings.Split(a.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// Silo is a named topical cluster of artifacts within a site. A site holds
// between MinSilosPerSite and MaxSilosPerSite silos after initial setup.
type Silo struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Silo arity bounds enforced by the structural store.
const (
	MinSilosPerSite = 3
	MaxSilosPerSite = 7
)

// pathScrubber folds away diacritics so "Début" and "debut" normalize to the
// same path segment.
var pathScrubber = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizePath canonicalizes a raw path or URL into the globally comparable
// form stored on artifacts: lower-case ASCII, hyphen-separated segments, a
// single leading slash, no trailing slash, no query or fragment.
func NormalizePath(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "/"
	}

	// Accept full URLs; keep only the path component.
	if u, err := url.Parse(s); err == nil && (u.Scheme != "" || u.Host != "") {
		s = u.Path
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	if folded, _, err := transform.String(pathScrubber, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s) + 1)
	prevHyphen := false
	prevSlash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen, prevSlash = false, false
		case r == '/':
			if !prevSlash {
				b.WriteRune('/')
			}
			prevHyphen, prevSlash = false, true
		case r == '-' || r == '_' || r == ' ' || r == '\t' || r == '.':
			if !prevHyphen && !prevSlash && b.Len() > 0 {
				b.WriteRune('-')
				prevHyphen = true
			}
		default:
			// Drop anything else (punctuation, residual non-ASCII).
		}
	}

	out := b.String()
	out = strings.Trim(out, "-")
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
		out = strings.ReplaceAll(out, "-/", "/")
		out = strings.ReplaceAll(out, "/-", "/")
	}
	if out == "" {
		return "/"
	}
	return out
}
