// Package generation wraps the Anthropic API behind the content-generation
// contract the engine consumes: one transport attempt per call, structured
// JSON output, and a cost figure for every attempt including failed ones.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/cost"
	"github.com/pagemill/governor/internal/model"
)

// Client defines the generation operation used by the engine.
type Client interface {
	Generate(ctx context.Context, req ContentRequest) (*ContentResult, error)
}

// ContentRequest describes one generation attempt for an artifact.
type ContentRequest struct {
	ArtifactID    string
	SiteID        string
	Path          string
	Title         string
	TargetKeyword string
	Brief         string // caller-supplied editorial brief
	PromptVersion string
	MaxTokens     int64
	Temperature   *float64
}

// ContentResult carries the parsed content plus the attempt's accounting.
// CostUSD is populated even when parsing fails, so the caller can fold the
// spend into its budget either way.
type ContentResult struct {
	Content *model.GeneratedContent
	CostUSD float64
	Usage   TokenUsage
	Model   string
}

// TokenUsage tracks token consumption for one attempt.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// pricing is the shared rate table; one source of truth for budget math.
var pricing = cost.NewCalculator(cost.DefaultRates())

// EstimateCost computes an estimated cost in USD from a TokenUsage and model
// ID. Returns 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	return pricing.Generation(model,
		int(u.InputTokens), int(u.OutputTokens),
		int(u.CacheCreationInputTokens), int(u.CacheReadInputTokens))
}

// messenger is the slice of the SDK the client needs; narrowed for testing.
type messenger interface {
	CreateMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

type sdkMessenger struct {
	client sdk.Client
}

func (m *sdkMessenger) CreateMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return m.client.Messages.New(ctx, params)
}

// client implements Client backed by the official anthropic-sdk-go.
type client struct {
	messenger messenger
	model     string
	maxTokens int64
}

// Option configures the client.
type Option func(*client)

// WithModel overrides the default generation model.
func WithModel(model string) Option {
	return func(c *client) { c.model = model }
}

// WithMaxTokens overrides the default per-attempt output budget.
func WithMaxTokens(n int64) Option {
	return func(c *client) { c.maxTokens = n }
}

func withMessenger(m messenger) Option {
	return func(c *client) { c.messenger = m }
}

// NewClient creates a generation client backed by the SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		messenger: &sdkMessenger{client: sdk.NewClient(option.WithAPIKey(apiKey))},
		model:     "claude-sonnet-4-5-20250929",
		maxTokens: 8192,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate runs exactly one provider call. Transport failures are wrapped as
// system errors; a response that is not valid structured content is a
// content-quality error, with the attempt's cost still reported.
func (c *client) Generate(ctx context.Context, req ContentRequest) (*ContentResult, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req)))},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.messenger.CreateMessage(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, model.NewSystem(model.CodeProviderTimeout, "generation attempt timed out")
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, model.WrapSystem(model.CodeProviderUnavailable, eris.Wrap(err, "generation: create message"))
	}

	usage := TokenUsage{
		InputTokens:              msg.Usage.InputTokens,
		OutputTokens:             msg.Usage.OutputTokens,
		CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
	}
	result := &ContentResult{
		Usage:   usage,
		CostUSD: usage.EstimateCost(string(msg.Model)),
		Model:   string(msg.Model),
	}

	raw := collectText(msg)
	content, err := ParseContent(raw)
	if err != nil {
		zap.L().Warn("generation: unparseable response",
			zap.String("artifact_id", req.ArtifactID),
			zap.String("model", result.Model),
			zap.Error(err),
		)
		return result, model.NewContentQuality(model.CodeSchemaMismatch, "provider response is not valid structured content")
	}
	result.Content = content

	zap.L().Info("generation: attempt finished",
		zap.String("artifact_id", req.ArtifactID),
		zap.String("model", result.Model),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Float64("estimated_cost_usd", result.CostUSD),
	)
	return result, nil
}

func collectText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ParseContent decodes the provider's JSON payload, tolerating a markdown
// code fence around it.
func ParseContent(raw string) (*model.GeneratedContent, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" {
		return nil, eris.New("generation: empty response body")
	}

	var content model.GeneratedContent
	if err := json.Unmarshal([]byte(trimmed), &content); err != nil {
		return nil, eris.Wrap(err, "generation: decode content")
	}
	content.Raw = trimmed
	return &content, nil
}

const systemPrompt = `You write website content as structured JSON. Respond with a single JSON object:
{"body": "markdown body starting with a single # heading",
 "entities": [{"name": "...", "type": "..."}],
 "faqs": [{"question": "...", "answer": "..."}],
 "links": [{"href": "...", "anchor": "..."}]}
Cover at least 3 distinct entities and include at least 3 complete FAQs.
Only link to paths or URLs given in the brief. No text outside the JSON object.`

func buildPrompt(req ContentRequest) string {
	var b strings.Builder
	b.WriteString("Write the page at path " + req.Path + " titled " + quote(req.Title) + ".\n")
	if req.TargetKeyword != "" {
		b.WriteString("Target keyword: " + req.TargetKeyword + "\n")
	}
	if req.Brief != "" {
		b.WriteString("Brief:\n" + req.Brief + "\n")
	}
	if req.PromptVersion != "" {
		b.WriteString("Prompt version: " + req.PromptVersion + "\n")
	}
	return b.String()
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
