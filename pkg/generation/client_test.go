package generation

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/model"
)

const validPayload = `{
	"body": "# Boiler Servicing\n\nAn annual service keeps a boiler safe.",
	"entities": [{"name": "Boiler"}, {"name": "Gas Safe"}, {"name": "Annual Service"}],
	"faqs": [
		{"question": "How often?", "answer": "Yearly."},
		{"question": "Who?", "answer": "A registered engineer."},
		{"question": "How long?", "answer": "About an hour."}
	],
	"links": []
}`

type fakeMessenger struct {
	msg    *sdk.Message
	err    error
	params sdk.MessageNewParams
	calls  int
}

func (f *fakeMessenger) CreateMessage(_ context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	f.calls++
	f.params = params
	return f.msg, f.err
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Model:   "claude-sonnet-4-5-20250929",
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   sdk.Usage{InputTokens: 1000, OutputTokens: 500},
	}
}

func newTestClient(m messenger) Client {
	return NewClient("test-key", withMessenger(m))
}

func TestGenerate_Success(t *testing.T) {
	fm := &fakeMessenger{msg: textMessage(validPayload)}
	c := newTestClient(fm)

	result, err := c.Generate(context.Background(), ContentRequest{
		ArtifactID:    "artifact-1",
		Path:          "/boiler-servicing",
		Title:         "Boiler Servicing",
		TargetKeyword: "boiler servicing",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Content)
	assert.Len(t, result.Content.Entities, 3)
	assert.Len(t, result.Content.FAQs, 3)
	assert.NotNil(t, result.Content.Links)
	assert.Equal(t, "claude-sonnet-4-5-20250929", result.Model)

	// 1000 input at $3/MTok + 500 output at $15/MTok.
	assert.InDelta(t, 0.0105, result.CostUSD, 1e-9)
	assert.Equal(t, 1, fm.calls)
}

func TestGenerate_RequestOverrides(t *testing.T) {
	fm := &fakeMessenger{msg: textMessage(validPayload)}
	c := newTestClient(fm)

	temp := 0.4
	_, err := c.Generate(context.Background(), ContentRequest{
		Path:        "/boiler-servicing",
		Title:       "Boiler Servicing",
		MaxTokens:   2048,
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), fm.params.MaxTokens)
	require.True(t, fm.params.Temperature.Valid())
	assert.InDelta(t, 0.4, fm.params.Temperature.Value, 1e-9)
}

func TestGenerate_FencedPayloadParses(t *testing.T) {
	fm := &fakeMessenger{msg: textMessage("```json\n" + validPayload + "\n```")}
	c := newTestClient(fm)

	result, err := c.Generate(context.Background(), ContentRequest{Path: "/p", Title: "T"})
	require.NoError(t, err)
	require.NotNil(t, result.Content)
}

func TestGenerate_UnparseableIsContentQualityWithCost(t *testing.T) {
	fm := &fakeMessenger{msg: textMessage("sorry, I cannot produce JSON today")}
	c := newTestClient(fm)

	result, err := c.Generate(context.Background(), ContentRequest{Path: "/p", Title: "T"})
	require.Error(t, err)
	assert.Equal(t, model.CodeSchemaMismatch, model.CodeOf(err))
	assert.Equal(t, model.KindContentQuality, model.KindOf(err))

	// The failed attempt still spent tokens; cost must be reported.
	require.NotNil(t, result)
	assert.Nil(t, result.Content)
	assert.Greater(t, result.CostUSD, 0.0)
}

func TestGenerate_TimeoutIsProviderTimeout(t *testing.T) {
	fm := &fakeMessenger{err: context.DeadlineExceeded}
	c := newTestClient(fm)

	_, err := c.Generate(context.Background(), ContentRequest{Path: "/p", Title: "T"})
	require.Error(t, err)
	assert.Equal(t, model.CodeProviderTimeout, model.CodeOf(err))
	assert.Equal(t, model.KindSystem, model.KindOf(err))
}

func TestGenerate_TransportFailureIsSystemError(t *testing.T) {
	fm := &fakeMessenger{err: errors.New("connection refused")}
	c := newTestClient(fm)

	_, err := c.Generate(context.Background(), ContentRequest{Path: "/p", Title: "T"})
	require.Error(t, err)
	assert.Equal(t, model.CodeProviderUnavailable, model.CodeOf(err))
	assert.Equal(t, model.KindSystem, model.KindOf(err))
}

func TestGenerate_CancellationPassesThrough(t *testing.T) {
	fm := &fakeMessenger{err: context.Canceled}
	c := newTestClient(fm)

	_, err := c.Generate(context.Background(), ContentRequest{Path: "/p", Title: "T"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, model.CodeOf(err))
}

func TestParseContent(t *testing.T) {
	content, err := ParseContent(validPayload)
	require.NoError(t, err)
	assert.NotEmpty(t, content.Body)
	assert.NotEmpty(t, content.Raw)

	_, err = ParseContent("")
	require.Error(t, err)

	_, err = ParseContent("{not json")
	require.Error(t, err)
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))

	cached := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	// write at 1.25x input, read at 0.1x input.
	assert.InDelta(t, 3.0*1.25+3.0*0.1, cached.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}
