// Package embedding provides a client for text embedding providers and the
// vector similarity helpers built on top of them.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pagemill/governor/internal/resilience"
)

// Provider produces fixed-dimension embedding vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either vector is empty, zero, or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Option configures the embedding client.
type Option func(*httpClient)

// WithBaseURL sets a custom API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel selects the embedding model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the transport retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker overrides the breaker guarding the embeddings endpoint.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates an embedding client for an OpenAI-compatible embeddings
// endpoint (Jina by default).
func NewClient(apiKey string, opts ...Option) Provider {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.jina.ai/v1/embeddings",
		model:   "jina-embeddings-v3",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			// Only genuine outages should open the circuit; quality and
			// auth failures are the caller's problem.
			ShouldTrip: resilience.IsTransient,
		}),
	}
	c.retry.OnRetry = resilience.RetryLogger("embeddings", "embed")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: marshal request")
	}

	// The breaker sits inside the retry loop so every attempt counts toward
	// its threshold. ErrCircuitOpen is not transient, so an opened circuit
	// ends the loop immediately.
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]float32, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]float32, error) {
			return c.embedOnce(ctx, payload)
		})
	})
}

func (c *httpClient) embedOnce(ctx context.Context, payload []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "embedding: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "embedding: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("embedding: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "embedding: unmarshal response")
	}
	if len(parsed.Data) == 0 {
		return nil, eris.New("embedding: empty response data")
	}
	return parsed.Data[0].Embedding, nil
}

// Noop is a Provider that returns no vector. Used when semantic comparison
// is disabled; the detector skips the semantic signal for empty embeddings.
type Noop struct{}

func (Noop) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}
