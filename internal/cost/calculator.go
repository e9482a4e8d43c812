// Package cost prices generation and embedding usage so budget reports and
// spend projections use one rate table.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Generation map[string]ModelRate `yaml:"generation" mapstructure:"generation"`
	Embedding  EmbeddingRate        `yaml:"embedding" mapstructure:"embedding"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// EmbeddingRate holds embedding-provider pricing.
type EmbeddingRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Generation computes the cost of one generation attempt. Unknown models
// price at zero.
func (c *Calculator) Generation(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Generation[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Embedding computes the cost of embedding the given token count.
func (c *Calculator) Embedding(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Embedding.PerMTok
}

// JobCeilingAttempts estimates how many attempts at a given per-attempt cost
// fit under a job's cost ceiling. Zero-cost attempts are unbounded; -1 marks
// that case.
func (c *Calculator) JobCeilingAttempts(maxCostUSD, perAttemptUSD float64) int {
	if perAttemptUSD <= 0 {
		return -1
	}
	return int(maxCostUSD / perAttemptUSD)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Generation: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Embedding: EmbeddingRate{PerMTok: 0.02},
	}
}
