package cost

import (
	"math"
)

const defaultCharsPerToken = 4

// CallKind selects the pricing rule for a stage call.
type CallKind string

const (
	CallText  CallKind = "text"
	CallImage CallKind = "image"
	// CallLocal stages make no provider call; the guard neither checks nor counts them.
	CallLocal CallKind = "local"
)

// Pricing holds provider list prices.
type Pricing struct {
	InputPerMillionUSD    float64 `json:"input_per_million_usd" yaml:"input_per_million_usd"`
	OutputPerMillionUSD   float64 `json:"output_per_million_usd" yaml:"output_per_million_usd"`
	ImagePerCallUSD       float64 `json:"image_per_call_usd" yaml:"image_per_call_usd"`
	EstimatedOutputTokens int     `json:"estimated_output_tokens" yaml:"estimated_output_tokens"`
	CharsPerToken         int     `json:"chars_per_token" yaml:"chars_per_token"`
}

// DefaultPricing returns Gemini Pro text pricing and a flat per-image price.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMillionUSD:    1.25,
		OutputPerMillionUSD:   10.00,
		ImagePerCallUSD:       0.04,
		EstimatedOutputTokens: 1000,
		CharsPerToken:         defaultCharsPerToken,
	}
}

// Usage is the measured consumption of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Images       int
	// CostUSD, when positive, is the provider-reported cost and overrides list prices.
	CostUSD float64
}

// EstimateTokens converts a character count into a token estimate. Non-empty
// input is at least one token.
func (p Pricing) EstimateTokens(chars int) int {
	per := p.CharsPerToken
	if per <= 0 {
		per = defaultCharsPerToken
	}
	if chars <= 0 {
		return 0
	}
	tokens := chars / per
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// Estimate returns the projected cost of a call with inputChars of prompt.
func (p Pricing) Estimate(kind CallKind, inputChars int) float64 {
	switch kind {
	case CallLocal:
		return 0
	case CallImage:
		return p.ImagePerCallUSD
	default:
		return p.text(p.EstimateTokens(inputChars), p.EstimatedOutputTokens)
	}
}

// Price returns the actual cost of a completed call.
func (p Pricing) Price(kind CallKind, u Usage) float64 {
	if u.CostUSD > 0 {
		return u.CostUSD
	}
	switch kind {
	case CallLocal:
		return 0
	case CallImage:
		images := u.Images
		if images <= 0 {
			images = 1
		}
		return float64(images) * p.ImagePerCallUSD
	default:
		return p.text(u.InputTokens, u.OutputTokens)
	}
}

func (p Pricing) text(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMillionUSD/1_000_000 +
		float64(outputTokens)*p.OutputPerMillionUSD/1_000_000
}

// micros converts dollars to integer micro-dollars so ledger sums are exact.
func micros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Round(usd * 1_000_000))
}

func dollars(m int64) float64 {
	return float64(m) / 1_000_000
}

// PlannedCall is one expected provider call of a typical run.
type PlannedCall struct {
	Stage      string
	Kind       CallKind
	InputChars int
}

// RunEstimate is the projected cost of a typical run.
type RunEstimate struct {
	TextCalls    int                `json:"text_calls"`
	ImageCalls   int                `json:"image_calls"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	ByStage      map[string]float64 `json:"by_stage"`
}

// EstimateRun prices a plan of calls with the guard's pre-call estimate rule.
func EstimateRun(p Pricing, plan []PlannedCall) RunEstimate {
	est := RunEstimate{ByStage: map[string]float64{}}
	var total int64
	for _, c := range plan {
		switch c.Kind {
		case CallLocal:
			continue
		case CallImage:
			est.ImageCalls++
		default:
			est.TextCalls++
		}
		m := micros(p.Estimate(c.Kind, c.InputChars))
		total += m
		est.ByStage[c.Stage] += dollars(m)
	}
	est.TotalCostUSD = dollars(total)
	return est
}
