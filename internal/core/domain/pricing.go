package domain

// ModelPrice holds per-million-token prices in USD.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input" json:"input"`
	OutputPerMTok float64 `yaml:"output" json:"output"`
}

// defaultPricing is the static pricing table. Overridable from config.
var defaultPricing = map[string]ModelPrice{
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":           {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"o3-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-sonnet-4-0": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-3-5":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
}

// FallbackModelPrice is deliberately conservative: an unknown model is
// priced like the most expensive known one so admission errs on refusal.
var FallbackModelPrice = ModelPrice{InputPerMTok: 5.00, OutputPerMTok: 20.00}

// PriceFor looks up the price for a model. ok is false when the model is
// unknown and the fallback was returned.
func PriceFor(model string) (ModelPrice, bool) {
	if p, ok := defaultPricing[model]; ok {
		return p, true
	}
	return FallbackModelPrice, false
}

// TokenCost computes the USD cost of one invocation.
func TokenCost(p ModelPrice, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}
