package cost

import (
	"math"

	"github.com/tuskdev/tusk/internal/transcript"
)

// round6 rounds a dollar amount to six decimal places, the catalog's
// per-token resolution.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// TokensIn is the input-side token count of a request: fresh input plus
// both cache-write buckets plus cache reads.
func TokensIn(u transcript.Usage) int64 {
	return u.InputTokens + u.CacheCreation5m + u.CacheCreation1h + u.CacheReadTokens
}

// RequestCost prices one request's usage against a model's rates.
func RequestCost(u transcript.Usage, p ModelPrice) float64 {
	dollars := float64(u.InputTokens)*p.Input +
		float64(u.CacheCreation5m)*p.CacheWrite5m +
		float64(u.CacheCreation1h)*p.CacheWrite1h +
		float64(u.CacheReadTokens)*p.CacheRead +
		float64(u.OutputTokens)*p.Output
	return round6(dollars / 1e6)
}

// inputCost prices only the input side of a request.
func inputCost(u transcript.Usage, p ModelPrice) float64 {
	dollars := float64(u.InputTokens)*p.Input +
		float64(u.CacheCreation5m)*p.CacheWrite5m +
		float64(u.CacheCreation1h)*p.CacheWrite1h +
		float64(u.CacheReadTokens)*p.CacheRead
	return round6(dollars / 1e6)
}
