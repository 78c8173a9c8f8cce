package circuitbreaker

import (
	"context"
	"errors"

	gateway "github.com/eugener/marketgate/internal"
)

// ClassifyError returns the error weight of an upstream outcome.
//
// Weights:
//   - timeout or connection failure -> 1.5
//   - upstream unavailable (5xx, bad payload) -> 1.0
//   - rate limited -> 0.5
//   - upstream rejected (4xx) -> 0.0 (caller fault, not provider fault)
//   - caller cancelled -> 0.0
//   - other errors -> 1.0
//   - nil -> 0.0
func ClassifyError(err error) float64 {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var ue *gateway.UpstreamError
	if !errors.As(err, &ue) {
		return 1.0
	}
	switch ue.Kind {
	case gateway.KindTimeout:
		return 1.5
	case gateway.KindRateLimited:
		return 0.5
	case gateway.KindUpstreamRejected:
		return 0
	default:
		return 1.0
	}
}
