// Package oracle abstracts the bit-pattern generation backend. The service
// treats generation as an opaque capability: given a bit width and a shot
// count it receives a frequency map whose counts sum to the shot count. Any
// backend honouring that contract is substitutable, from the bundled
// pseudo-random simulator to real quantum hardware.
package oracle

import (
	"context"
	"errors"

	"qrng-lab/internal/sampling"
)

// ErrSimulation indicates a backend failure during generation. The pipeline
// propagates it to the caller without masking or retrying.
var ErrSimulation = errors.New("oracle: simulation failed")

// Oracle produces bit-pattern frequency counts for a generation request.
// Generate blocks until the backend completes; it is the only potentially
// slow step of a pipeline run, so callers that need timeouts should bound
// the context.
type Oracle interface {
	Generate(ctx context.Context, bitWidth, samples int) (sampling.FrequencyMap, error)
}
