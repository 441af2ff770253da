// Package run orchestrates the sampling-and-validation pipeline and holds
// the most recent completed run for preview and export consumers. A run is
// produced whole or not at all: any stage failure discards all intermediate
// data for that request.
package run

import (
	"errors"
	"time"

	"qrng-lab/internal/analysis"
	"qrng-lab/internal/sampling"
)

// ErrOutOfBounds indicates request parameters outside the operational bounds
// enforced at the service boundary. The core pipeline itself is correct for
// any bit width >= 1 and sample count >= 0.
var ErrOutOfBounds = errors.New("run: parameters out of bounds")

// ErrNoRun indicates that no generation has completed yet.
var ErrNoRun = errors.New("run: no completed run")

// Record is the immutable result of one generation request. Its sequence and
// derived reports are never mutated after construction; a newer run
// supersedes it in the store without touching its buffers.
type Record struct {
	ID          string                   `json:"run_id"`
	BitWidth    int                      `json:"bit_width"`
	SampleCount int                      `json:"sample_count"`
	Frequencies sampling.FrequencyMap    `json:"-"`
	Sequence    sampling.Sequence        `json:"-"`
	Statistics  analysis.Report          `json:"statistics"`
	ChiSquare   analysis.ChiSquareResult `json:"chi_square"`
	Uniform     bool                     `json:"uniform"`
	CreatedAt   time.Time                `json:"created_at"`
}

// Bounds holds the operational parameter ranges enforced by the runner.
type Bounds struct {
	MinBitWidth int
	MaxBitWidth int
	MinSamples  int
	MaxSamples  int
}

// DefaultBounds mirrors the recommended operational ranges: bit widths the
// chi-square test stays well-conditioned for, and sample counts that keep
// every bin's expected frequency usable.
func DefaultBounds() Bounds {
	return Bounds{MinBitWidth: 2, MaxBitWidth: 8, MinSamples: 500, MaxSamples: 5000}
}

// Contains reports whether the request parameters fall inside the bounds.
func (b Bounds) Contains(bitWidth, samples int) bool {
	return bitWidth >= b.MinBitWidth && bitWidth <= b.MaxBitWidth &&
		samples >= b.MinSamples && samples <= b.MaxSamples
}
