// Package analysis implements the statistical validation pipeline for
// generated sample sequences: descriptive statistics, entropy estimates, and
// a chi-square goodness-of-fit test against the uniform distribution. All
// functions are pure; calling them twice on the same sequence yields
// bit-identical results.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"qrng-lab/internal/sampling"

	"github.com/montanaflynn/stats"
)

var (
	// ErrEmptySampleSet indicates a descriptive request over an empty
	// sequence, for which mean, standard deviation, min and max are undefined.
	ErrEmptySampleSet = errors.New("analysis: empty sample set")

	// ErrInvalidBitWidth indicates a bit width below one.
	ErrInvalidBitWidth = errors.New("analysis: invalid bit width")
)

// Report holds descriptive statistics derived from a sample sequence and its
// bit width. TheoreticalMean is a pure function of the bit width, never of
// the data, and serves as the uniform reference point.
type Report struct {
	Mean            float64 `json:"mean"`
	TheoreticalMean float64 `json:"theoretical_mean"`
	StdDev          float64 `json:"std_dev"`
	Min             int     `json:"min"`
	Max             int     `json:"max"`
	UniqueValues    int     `json:"unique_values"`
	TotalSamples    int     `json:"total_samples"`

	// Entropy estimates in bits per sample; both approach bit width for an
	// ideal uniform source.
	ShannonEntropy float64 `json:"shannon_entropy"`
	MinEntropy     float64 `json:"min_entropy"`
}

// TheoreticalMean returns (2^n - 1) / 2, the expected mean of a uniform
// source over [0, 2^n - 1].
func TheoreticalMean(bitWidth int) float64 {
	return float64(int(1)<<bitWidth-1) / 2
}

// Describe computes descriptive statistics over a sample sequence. The
// standard deviation is the population form (divisor N): the sequence is the
// complete output of a generation request, not a sample from a larger one.
//
// Describe fails with ErrInvalidBitWidth when bitWidth < 1 and with
// ErrEmptySampleSet when the sequence is empty.
func Describe(sequence sampling.Sequence, bitWidth int) (Report, error) {
	if bitWidth < 1 {
		return Report{}, fmt.Errorf("%w: %d", ErrInvalidBitWidth, bitWidth)
	}
	if len(sequence) == 0 {
		return Report{}, ErrEmptySampleSet
	}

	data := make(stats.Float64Data, len(sequence))
	counts := make(map[int]int, 1<<bitWidth)
	for i, value := range sequence {
		data[i] = float64(value)
		counts[value]++
	}

	mean, err := stats.Mean(data)
	if err != nil {
		return Report{}, fmt.Errorf("analysis: mean: %w", err)
	}

	stdDev, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return Report{}, fmt.Errorf("analysis: std dev: %w", err)
	}

	minimum, err := stats.Min(data)
	if err != nil {
		return Report{}, fmt.Errorf("analysis: min: %w", err)
	}

	maximum, err := stats.Max(data)
	if err != nil {
		return Report{}, fmt.Errorf("analysis: max: %w", err)
	}

	return Report{
		Mean:            mean,
		TheoreticalMean: TheoreticalMean(bitWidth),
		StdDev:          stdDev,
		Min:             int(minimum),
		Max:             int(maximum),
		UniqueValues:    len(counts),
		TotalSamples:    len(sequence),
		ShannonEntropy:  shannonEntropy(counts, len(sequence)),
		MinEntropy:      minEntropyMCV(counts, len(sequence)),
	}, nil
}

// shannonEntropy returns -Σ p·log2(p) over the observed value frequencies.
func shannonEntropy(counts map[int]int, total int) float64 {
	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// minEntropyMCV returns -log2(pmax), the most-common-value min-entropy
// estimate, where pmax is the relative frequency of the most frequent value.
func minEntropyMCV(counts map[int]int, total int) float64 {
	maxCount := 0
	for _, count := range counts {
		if count > maxCount {
			maxCount = count
		}
	}

	pMax := float64(maxCount) / float64(total)
	if pMax >= 1.0 {
		return 0.0
	}
	return -math.Log2(pMax)
}
