package analysis

import (
	"errors"
	"fmt"

	"qrng-lab/internal/sampling"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDegenerateTest indicates a chi-square request over an empty sequence,
// which would make every expected bin frequency zero.
var ErrDegenerateTest = errors.New("analysis: degenerate chi-square test")

// UniformPValueThreshold is the conventional significance level: p-values
// above it are treated as statistically consistent with a uniform source.
// Interpretation belongs to presentation layers; the tester only reports.
const UniformPValueThreshold = 0.05

// ChiSquareResult holds the outcome of a uniformity goodness-of-fit test.
type ChiSquareResult struct {
	Statistic        float64 `json:"statistic"`
	PValue           float64 `json:"p_value"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
}

// TestUniformity performs a chi-square goodness-of-fit test of the sequence
// against the uniform distribution over [0, 2^bitWidth - 1]. All K = 2^n bins
// contribute a term, including bins with zero observations; the expected
// frequency per bin is N/K. The p-value is the right-tail survival
// probability of the chi-square distribution with K-1 degrees of freedom,
// computed with a dedicated survival function rather than 1-CDF to preserve
// precision in the far tail.
//
// TestUniformity fails with ErrInvalidBitWidth when bitWidth < 1 and with
// ErrDegenerateTest when the sequence is empty.
func TestUniformity(sequence sampling.Sequence, bitWidth int) (ChiSquareResult, error) {
	if bitWidth < 1 {
		return ChiSquareResult{}, fmt.Errorf("%w: %d", ErrInvalidBitWidth, bitWidth)
	}
	if len(sequence) == 0 {
		return ChiSquareResult{}, ErrDegenerateTest
	}

	bins := 1 << bitWidth
	observed := make([]int, bins)
	for _, value := range sequence {
		if value < 0 || value >= bins {
			return ChiSquareResult{}, fmt.Errorf("analysis: value %d outside [0, %d]", value, bins-1)
		}
		observed[value]++
	}

	expected := float64(len(sequence)) / float64(bins)

	statistic := 0.0
	for _, count := range observed {
		deviation := float64(count) - expected
		statistic += deviation * deviation / expected
	}

	degreesOfFreedom := bins - 1
	dist := distuv.ChiSquared{K: float64(degreesOfFreedom)}
	pValue := dist.Survival(statistic)

	if pValue < 0 {
		pValue = 0
	}
	if pValue > 1 {
		pValue = 1
	}

	return ChiSquareResult{
		Statistic:        statistic,
		PValue:           pValue,
		DegreesOfFreedom: degreesOfFreedom,
	}, nil
}

// Uniform reports whether the result is statistically consistent with a
// uniform source at the conventional threshold.
func (r ChiSquareResult) Uniform() bool {
	return r.PValue > UniformPValueThreshold
}
