package analysis

import (
	"testing"

	"qrng-lab/internal/sampling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeKnownValues(t *testing.T) {
	sequence := sampling.Sequence{0, 1, 2, 3}

	report, err := Describe(sequence, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1.5, report.Mean, 1e-12)
	assert.InDelta(t, 1.5, report.TheoreticalMean, 1e-12)
	// Population form: sqrt(mean of squared deviations), divisor N.
	assert.InDelta(t, 1.118033988749895, report.StdDev, 1e-12)
	assert.Equal(t, 0, report.Min)
	assert.Equal(t, 3, report.Max)
	assert.Equal(t, 4, report.UniqueValues)
	assert.Equal(t, 4, report.TotalSamples)
	assert.InDelta(t, 2.0, report.ShannonEntropy, 1e-12)
	assert.InDelta(t, 2.0, report.MinEntropy, 1e-12)
}

func TestDescribeConstantSequence(t *testing.T) {
	sequence := sampling.Sequence{5, 5, 5, 5, 5}

	report, err := Describe(sequence, 3)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, report.Mean, 1e-12)
	assert.InDelta(t, 0.0, report.StdDev, 1e-12)
	assert.Equal(t, 5, report.Min)
	assert.Equal(t, 5, report.Max)
	assert.Equal(t, 1, report.UniqueValues)
	assert.InDelta(t, 0.0, report.ShannonEntropy, 1e-12)
	assert.InDelta(t, 0.0, report.MinEntropy, 1e-12)
}

func TestDescribeIsIdempotent(t *testing.T) {
	sequence := sampling.Sequence{7, 0, 3, 3, 1, 6, 2, 5, 4, 3}

	first, err := Describe(sequence, 3)
	require.NoError(t, err)

	again, err := Describe(sequence, 3)
	require.NoError(t, err)

	assert.Equal(t, first, again)
}

func TestDescribeEmptySequence(t *testing.T) {
	_, err := Describe(sampling.Sequence{}, 4)
	require.ErrorIs(t, err, ErrEmptySampleSet)
}

func TestDescribeInvalidBitWidth(t *testing.T) {
	_, err := Describe(sampling.Sequence{1, 2}, 0)
	require.ErrorIs(t, err, ErrInvalidBitWidth)
}

func TestTheoreticalMean(t *testing.T) {
	tests := []struct {
		bitWidth int
		want     float64
	}{
		{1, 0.5},
		{2, 1.5},
		{4, 7.5},
		{8, 127.5},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, TheoreticalMean(tt.bitWidth), 1e-12)
	}
}
