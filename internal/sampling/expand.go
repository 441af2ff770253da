// Package sampling converts the bit-pattern frequency counts produced by a
// QRNG backend into flat integer sample sequences. Expansion order is
// deterministic so that preview and export consumers can slice the sequence
// positionally and obtain identical results across runs with identical input.
package sampling

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrMalformedFrequency indicates a frequency map entry that cannot be
// interpreted: a key that is not an exact-width binary pattern, or a
// negative count.
var ErrMalformedFrequency = errors.New("sampling: malformed frequency data")

// FrequencyMap holds occurrence counts keyed by fixed-width binary pattern
// strings, as returned by a measurement backend. For a generation request of
// s samples the counts sum to s.
type FrequencyMap map[string]int

// Sequence is an ordered series of integer samples, each in [0, 2^n - 1] for
// the bit width n it was expanded with.
type Sequence []int

// Expand converts a frequency map into a flat sample sequence. For every
// (pattern, count) pair it appends count copies of the pattern's decimal
// value. Patterns are visited in ascending order, which makes the output a
// pure function of the map contents. An empty map yields an empty sequence.
//
// Expand fails with ErrMalformedFrequency when a key is not a binary string
// of exactly bitWidth digits or when a count is negative.
func Expand(freq FrequencyMap, bitWidth int) (Sequence, error) {
	if bitWidth < 1 {
		return nil, fmt.Errorf("%w: bit width %d", ErrMalformedFrequency, bitWidth)
	}

	patterns := make([]string, 0, len(freq))
	total := 0
	for pattern, count := range freq {
		if count < 0 {
			return nil, fmt.Errorf("%w: pattern %q has negative count %d", ErrMalformedFrequency, pattern, count)
		}
		if len(pattern) != bitWidth {
			return nil, fmt.Errorf("%w: pattern %q is not %d digits", ErrMalformedFrequency, pattern, bitWidth)
		}
		patterns = append(patterns, pattern)
		total += count
	}

	// Lexicographic order over fixed-width binary strings equals numeric order.
	sort.Strings(patterns)

	sequence := make(Sequence, 0, total)
	for _, pattern := range patterns {
		value, err := strconv.ParseUint(pattern, 2, 63)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrMalformedFrequency, pattern, err)
		}
		for i := 0; i < freq[pattern]; i++ {
			sequence = append(sequence, int(value))
		}
	}

	return sequence, nil
}

// Total returns the sum of all counts in the map. Negative counts are summed
// as-is; callers needing validation should use Expand.
func (m FrequencyMap) Total() int {
	total := 0
	for _, count := range m {
		total += count
	}
	return total
}
