package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"qrng-lab/internal/sampling"
)

const (
	minSimulatorBitWidth = 1
	maxSimulatorBitWidth = 62
)

// Simulator is a pseudo-random measurement backend. Each shot draws one
// outcome uniformly from [0, 2^bitWidth - 1], modelling the measurement of
// bitWidth qubits prepared in equal superposition. A mutex serialises access
// to the underlying PRNG so concurrent generation requests stay safe; each
// request still produces its own independent frequency map.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator constructs a simulator seeded with the given value. Seed zero
// selects a time-based seed; any other value makes the backend fully
// deterministic, which the test suite relies on.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// Generate runs samples measurement shots at the given bit width and returns
// the observed pattern counts. The counts always sum to samples. Failures
// (unsupported bit width, negative shot count, cancelled context) are
// reported as ErrSimulation-wrapped errors.
func (s *Simulator) Generate(ctx context.Context, bitWidth, samples int) (sampling.FrequencyMap, error) {
	if bitWidth < minSimulatorBitWidth || bitWidth > maxSimulatorBitWidth {
		return nil, fmt.Errorf("%w: unsupported bit width %d", ErrSimulation, bitWidth)
	}
	if samples < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrSimulation, samples)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSimulation, err)
	}

	outcomes := 1 << bitWidth

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(sampling.FrequencyMap)
	for i := 0; i < samples; i++ {
		value := s.rng.Intn(outcomes)
		counts[formatPattern(value, bitWidth)]++
	}

	return counts, nil
}

// formatPattern renders value as a zero-padded binary string of exactly
// bitWidth digits.
func formatPattern(value, bitWidth int) string {
	pattern := strconv.FormatInt(int64(value), 2)
	if len(pattern) < bitWidth {
		pattern = strings.Repeat("0", bitWidth-len(pattern)) + pattern
	}
	return pattern
}
