package run

import (
	"context"
	"fmt"
	"log"

	"qrng-lab/internal/analysis"
	"qrng-lab/internal/clock"
	"qrng-lab/internal/metrics"
	"qrng-lab/internal/oracle"
	"qrng-lab/internal/sampling"

	"github.com/google/uuid"
)

// SummaryPublisher receives each completed run for mirroring to external
// consumers. Publishing is best-effort; implementations must not fail the
// pipeline.
type SummaryPublisher interface {
	PublishRun(record Record)
}

// Option applies an optional configuration to a Runner during construction.
type Option func(*Runner)

// WithClock injects a custom clock for deterministic run timestamps in tests.
func WithClock(clockSource clock.Clock) Option {
	return func(r *Runner) {
		r.clockSource = clockSource
	}
}

// WithPublisher attaches a summary publisher invoked after every completed
// run.
func WithPublisher(publisher SummaryPublisher) Option {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// Runner executes the generation pipeline: oracle call, sample expansion,
// descriptive statistics, uniformity test. Stages run sequentially to
// completion; the first failure aborts the request and nothing is stored.
// Each request builds its own frequency map and sequence, so concurrent
// Generate calls never share mutable state.
type Runner struct {
	backend     oracle.Oracle
	store       *Store
	bounds      Bounds
	publisher   SummaryPublisher
	clockSource clock.Clock
}

// NewRunner constructs a Runner over the given backend and store. Zero-value
// bounds fields fall back to the defaults.
func NewRunner(backend oracle.Oracle, store *Store, bounds Bounds, opts ...Option) *Runner {
	if bounds == (Bounds{}) {
		bounds = DefaultBounds()
	}

	runner := &Runner{
		backend:     backend,
		store:       store,
		bounds:      bounds,
		clockSource: clock.RealClock{},
	}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.clockSource == nil {
		runner.clockSource = clock.RealClock{}
	}

	return runner
}

// Bounds returns the operational parameter bounds the runner enforces.
func (r *Runner) Bounds() Bounds {
	return r.bounds
}

// Generate runs the full pipeline for one request and stores the completed
// record as the latest run. Errors from any stage are returned immediately
// and unrecovered; on failure the previous run, if any, remains current.
func (r *Runner) Generate(ctx context.Context, bitWidth, samples int) (Record, error) {
	if !r.bounds.Contains(bitWidth, samples) {
		metrics.RecordGenerationFailure("out_of_bounds")
		return Record{}, fmt.Errorf("%w: bits=%d samples=%d (allowed bits %d-%d, samples %d-%d)",
			ErrOutOfBounds, bitWidth, samples,
			r.bounds.MinBitWidth, r.bounds.MaxBitWidth, r.bounds.MinSamples, r.bounds.MaxSamples)
	}

	start := r.clockSource.Now()
	frequencies, err := r.backend.Generate(ctx, bitWidth, samples)
	oracleDuration := r.clockSource.Now().Sub(start)
	if err != nil {
		metrics.RecordGenerationFailure("oracle")
		return Record{}, fmt.Errorf("run: oracle: %w", err)
	}
	metrics.RecordOracleCall(oracleDuration)

	sequence, err := sampling.Expand(frequencies, bitWidth)
	if err != nil {
		metrics.RecordGenerationFailure("expand")
		return Record{}, fmt.Errorf("run: expand: %w", err)
	}

	report, err := analysis.Describe(sequence, bitWidth)
	if err != nil {
		metrics.RecordGenerationFailure("describe")
		return Record{}, fmt.Errorf("run: describe: %w", err)
	}

	result, err := analysis.TestUniformity(sequence, bitWidth)
	if err != nil {
		metrics.RecordGenerationFailure("chi_square")
		return Record{}, fmt.Errorf("run: uniformity: %w", err)
	}

	record := Record{
		ID:          uuid.NewString(),
		BitWidth:    bitWidth,
		SampleCount: samples,
		Frequencies: frequencies,
		Sequence:    sequence,
		Statistics:  report,
		ChiSquare:   result,
		Uniform:     result.Uniform(),
		CreatedAt:   r.clockSource.Now(),
	}

	if r.store != nil {
		r.store.Put(record)
	}

	totalDuration := r.clockSource.Now().Sub(start)
	metrics.RecordGeneration(bitWidth, len(sequence), result.Statistic, result.PValue, record.Uniform, totalDuration)

	log.Printf("run: %s completed (bits=%d, samples=%d, chi2=%.4f, p=%.4f, uniform=%t)",
		record.ID, bitWidth, len(sequence), result.Statistic, result.PValue, record.Uniform)

	if r.publisher != nil {
		r.publisher.PublishRun(record)
	}

	return record, nil
}
