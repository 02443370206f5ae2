package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the minimum |r| a pair needs to become a link.
const DefaultThreshold = 0.8

// Job is one run's raw two-channel input. Background matrices are optional;
// when both are set the normalizer's background-aware path is used.
type Job struct {
	RunID      string
	SignalA    Matrix
	SignalB    Matrix
	Background *[2]Matrix
	Weights    Matrix
}

// Pipeline normalizes raw signal, correlates every element pair and ingests
// the strong pairs, processing independent runs concurrently.
type Pipeline struct {
	manager    *Manager
	normalizer Normalizer
	workers    int
	threshold  float64
	actor      string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithWorkers bounds how many jobs run at once.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithThreshold sets the minimum |r| for a pair to be kept.
func WithThreshold(t float64) PipelineOption {
	return func(p *Pipeline) {
		if t >= 0 {
			p.threshold = t
		}
	}
}

// WithActor names the principal recorded on audit events.
func WithActor(actor string) PipelineOption {
	return func(p *Pipeline) { p.actor = actor }
}

// NewPipeline returns a pipeline writing through manager.
func NewPipeline(manager *Manager, normalizer Normalizer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		manager:    manager,
		normalizer: normalizer,
		workers:    4,
		threshold:  DefaultThreshold,
		actor:      "pipeline",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes jobs and returns results in job order. The first failure
// cancels jobs that have not started; runs already ingested stay ingested.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) ([]IngestResult, error) {
	results := make([]IngestResult, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.process(ctx, job)
			if err != nil {
				return fmt.Errorf("run %s: %w", job.RunID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pipeline) process(ctx context.Context, job Job) (IngestResult, error) {
	var (
		normalized Matrix
		err        error
	)
	if job.Background != nil {
		normalized, err = p.normalizer.Normalize(ctx, job.SignalA, job.SignalB, job.Background[0], job.Background[1], job.Weights)
	} else {
		normalized, err = p.normalizer.NormalizeSignals(ctx, job.SignalA, job.SignalB)
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("normalize: %w", err)
	}
	if err := normalized.Validate(); err != nil {
		return IngestResult{}, err
	}
	scores := PairScores(normalized, p.threshold)
	return p.manager.Ingest(ctx, job.RunID, normalized.Elements, scores, p.actor)
}
