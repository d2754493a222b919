package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/ingestion_engine"
	"github.com/markdave123-py/docpipe/internal/metrics"
	"github.com/markdave123-py/docpipe/internal/models"
	"github.com/markdave123-py/docpipe/internal/queue"
)

var _ queue.Handler = (*Processor)(nil)

const (
	defaultJobTimeout = 30 * time.Minute
	maxReasonLen      = 1000
)

// Ingestor runs one ingestion attempt.
type Ingestor interface {
	Process(ctx context.Context, job models.IngestionJob) (ingestion_engine.Result, error)
}

// Options configures a Processor.
//
// Attempts:   delivery attempts the queue allows, used to label retried outcomes.
// JobTimeout: upper bound for one attempt; zero means 30m.
type Options struct {
	Attempts   int
	JobTimeout time.Duration
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

// Processor turns ingestion envelopes into pipeline runs and records the
// terminal failed status once the queue gives up on a job.
type Processor struct {
	ingestor   Ingestor
	docs       core.DocumentStore
	attempts   int
	jobTimeout time.Duration
	logger     *log.Logger
	metrics    *metrics.Metrics
}

func NewProcessor(ing Ingestor, docs core.DocumentStore, opts Options) *Processor {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Attempts < 1 {
		opts.Attempts = queue.DefaultRetryPolicy().Attempts
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Processor{
		ingestor:   ing,
		docs:       docs,
		attempts:   opts.Attempts,
		jobTimeout: opts.JobTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Handle runs the pipeline for one envelope. Errors that no later attempt
// can fix are marked permanent so the queue fails the job at once.
func (p *Processor) Handle(ctx context.Context, env queue.Envelope) error {
	job, err := decodeJob(env)
	if err != nil {
		p.logger.Printf("Processor: rejecting envelope %s: %v", env.EventID, err)
		return queue.Permanent(err)
	}

	jctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	p.logger.Printf("Processor: document %s attempt %d/%d", job.DocumentID, env.Attempt, p.attempts)
	res, err := p.ingestor.Process(jctx, job)
	if err == nil {
		p.metrics.IngestJob(metrics.OutcomeProcessed)
		p.logger.Printf("Processor: document %s processed with %d chunks", job.DocumentID, res.Chunks)
		return nil
	}

	if core.IsKind(err, core.KindInterrupted) && ctx.Err() == nil && errors.Is(jctx.Err(), context.DeadlineExceeded) {
		// Our own deadline, not a shutdown: spend the attempt.
		err = core.E(core.KindUnknown, "worker.job_timeout", fmt.Errorf("attempt exceeded %s: %w", p.jobTimeout, err))
	}

	switch {
	case core.IsKind(err, core.KindInterrupted):
		p.metrics.IngestJob(metrics.OutcomeInterrupted)
		return err
	case isPermanent(err):
		return queue.Permanent(err)
	}
	if env.Attempt < p.attempts {
		p.metrics.IngestJob(metrics.OutcomeRetried)
	}
	return err
}

// Exhausted marks the document failed with the last error as its reason.
func (p *Processor) Exhausted(ctx context.Context, env queue.Envelope, cause error) {
	p.metrics.IngestJob(metrics.OutcomeFailed)

	job, err := decodeJob(env)
	if err != nil {
		p.logger.Printf("Processor: envelope %s dead-lettered without a usable job: %v", env.EventID, cause)
		return
	}

	err = p.docs.MarkFailed(ctx, job.DocumentID, failureReason(cause))
	switch {
	case err == nil:
		p.logger.Printf("Processor: document %s failed after %d attempt(s): %v", job.DocumentID, env.Attempt, cause)
	case core.IsKind(err, core.KindInvalidTransition), core.IsKind(err, core.KindNotFound):
		p.logger.Printf("Processor: document %s not marked failed: %v", job.DocumentID, err)
	default:
		// The stale sweep fails it later.
		p.logger.Printf("Processor: marking document %s failed: %v", job.DocumentID, err)
	}
}

func decodeJob(env queue.Envelope) (models.IngestionJob, error) {
	var job models.IngestionJob
	if env.EventType != models.EventIngestDocument {
		return job, core.E(core.KindInvalidInput, "worker.decode", fmt.Errorf("unexpected event type %q", env.EventType))
	}
	if err := env.Decode(&job); err != nil {
		return job, core.E(core.KindInvalidInput, "worker.decode", err)
	}
	if job.DocumentID == "" {
		return job, core.E(core.KindInvalidInput, "worker.decode", errors.New("documentId is empty"))
	}
	return job, nil
}

func isPermanent(err error) bool {
	switch core.KindOf(err) {
	case core.KindNotFound, core.KindInvalidTransition, core.KindInvalidInput, core.KindConfig:
		return true
	}
	return false
}

func failureReason(err error) string {
	if err == nil {
		return "ingestion failed"
	}
	s := err.Error()
	if len(s) > maxReasonLen {
		s = s[:maxReasonLen]
	}
	return s
}
