package worker

import (
	"context"
	"log"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
)

// Sweeper fails documents left processing by a worker that died mid-run.
type Sweeper struct {
	docs      core.DocumentStore
	interval  time.Duration
	olderThan time.Duration
	logger    *log.Logger
	metrics   *metrics.Metrics
}

func NewSweeper(docs core.DocumentStore, interval, olderThan time.Duration, logger *log.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Sweeper{docs: docs, interval: interval, olderThan: olderThan, logger: logger, metrics: m}
}

// Run sweeps once right away, then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce fails stale documents and returns how many it touched.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.docs.FailStaleProcessing(ctx, s.olderThan)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("Sweeper: failing stale documents: %v", err)
		}
		return 0
	}
	if n > 0 {
		s.logger.Printf("Sweeper: failed %d document(s) stuck in processing for over %s", n, s.olderThan)
	}
	s.metrics.StaleFailed(n)
	return n
}
