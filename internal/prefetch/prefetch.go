package prefetch

import (
	"context"
	"io"
	"sync"

	"rgbdtrain/pkg/logger"
	"rgbdtrain/pkg/training"
)

// result is one batch or the error that ended a pass
type result struct {
	batch *training.Batch
	err   error
}

// Source loads batches from an inner DataSource ahead of the consumer.
// A single producer goroutine fills a bounded buffer, so batch order is
// preserved. The producer starts on the first Next of a pass and stops at the
// end of the pass, on Reset, on Close, or when the context is cancelled.
type Source struct {
	inner  training.DataSource
	depth  int
	logger logger.Logger

	mu      sync.Mutex
	results chan result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	passes  int
}

// New wraps inner with a prefetch buffer of depth batches
func New(inner training.DataSource, depth int, log logger.Logger) *Source {
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Source{inner: inner, depth: depth, logger: log}
}

// Reset stops any running producer and rewinds the inner source
func (s *Source) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	return s.inner.Reset()
}

// Next returns the next batch in order, or io.EOF at the end of the pass
func (s *Source) Next(ctx context.Context) (*training.Batch, error) {
	s.mu.Lock()
	if s.results == nil {
		s.startLocked(ctx)
	}
	results := s.results
	s.mu.Unlock()

	select {
	case r, ok := <-results:
		if !ok {
			return nil, io.EOF
		}
		return r.batch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Buffered returns the number of batches loaded but not yet consumed
func (s *Source) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		return 0
	}
	return len(s.results)
}

// Close stops the producer
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Source) startLocked(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	results := make(chan result, s.depth)
	s.results = results
	s.cancel = cancel
	s.passes++

	s.logger.DebugWithFields("Prefetcher started", map[string]interface{}{
		"depth": s.depth,
		"pass":  s.passes,
	})

	s.wg.Add(1)
	go s.produce(pctx, results)
}

// stopLocked cancels the producer and waits for it to exit
func (s *Source) stopLocked() {
	if s.cancel == nil {
		s.results = nil
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.results = nil

	s.logger.Debug("Prefetcher stopped")
}

func (s *Source) produce(ctx context.Context, results chan<- result) {
	defer s.wg.Done()
	defer close(results)

	for {
		batch, err := s.inner.Next(ctx)
		if err == io.EOF {
			return
		}

		select {
		case results <- result{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
