package batch

import (
	"context"
	"sync"
	"time"
)

// Operation is a unit of deferred work.
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor handles one accumulated batch. It may execute every
// operation or collapse them; the batcher does not care.
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

type Config struct {
	// MaxBatch triggers an early flush once this many operations are
	// queued. Zero means flush on interval only.
	MaxBatch int

	// FlushInterval is the period of the background flusher.
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatch:      64,
		FlushInterval: time.Second,
	}
}

// Batcher accumulates operations and hands them to the processor in
// batches, either when MaxBatch is reached or on the flush interval.
type Batcher struct {
	cfg       Config
	processor Processor

	mu      sync.Mutex
	pending []Operation

	flushChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewBatcher(cfg Config, processor Processor) *Batcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	b := &Batcher{
		cfg:       cfg,
		processor: processor,
		pending:   make([]Operation, 0, cfg.MaxBatch),
		flushChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}

	go b.run()

	return b
}

// Add queues an operation for the next batch.
func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	b.pending = append(b.pending, op)
	shouldFlush := b.cfg.MaxBatch > 0 && len(b.pending) >= b.cfg.MaxBatch
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush synchronously processes everything queued so far.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	ops := b.pending
	b.pending = make([]Operation, 0, b.cfg.MaxBatch)
	b.mu.Unlock()

	return b.processor.ProcessBatch(ctx, ops)
}

func (b *Batcher) run() {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop flushes the remaining operations and stops the background
// flusher. Safe to call more than once.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}

// PendingCount returns the number of queued operations.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
