package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"policyaudit/internal/domain"
)

// BatchProcessor accumulates records and flushes them to an Exporter either
// when the batch size is reached or when the flush interval elapses. All
// flushing happens on a single worker goroutine, so ingest never blocks on
// network I/O and batches always leave in arrival order. Each trigger
// dequeues at most one batch; anything beyond it stays queued for the next
// size or timer trigger.
//
// A failed batch is pushed back to the head of the queue and retried on the
// next trigger. There is no drop policy; the queueDepth gauge is the signal
// that a sink has been down too long.
type BatchProcessor struct {
	exporter      Exporter
	batchSize     int
	flushInterval time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	queue   []*domain.DecisionRecord
	started bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewBatchProcessor(exporter Exporter, batchSize int, flushInterval time.Duration, logger *slog.Logger) *BatchProcessor {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchProcessor{
		exporter:      exporter,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           logger,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the flush worker. Subsequent calls are no-ops.
func (p *BatchProcessor) Start() {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		go p.run()
	})
}

// Add enqueues a record for export. When the queue reaches the batch size
// the worker is nudged to flush immediately.
func (p *BatchProcessor) Add(record *domain.DecisionRecord) {
	p.mu.Lock()
	p.queue = append(p.queue, record)
	depth := len(p.queue)
	p.mu.Unlock()

	recordsQueued.Inc()
	queueDepth.Set(float64(depth))

	if depth >= p.batchSize {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// QueueDepth returns the number of records waiting for delivery.
func (p *BatchProcessor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop shuts the worker down, drains whatever is still queued, and closes
// the exporter. The drain stops at the first failed delivery; records that
// cannot be delivered are lost and the count is logged. Stop on a processor
// that was never started is a no-op, as are subsequent calls.
func (p *BatchProcessor) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if !started {
			return
		}

		close(p.stop)
		<-p.done

		for p.flush(ctx) {
		}

		if remaining := p.QueueDepth(); remaining > 0 {
			p.log.Error("export queue not drained at shutdown", "dropped", remaining)
		}
		if err := p.exporter.Close(); err != nil {
			p.log.Warn("exporter close failed", "error", err)
		}
	})
}

func (p *BatchProcessor) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.flush(context.Background())
		case <-p.kick:
			p.flush(context.Background())
		}
	}
}

// flush dequeues at most one batch and delivers it; records beyond the batch
// size wait for the next trigger. On a failed delivery the batch goes back to
// the head of the queue, in its original order, so ordering is preserved for
// the next attempt. Reports whether a batch was delivered.
func (p *BatchProcessor) flush(ctx context.Context) bool {
	batch := p.takeBatch()
	if len(batch) == 0 {
		return false
	}

	if err := p.exporter.SendBatch(ctx, batch); err != nil {
		batchFailures.Inc()
		p.requeueHead(batch)
		p.log.Warn("batch delivery failed, requeued",
			"error", err,
			"batch_size", len(batch),
			"queue_depth", p.QueueDepth())
		return false
	}

	recordsExported.Add(float64(len(batch)))
	queueDepth.Set(float64(p.QueueDepth()))
	p.log.Debug("batch delivered", "batch_size", len(batch))
	return true
}

func (p *BatchProcessor) takeBatch() []*domain.DecisionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	if n == 0 {
		return nil
	}
	if n > p.batchSize {
		n = p.batchSize
	}
	batch := make([]*domain.DecisionRecord, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	return batch
}

func (p *BatchProcessor) requeueHead(batch []*domain.DecisionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	requeued := make([]*domain.DecisionRecord, 0, len(batch)+len(p.queue))
	requeued = append(requeued, batch...)
	requeued = append(requeued, p.queue...)
	p.queue = requeued
	queueDepth.Set(float64(len(p.queue)))
}
