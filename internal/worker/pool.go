package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// DefaultMaxWorkers is the default worker pool size.
const DefaultMaxWorkers = 5

// processTimeout bounds one communication's end-to-end processing, including
// the reasoning fan-out.
const processTimeout = 2 * time.Minute

// fetchErrorBackoff is how long a poll loop waits after a fetch failure
// before polling again, so a broken reader does not spin hot.
const fetchErrorBackoff = time.Second

// item is one fetched message waiting in the buffer, paired with the source
// that must acknowledge it.
type item struct {
	comm   *model.Communication
	msg    *kafka.Message
	source Source
}

// Pool runs one poll loop per source and a fixed set of workers draining a
// bounded buffer. The blocking send into the buffer is the backpressure:
// poll loops pause while all workers are busy.
type Pool struct {
	sources []Source
	content ContentFetcher
	rules   RuleSource
	eval    RuleEvaluator
	merger  ResultMerger
	metrics MetricsRecorder
	workers int
	buffer  chan item

	fetchBackoff time.Duration
}

// NewPool creates a worker pool. maxWorkers values <= 0 use the default; the
// buffer holds up to twice the worker count.
func NewPool(sources []Source, content ContentFetcher, rules RuleSource, eval RuleEvaluator, merger ResultMerger, maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Pool{
		sources: sources,
		content: content,
		rules:   rules,
		eval:    eval,
		merger:  merger,
		metrics: &NoOpMetrics{},
		workers: maxWorkers,
		buffer:  make(chan item, maxWorkers*2),

		fetchBackoff: fetchErrorBackoff,
	}
}

// SetMetrics replaces the pool's metrics recorder. Nil restores the no-op.
func (p *Pool) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	p.metrics = m
}

// Run starts the poll loops and workers and blocks until ctx is cancelled
// and all of them have stopped. A worker mid-communication at shutdown
// finishes that communication; anything still buffered is abandoned
// unacknowledged, so the broker redelivers it.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Starting worker pool",
		"workers", p.workers,
		"sources", len(p.sources),
		"buffer_capacity", cap(p.buffer),
	)

	var pollWG sync.WaitGroup
	for _, source := range p.sources {
		pollWG.Add(1)
		go func(source Source) {
			defer pollWG.Done()
			p.pollLoop(ctx, source)
		}(source)
	}

	// Close the buffer once every poll loop has stopped so idle workers exit.
	go func() {
		pollWG.Wait()
		close(p.buffer)
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			p.workerLoop(ctx)
		}()
	}
	workerWG.Wait()

	slog.Info("Worker pool stopped")
	return nil
}

// pollLoop long-polls one source and feeds the buffer until ctx is cancelled.
func (p *Pool) pollLoop(ctx context.Context, source Source) {
	slog.Info("Starting poll loop", "topic", source.Topic())

	for {
		if ctx.Err() != nil {
			slog.Info("Poll loop stopped", "topic", source.Topic())
			return
		}

		comm, msg, err := source.FetchCommunication(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Poll loop stopped", "topic", source.Topic())
				return
			}
			if errors.Is(err, model.ErrValidation) && msg != nil {
				// Acknowledge malformed messages so they don't loop forever.
				slog.Error("Dropping malformed message", "topic", source.Topic(), "error", err)
				p.metrics.IncrementCustom("malformed_messages")
				if cerr := source.CommitMessage(ctx, msg); cerr != nil {
					slog.Error("Failed to commit malformed message", "topic", source.Topic(), "error", cerr)
				}
				continue
			}
			slog.Error("Failed to fetch communication", "topic", source.Topic(), "error", err)
			// Pause before re-polling so a persistently failing reader does
			// not spin hot.
			select {
			case <-time.After(p.fetchBackoff):
			case <-ctx.Done():
			}
			continue
		}

		p.metrics.RecordReceived()

		select {
		case p.buffer <- item{comm: comm, msg: msg, source: source}:
		case <-ctx.Done():
			slog.Info("Poll loop stopped", "topic", source.Topic())
			return
		}
	}
}

// workerLoop drains the buffer until it closes or ctx is cancelled.
func (p *Pool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-p.buffer:
			if !ok {
				return
			}
			p.processItem(ctx, it)
		}
	}
}

// processItem handles one communication end to end: fetch content, evaluate
// all active rules, merge triggered results, then acknowledge. Skippable
// failures (missing content, no rules) acknowledge without evaluating;
// unrecoverable ones leave the message for redelivery.
func (p *Pool) processItem(ctx context.Context, it item) {
	start := time.Now()

	// The current communication finishes even when shutdown begins, bounded
	// by the processing timeout.
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	comm := it.comm

	text, err := p.content.Fetch(procCtx, comm.ContentRef)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
			slog.Warn("Skipping communication without content",
				"communication_id", comm.CommunicationID,
				"content_ref", comm.ContentRef,
				"error", err,
			)
			p.commit(procCtx, it)
			return
		}
		slog.Error("Failed to fetch content, leaving message for redelivery",
			"communication_id", comm.CommunicationID,
			"error", err,
		)
		p.metrics.RecordError()
		return
	}

	rules, err := p.rules.QueryActiveByTenant(procCtx, comm.TenantID)
	if err != nil {
		slog.Error("Failed to load rules, leaving message for redelivery",
			"communication_id", comm.CommunicationID,
			"tenant_id", comm.TenantID,
			"error", err,
		)
		p.metrics.RecordError()
		return
	}
	if len(rules) == 0 {
		slog.Debug("No active rules for tenant", "tenant_id", comm.TenantID)
		p.commit(procCtx, it)
		return
	}

	triggered := p.eval.EvaluateAll(procCtx, comm, text, rules)

	ok := true
	for _, rr := range triggered {
		if err := p.merger.Merge(procCtx, rr.Rule, rr.Result, comm); err != nil {
			if errors.Is(err, model.ErrConflict) {
				// Retry budget exhausted: accept the loss, the next trigger
				// or dispatcher pass corrects the record.
				slog.Error("Merge conflict budget exhausted",
					"rule_id", rr.Rule.RuleID,
					"communication_id", comm.CommunicationID,
					"error", err,
				)
				p.metrics.IncrementCustom("merge_conflicts_dropped")
				continue
			}
			slog.Error("Failed to merge triggered result",
				"rule_id", rr.Rule.RuleID,
				"communication_id", comm.CommunicationID,
				"error", err,
			)
			p.metrics.RecordError()
			ok = false
		}
	}
	if !ok {
		// Leave the message unacknowledged; redelivery retries the whole
		// communication and the merge is idempotent on communication_ids.
		return
	}

	p.commit(procCtx, it)
	p.metrics.RecordProcessed(time.Since(start))

	slog.Info("Processed communication",
		"communication_id", comm.CommunicationID,
		"tenant_id", comm.TenantID,
		"rules_evaluated", len(rules),
		"rules_triggered", len(triggered),
		"duration", time.Since(start),
	)
}

func (p *Pool) commit(ctx context.Context, it item) {
	if err := it.source.CommitMessage(ctx, it.msg); err != nil {
		slog.Error("Failed to commit message",
			"communication_id", it.comm.CommunicationID,
			"topic", it.source.Topic(),
			"error", err,
		)
	}
}
