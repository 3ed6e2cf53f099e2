package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/couchcryptid/sealevel-monitor/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
	defaultMaxRetries   = 5
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer runs quality control over a batch of parsed readings.
type Transformer interface {
	// HistoryWindow names the stored readings a batch must be checked against.
	HistoryWindow(batch []domain.Reading) (stations []string, from, to time.Time)
	Transform(batch, history []domain.Reading) []domain.OutlierRecord
}

// ReadingStore persists readings and QC verdicts.
type ReadingStore interface {
	InsertReadings(ctx context.Context, readings []domain.Reading) error
	History(ctx context.Context, stations []string, from, to time.Time) ([]domain.Reading, error)
	SaveOutlierRecords(ctx context.Context, records []domain.OutlierRecord) error
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline orchestrates the extract-QC-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	store       ReadingStore
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	ready       atomic.Bool
	batchSize   int

	retryInitial time.Duration
	retryMax     time.Duration
	maxRetries   uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for retry delays and batch timing.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithRetry sets the exponential backoff applied to store and sink calls.
func WithRetry(initial, maxInterval time.Duration, maxRetries uint64) Option {
	return func(p *Pipeline) {
		p.retryInitial, p.retryMax, p.maxRetries = initial, maxInterval, maxRetries
	}
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, s ReadingStore, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:    e,
		transformer:  t,
		store:        s,
		loader:       l,
		logger:       logger,
		metrics:      metrics,
		clock:        clockwork.NewRealClock(),
		batchSize:    batchSize,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		maxRetries:   defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a batch has been fully processed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any readings yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx) {
			return nil
		}
	}
}

// processBatch runs one extract-QC-load cycle. Returns false if the pipeline
// should stop.
func (p *Pipeline) processBatch(ctx context.Context) bool {
	start := p.clock.Now()

	var rawBatch []domain.RawEvent
	err := p.retry(ctx, "extract batch", func() error {
		var err error
		rawBatch, err = p.extractor.ExtractBatch(ctx, p.batchSize)
		return err
	})
	if err != nil {
		return ctx.Err() == nil
	}
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.ReadingsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))

	readings, parsed := p.parse(ctx, rawBatch)
	if len(readings) == 0 {
		return true
	}

	if err := p.runQC(ctx, readings); err != nil {
		p.logger.Error("batch abandoned", "error", err, "batch_size", len(readings))
		return ctx.Err() == nil
	}

	for _, raw := range parsed {
		p.commitOffset(ctx, raw)
	}
	p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// parse converts raw events into readings. Events that cannot be parsed are
// committed and dropped.
func (p *Pipeline) parse(ctx context.Context, rawBatch []domain.RawEvent) ([]domain.Reading, []domain.RawEvent) {
	readings := make([]domain.Reading, 0, len(rawBatch))
	parsed := make([]domain.RawEvent, 0, len(rawBatch))
	for _, raw := range rawBatch {
		r, err := domain.ParseRawEvent(raw)
		if err != nil {
			p.logger.Warn("parse failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.ParseErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		readings = append(readings, r)
		parsed = append(parsed, raw)
	}
	return readings, parsed
}

// runQC loads history, stores the batch, evaluates it and publishes the
// verdicts. History is read before the batch is stored so the batch is not
// counted twice.
func (p *Pipeline) runQC(ctx context.Context, readings []domain.Reading) error {
	stations, from, to := p.transformer.HistoryWindow(readings)

	var history []domain.Reading
	if len(stations) > 0 {
		err := p.retry(ctx, "load history", func() error {
			var err error
			history, err = p.store.History(ctx, stations, from, to)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := p.retry(ctx, "store readings", func() error {
		return p.store.InsertReadings(ctx, readings)
	}); err != nil {
		return err
	}

	records := p.transformer.Transform(readings, history)
	if len(records) == 0 {
		return nil
	}

	if err := p.retry(ctx, "store qc results", func() error {
		return p.store.SaveOutlierRecords(ctx, records)
	}); err != nil {
		return err
	}

	events := make([]domain.OutputEvent, 0, len(records))
	for _, rec := range records {
		ev, err := domain.SerializeRecord(rec)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}

	if err := p.retry(ctx, "load batch", func() error {
		return p.loader.LoadBatch(ctx, events)
	}); err != nil {
		return err
	}
	p.metrics.RecordsProduced.Add(float64(len(events)))
	return nil
}

// retry runs op with exponential backoff until it succeeds, the retry budget
// is spent, or ctx is done.
func (p *Pipeline) retry(ctx context.Context, name string, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retryInitial
	eb.MaxInterval = p.retryMax
	eb.MaxElapsedTime = 0
	eb.Clock = p.clock

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		p.logger.Warn(name+" failed, retrying", "error", err, "backoff", wait)
	}
	err := backoff.RetryNotifyWithTimer(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b, notify, &clockTimer{clock: p.clock})
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error(name+" failed", "error", err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// clockTimer adapts a clockwork timer to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.Chan() }
