package pipeline

import (
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/couchcryptid/sealevel-monitor/internal/observability"
	"github.com/couchcryptid/sealevel-monitor/internal/qc"
)

// QCTransformer implements Transformer with the cross-station QC engine.
type QCTransformer struct {
	engine   *qc.Engine
	lookback time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewTransformer creates a QCTransformer. lookback is how far before a batch
// stored readings are loaded for the historical baseline.
func NewTransformer(engine *qc.Engine, lookback time.Duration, logger *slog.Logger, metrics *observability.Metrics) *QCTransformer {
	return &QCTransformer{
		engine:   engine,
		lookback: lookback,
		logger:   logger,
		metrics:  metrics,
	}
}

// HistoryWindow returns the stations and [from, to) range of stored readings
// a batch needs. The asynchronous station itself is left out so that its
// stored readings are not judged again.
func (t *QCTransformer) HistoryWindow(batch []domain.Reading) ([]string, time.Time, time.Time) {
	if len(batch) == 0 {
		return nil, time.Time{}, time.Time{}
	}
	first, last := batch[0].Timestamp, batch[0].Timestamp
	for _, r := range batch[1:] {
		if r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}

	reg := t.engine.Registry()
	async, _ := reg.AsynchronousStation()
	stations := slices.DeleteFunc(reg.ReferenceStations(), func(id string) bool { return id == async })

	window := t.engine.AsyncWindow()
	return stations, first.Add(-max(t.lookback, window)), last.Add(window + time.Second)
}

// Transform runs the synchronized and asynchronous QC passes over batch and
// returns one record per (station, timestamp), ordered by time then station.
func (t *QCTransformer) Transform(batch, history []domain.Reading) []domain.OutlierRecord {
	res := t.engine.ProcessNetwork(batch, history)
	for _, err := range res.Errors {
		t.logger.Warn("reading from unknown station skipped", "error", err)
	}
	for _, ts := range res.Unresolved {
		t.logger.Warn("no baseline for timestamp", "timestamp", ts)
	}

	for _, b := range res.Baselines {
		for _, id := range b.Validation.Excluded {
			t.metrics.Exclusions.WithLabelValues(id).Inc()
		}
		method := string(b.Baseline.Method)
		if !b.Baseline.Valid {
			method = "none"
		}
		t.metrics.Baselines.WithLabelValues(method).Inc()
		if b.Baseline.Method == domain.MethodHistorical {
			t.logger.Debug("historical baseline used",
				"timestamp", b.Timestamp,
				"sources", b.Baseline.SourceStations,
			)
		}
	}

	for _, r := range res.Records {
		if r.IsOutlier {
			t.metrics.Outliers.WithLabelValues(r.StationID).Inc()
		}
	}
	return res.Records
}

