package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/couchcryptid/sealevel-monitor/internal/forecast"
	"github.com/couchcryptid/sealevel-monitor/internal/modelcache"
	"github.com/couchcryptid/sealevel-monitor/internal/observability"
	"github.com/couchcryptid/sealevel-monitor/internal/regime"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Forecast run statuses.
const (
	StatusOK                = "ok"
	StatusInsufficientData  = "insufficient_data"
	StatusModelFitFailed    = "model_fit_failed"
	StatusProcessingTimeout = "processing_timeout"
)

// StatusOf maps a forecast error to its run status.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, domain.ErrProcessingTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StatusProcessingTimeout
	case errors.Is(err, domain.ErrInsufficientData):
		return StatusInsufficientData
	default:
		return StatusModelFitFailed
	}
}

// HistorySource returns readings that passed quality control.
type HistorySource interface {
	CleanReadings(ctx context.Context, station string, from, to time.Time) ([]domain.Reading, error)
}

// SnapshotPublisher stores the latest forecast of a station.
type SnapshotPublisher interface {
	Publish(ctx context.Context, station string, payload []byte) error
}

// Snapshot is the published result of one station forecast.
type Snapshot struct {
	RunID        string            `json:"run_id"`
	Station      string            `json:"station"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	Records      []forecast.Record `json:"forecast"`
	Regime       *regime.Analysis  `json:"regime,omitempty"`
	SurgeWarning bool              `json:"surge_warning"`
	SurgeLevel   float64           `json:"surge_level"`
}

// ForecastConfig holds the settings of a ForecastJob.
type ForecastConfig struct {
	Stations    []string
	Spec        forecast.Spec
	Horizon     int
	Lookback    time.Duration
	FitTimeout  time.Duration
	Interval    time.Duration
	Concurrency int
	Clock       clockwork.Clock
}

// ForecastJob periodically fits and runs the regime ensemble for every
// station and publishes the results.
type ForecastJob struct {
	cfg       ForecastConfig
	history   HistorySource
	publisher SnapshotPublisher
	cache     *modelcache.Cache[*regime.Ensemble]
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewForecastJob creates a ForecastJob. publisher may be nil, in which case
// snapshots are only returned from RunOnce.
func NewForecastJob(cfg ForecastConfig, history HistorySource, publisher SnapshotPublisher, cache *modelcache.Cache[*regime.Ensemble], logger *slog.Logger, metrics *observability.Metrics) *ForecastJob {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ForecastJob{
		cfg:       cfg,
		history:   history,
		publisher: publisher,
		cache:     cache,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run forecasts immediately and then once per interval until ctx is done.
func (j *ForecastJob) Run(ctx context.Context) error {
	j.logger.Info("forecast job started",
		"stations", len(j.cfg.Stations),
		"interval", j.cfg.Interval,
		"horizon", j.cfg.Horizon,
	)
	ticker := j.cfg.Clock.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Info("forecast job stopping", "reason", err)
			return nil
		}
		select {
		case <-ctx.Done():
			j.logger.Info("forecast job stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce forecasts every station and returns one snapshot per station in
// configuration order. Station failures are reported in the snapshot status;
// the returned error is non-nil only when ctx is done.
func (j *ForecastJob) RunOnce(ctx context.Context) ([]Snapshot, error) {
	runID := uuid.NewString()
	out := make([]Snapshot, len(j.cfg.Stations))
	if n := j.cache.Sweep(); n > 0 {
		j.logger.Debug("expired forecast models dropped", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for i, station := range j.cfg.Stations {
		g.Go(func() error {
			out[i] = j.forecastStation(gctx, runID, station)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (j *ForecastJob) forecastStation(ctx context.Context, runID, station string) Snapshot {
	start := j.cfg.Clock.Now()
	snap := Snapshot{
		RunID:       runID,
		Station:     station,
		GeneratedAt: start.UTC(),
		Records:     []forecast.Record{},
	}

	err := j.predict(ctx, station, &snap)
	snap.Status = StatusOf(err)
	if err != nil {
		snap.Error = err.Error()
		j.logger.Warn("forecast failed", "station", station, "status", snap.Status, "error", err)
	}

	j.metrics.ForecastRuns.WithLabelValues(snap.Status).Inc()
	j.metrics.ForecastDuration.Observe(j.cfg.Clock.Since(start).Seconds())
	j.publish(ctx, snap)
	return snap
}

func (j *ForecastJob) predict(ctx context.Context, station string, snap *Snapshot) error {
	now := j.cfg.Clock.Now()
	history, err := j.history.CleanReadings(ctx, station, now.Add(-j.cfg.Lookback), now.Add(time.Second))
	if err != nil {
		return fmt.Errorf("load history for %s: %w", station, err)
	}
	if len(history) < forecast.MinFitPoints {
		return &domain.InsufficientDataError{Op: "forecast " + station, Have: len(history), Need: forecast.MinFitPoints}
	}

	ens, err := j.ensemble(ctx, station, history)
	if err != nil {
		return err
	}

	pred, err := ens.Predict(ctx, history, j.cfg.Horizon)
	if err != nil {
		return err
	}

	var nowcast *forecast.Nowcast
	if nc, err := ens.Base().Nowcast(); err == nil {
		nowcast = &nc
	} else {
		j.logger.Debug("nowcast unavailable", "station", station, "error", err)
	}

	analysis := ens.Analysis()
	snap.Records = forecast.Records(pred.Points, nowcast)
	snap.Regime = &analysis
	snap.SurgeWarning = pred.SurgeWarning
	snap.SurgeLevel = pred.SurgeLevel
	j.metrics.CurrentRegime.WithLabelValues(station).Set(float64(pred.Regime))

	if pred.FixedBand {
		j.logger.Warn("forecast variance unavailable, fixed band used", "station", station)
	}
	if len(pred.Skipped) > 0 {
		j.logger.Warn("regime forecasts left out of blend", "station", station, "regimes", pred.Skipped)
	}
	if pred.SurgeWarning {
		j.logger.Warn("surge warning",
			"station", station,
			"regime", pred.Regime,
			"surge_level", pred.SurgeLevel,
		)
	}
	return nil
}

// ensemble returns the cached ensemble of station or fits a new one. Only
// successful fits are cached.
func (j *ForecastJob) ensemble(ctx context.Context, station string, history []domain.Reading) (*regime.Ensemble, error) {
	key := modelcache.Key(station, j.cfg.Horizon)
	if ens, ok := j.cache.Get(key); ok {
		j.metrics.ModelCache.WithLabelValues("hit").Inc()
		return ens, nil
	}
	j.metrics.ModelCache.WithLabelValues("miss").Inc()

	fitCtx := ctx
	if j.cfg.FitTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, j.cfg.FitTimeout)
		defer cancel()
	}

	ens := regime.NewEnsemble(j.cfg.Spec)
	if err := ens.Fit(fitCtx, history); err != nil {
		return nil, err
	}
	if ens.Base().Reduced() {
		j.logger.Warn("forecast model fitted with reduced components", "station", station)
	}
	j.cache.Put(key, ens)
	j.logger.Info("forecast model fitted",
		"station", station,
		"readings", len(history),
		"log_likelihood", ens.Base().LogLikelihood(),
	)
	return ens, nil
}

func (j *ForecastJob) publish(ctx context.Context, snap Snapshot) {
	if j.publisher == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		j.logger.Error("marshal forecast snapshot failed", "station", snap.Station, "error", err)
		return
	}
	if err := j.publisher.Publish(ctx, snap.Station, payload); err != nil {
		j.logger.Error("publish forecast snapshot failed", "station", snap.Station, "error", err)
	}
}
