// Command analyze runs quality control and forecasting offline over a CSV
// export of gauge readings and prints the result as JSON.
//
// Usage:
//
//	go run ./cmd/analyze -in readings.csv -mode outliers
//	go run ./cmd/analyze -in readings.csv -mode forecast -station Haifa -horizon 48
//	go run ./cmd/analyze -in readings.csv -mode validate -station Yafo -holdout 72 -window 24
//
// Modes: outliers, corrections, forecast, regime, decompose, validate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/config"
	"github.com/couchcryptid/sealevel-monitor/internal/dataset"
	"github.com/couchcryptid/sealevel-monitor/internal/domain"
	"github.com/couchcryptid/sealevel-monitor/internal/forecast"
	"github.com/couchcryptid/sealevel-monitor/internal/qc"
	"github.com/couchcryptid/sealevel-monitor/internal/regime"
)

type options struct {
	in        string
	mode      string
	station   string
	stations  string
	horizon   int
	alpha     float64
	threshold float64
	limit     int
	holdout   int
	window    int
	timeout   time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.in, "in", "", "readings CSV (Tab_DateTime, Station, Tab_Value_mDepthC1)")
	flag.StringVar(&o.mode, "mode", "outliers", "outliers, corrections, forecast, regime, decompose or validate")
	flag.StringVar(&o.station, "station", "", "station to model (forecast, regime, decompose and validate modes)")
	flag.StringVar(&o.stations, "stations", "", "station profiles YAML; empty uses the built-in network")
	flag.IntVar(&o.horizon, "horizon", 240, "forecast steps in hours")
	flag.Float64Var(&o.alpha, "alpha", 0.05, "forecast bounds cover 1-alpha")
	flag.Float64Var(&o.threshold, "threshold", qc.DefaultValidationThreshold, "cross-station agreement threshold in meters")
	flag.IntVar(&o.limit, "limit", qc.DefaultReportOutliers, "maximum outliers listed in the report")
	flag.IntVar(&o.holdout, "holdout", 72, "trailing hours held out for validate mode")
	flag.IntVar(&o.window, "window", 24, "forecast steps scored per validation window")
	flag.DurationVar(&o.timeout, "timeout", 2*time.Minute, "model fit timeout")
	flag.Parse()

	if o.in == "" {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, o options, w io.Writer) error {
	registry, err := config.LoadStations(o.stations)
	if err != nil {
		return err
	}
	readings, err := loadReadings(o.in)
	if err != nil {
		return err
	}
	log.Printf("%d readings loaded from %s", len(readings), o.in)

	engine := qc.NewEngine(registry, qc.WithValidationThreshold(o.threshold))
	res := engine.ProcessNetwork(readings, nil)
	if err := res.Err(); err != nil {
		log.Printf("warning: %v", err)
	}

	var out any
	switch o.mode {
	case "outliers":
		out = qc.BuildOutlierReport(res.Records, engine.Stats(), o.limit)
	case "corrections":
		suggestions, err := engine.SuggestCorrections(res.Records)
		if err != nil {
			return err
		}
		out = qc.BuildCorrectionReport(suggestions)
	case "forecast", "regime", "decompose", "validate":
		if o.station == "" {
			return fmt.Errorf("-station is required for %s mode", o.mode)
		}
		if _, err := registry.Profile(o.station); err != nil {
			return err
		}
		history := cleanReadings(readings, res.Records, o.station)
		fitCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		out, err = model(fitCtx, o, history)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadReadings(path string) ([]domain.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dataset.ReadCSV(f)
}

// cleanReadings returns the station's readings that were not flagged.
// Readings without a verdict are kept.
func cleanReadings(readings []domain.Reading, records []domain.OutlierRecord, station string) []domain.Reading {
	flagged := make(map[int64]bool)
	for _, r := range records {
		if r.StationID == station && r.IsOutlier {
			flagged[r.Timestamp.UnixNano()] = true
		}
	}
	var out []domain.Reading
	for _, r := range readings {
		if r.StationID == station && !flagged[r.Timestamp.UnixNano()] {
			out = append(out, r)
		}
	}
	return out
}

type regimeOutput struct {
	Prediction regime.Prediction `json:"prediction"`
	Analysis   regime.Analysis   `json:"analysis"`
}

func model(ctx context.Context, o options, history []domain.Reading) (any, error) {
	spec := forecast.DefaultSpec()

	if o.mode == "regime" {
		ens := regime.NewEnsemble(spec, regime.WithAlpha(o.alpha))
		if err := ens.Fit(ctx, history); err != nil {
			return nil, fmt.Errorf("fit ensemble for %s: %w", o.station, err)
		}
		pred, err := ens.Predict(ctx, history, o.horizon)
		if err != nil {
			return nil, err
		}
		return regimeOutput{Prediction: pred, Analysis: ens.Analysis()}, nil
	}
	if o.mode == "validate" {
		return validate(ctx, o, spec, history)
	}

	m := forecast.New(spec)
	if err := m.Fit(ctx, history); err != nil {
		if errors.Is(err, domain.ErrProcessingTimeout) {
			return nil, fmt.Errorf("fit %s: gave up after %s: %w", o.station, o.timeout, err)
		}
		return nil, fmt.Errorf("fit %s: %w", o.station, err)
	}
	if m.Reduced() {
		log.Printf("warning: %s fitted without trend", o.station)
	}

	if o.mode == "decompose" {
		return m.Decompose()
	}

	res, err := m.Forecast(o.horizon, o.alpha)
	if err != nil {
		return nil, err
	}
	if res.FixedBand {
		log.Printf("warning: forecast variance unavailable, fixed band used")
	}
	var nowcast *forecast.Nowcast
	if nc, err := m.Nowcast(); err == nil {
		nowcast = &nc
	}
	return forecast.Records(res.Points, nowcast), nil
}

// validate fits on everything but the trailing holdout hours and scores
// rolling forecasts over the holdout.
func validate(ctx context.Context, o options, spec forecast.Spec, history []domain.Reading) (any, error) {
	series, err := forecast.HourlySeries(history)
	if err != nil {
		return nil, err
	}
	if o.holdout <= o.window {
		return nil, fmt.Errorf("-holdout (%d) must exceed -window (%d)", o.holdout, o.window)
	}
	train, test := series.Split(series.Len() - o.holdout)

	m := forecast.New(spec)
	if err := m.FitSeries(ctx, train); err != nil {
		return nil, fmt.Errorf("fit %s: %w", o.station, err)
	}
	log.Printf("%s fitted on %d hours, validating on %d", o.station, train.Len(), test.Len())
	return m.Validate(test, o.window)
}
