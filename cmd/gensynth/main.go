// Command gensynth writes a synthetic multi-station readings CSV with
// injected faults, an off-clock asynchronous station and an optional storm
// surge. The output feeds cmd/analyze and local demos.
//
// Usage:
//
//	go run ./cmd/gensynth -out data/synthetic.csv -hours 480 -surge-at 2025-11-12T06:00:00Z
package main

import (
	"flag"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/sealevel-monitor/internal/config"
	"github.com/couchcryptid/sealevel-monitor/internal/dataset"
	"github.com/couchcryptid/sealevel-monitor/internal/domain"
)

var defaultStart = time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output CSV path")
	stations := flag.String("stations", "", "station profiles YAML; empty uses the built-in network")
	start := flag.String("start", defaultStart.Format(time.RFC3339), "first timestamp (RFC 3339)")
	surgeAt := flag.String("surge-at", "", "surge start (RFC 3339); empty adds no surge")
	cfg := dataset.DefaultSynthConfig(defaultStart)
	flag.IntVar(&cfg.Hours, "hours", cfg.Hours, "hours of data per station")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flag.Float64Var(&cfg.NoiseStd, "noise", cfg.NoiseStd, "measurement noise standard deviation in meters")
	flag.Float64Var(&cfg.SpikeRate, "spike-rate", cfg.SpikeRate, "probability of a gross error per reading")
	flag.DurationVar(&cfg.AsyncShift, "async-shift", cfg.AsyncShift, "clock offset of the asynchronous station")
	flag.IntVar(&cfg.SurgeHours, "surge-hours", cfg.SurgeHours, "surge duration in hours")
	flag.Float64Var(&cfg.SurgeHeight, "surge-height", cfg.SurgeHeight, "surge peak in meters")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	var err error
	if cfg.Start, err = time.Parse(time.RFC3339, *start); err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	if *surgeAt != "" {
		if cfg.SurgeAt, err = time.Parse(time.RFC3339, *surgeAt); err != nil {
			return fmt.Errorf("parse -surge-at: %w", err)
		}
	}

	registry, err := config.LoadStations(*stations)
	if err != nil {
		return err
	}

	readings := dataset.Synthesize(registry, cfg)

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	if err := dataset.WriteCSV(f, readings); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	printStats(readings, cfg)
	log.Printf("wrote %d readings to %s", len(readings), *out)
	return f.Close()
}

func printStats(readings []domain.Reading, cfg dataset.SynthConfig) {
	counts := make(map[string]int)
	for _, r := range readings {
		counts[r.StationID]++
	}
	for _, id := range slices.Sorted(maps.Keys(counts)) {
		log.Printf("%s: %d readings", id, counts[id])
	}
	if !cfg.SurgeAt.IsZero() {
		log.Printf("surge: %.2f m over %d hours from %s", cfg.SurgeHeight, cfg.SurgeHours, cfg.SurgeAt.Format(time.RFC3339))
	}
}
