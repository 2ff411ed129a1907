// Command anchor runs one UWB ranging anchor, either on a radio coprocessor
// attached over a serial port or against a simulated tag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/polypoint/config"
	"github.com/ystepanoff/polypoint/driver/stub"
	"github.com/ystepanoff/polypoint/driver/uart"
	"github.com/ystepanoff/polypoint/ranging"
	"github.com/ystepanoff/polypoint/report"
)

var (
	configPath    = flag.String("config", "anchor.yaml", "YAML configuration file")
	device        = flag.String("device", "", "Serial device of the radio coprocessor (overrides serial.device)")
	simulate      = flag.Bool("simulate", false, "Run against an in-memory radio and simulated tag")
	simDistance   = flag.Float64("distance", 5, "Tag distance in metres when simulating")
	debug         = flag.Bool("debug", false, "Enable debug logging")
	statsInterval = flag.Duration("stats", 30*time.Second, "Interval between counter logs (0 disables)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "anchor:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) && !flagSet("config") {
		return config.Default(), nil
	}
	return cfg, err
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec report.Recorder
	if cfg.Report.DBPath != "" {
		store, err := report.Open(cfg.Report.DBPath, cfg.Anchor.EUI, logger)
		if err != nil {
			return fmt.Errorf("open round log: %w", err)
		}
		defer store.Close()
		rec = store
	}
	sink := report.NewSink(rec, logger, 16)

	g, ctx := errgroup.WithContext(ctx)

	var drv ranging.RadioDriver
	if *simulate {
		sd := stub.New(nil)
		drv = sd
		tag := stub.NewTag(sd, stub.TagConfig{
			TagEUI:            cfg.Anchor.TagEUI,
			NumAnchors:        cfg.Anchor.NumAnchors,
			NumMeasurements:   cfg.Anchor.NumMeasurements,
			PANID:             cfg.Anchor.PANID,
			Distance:          *simDistance,
			ResponseWindow:    cfg.Timing.ResponseWindow,
			SubsequencePeriod: cfg.Timing.SubsequencePeriod,
		}, logger)
		g.Go(func() error { return tag.Run(ctx) })
		logger.Info("simulating tag", "distance_m", *simDistance)
	} else {
		ud, err := uart.Open(cfg.Serial.Device, cfg.Serial.PortOptions, uart.WithLogger(logger))
		if err != nil {
			return err
		}
		defer ud.Close()
		drv = ud
		logger.Info("radio coprocessor connected", "device", cfg.Serial.Device)
	}

	anchor, err := ranging.NewAnchorWithDriver(cfg.Ranging(), drv,
		ranging.WithLogger(logger),
		ranging.WithRoundHandler(sink.Handle),
	)
	if err != nil {
		return err
	}
	if err := anchor.Initialise(); err != nil {
		return fmt.Errorf("initialise radio: %w", err)
	}

	g.Go(func() error { return anchor.Run(ctx) })
	g.Go(func() error { return sink.Run(ctx) })
	if *statsInterval > 0 {
		g.Go(func() error { return logStats(ctx, logger, anchor, sink, *statsInterval) })
	}
	return g.Wait()
}

func logStats(ctx context.Context, log *slog.Logger, a *ranging.Anchor, sink *report.Sink, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := a.Stats()
			log.Info("anchor counters",
				"polls", st.Polls,
				"finals", st.Finals,
				"responses_sent", st.ResponsesSent,
				"finals_sent", st.FinalsSent,
				"tx_failures", st.TxFailures,
				"dropped_samples", st.DroppedSamples,
				"unknown_frames", st.UnknownFrames,
				"rx_errors", st.RxErrors,
				"resyncs", st.Resyncs,
				"timer_mismatches", st.TimerMismatches,
				"stale_wakes", st.StaleWakes,
				"dropped_events", st.DroppedEvents,
				"dropped_reports", sink.Dropped())
		}
	}
}
