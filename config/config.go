// Package config loads the anchor daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ystepanoff/polypoint/driver/uart"
	proto "github.com/ystepanoff/polypoint/protocol"
	"github.com/ystepanoff/polypoint/ranging"
)

type Config struct {
	Anchor      Anchor      `yaml:"anchor"`
	Timing      Timing      `yaml:"timing"`
	Radio       Radio       `yaml:"radio"`
	Calibration Calibration `yaml:"calibration"`
	Log         Log         `yaml:"log"`
	Serial      Serial      `yaml:"serial"`
	Report      Report      `yaml:"report"`
}

type Anchor struct {
	EUI             uint8  `yaml:"eui"`
	TagEUI          uint8  `yaml:"tag_eui"`
	NumAnchors      int    `yaml:"num_anchors"`
	NumMeasurements int    `yaml:"num_measurements"`
	PANID           uint16 `yaml:"pan_id"`
}

type Timing struct {
	ResponseWindow      time.Duration `yaml:"response_window"`
	FinalWindow         time.Duration `yaml:"final_window"`
	SubsequencePeriod   time.Duration `yaml:"subsequence_period"`
	ResponseDelayUS     uint32        `yaml:"response_delay_us"`
	GlobalPacketDelayUS uint32        `yaml:"global_packet_delay_us"`
	RxAfterTxDelayUS    uint32        `yaml:"rx_after_tx_delay_us"`
}

type Radio struct {
	Channels       []uint8 `yaml:"channels"`
	TxAntennaDelay uint16  `yaml:"tx_antenna_delay"`
}

type Calibration struct {
	AnchorCalLength float64 `yaml:"anchor_cal_length"`
	// AntennaDelay is indexed [anchor EUI][channel index], in metres.
	AntennaDelay [][]float64 `yaml:"antenna_delay"`
	SpeedOfLight float64     `yaml:"speed_of_light"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Serial locates the radio coprocessor.
type Serial struct {
	Device           string `yaml:"device"`
	uart.PortOptions `yaml:",inline"`
}

type Report struct {
	// DBPath is the SQLite round log. Empty disables it.
	DBPath string `yaml:"db_path"`
}

// Default returns a configuration for anchor 1 of a ten-anchor deployment.
func Default() Config {
	r := ranging.DefaultConfig()
	return Config{
		Anchor: Anchor{
			EUI:             r.AnchorEUI,
			TagEUI:          r.TagEUI,
			NumAnchors:      r.NumAnchors,
			NumMeasurements: r.NumMeasurements,
			PANID:           r.PANID,
		},
		Timing: Timing{
			ResponseWindow:      r.ResponseWindow,
			FinalWindow:         r.FinalWindow,
			SubsequencePeriod:   r.SubsequencePeriod,
			ResponseDelayUS:     r.ResponseDelayUS,
			GlobalPacketDelayUS: r.GlobalPacketDelayUS,
			RxAfterTxDelayUS:    r.RxAfterTxDelayUS,
		},
		Radio: Radio{
			Channels:       r.Channels,
			TxAntennaDelay: r.TxAntennaDelay,
		},
		Calibration: Calibration{SpeedOfLight: proto.SpeedOfLight},
		Log:         Log{Level: "info", Format: "text"},
		Serial:      Serial{Device: "/dev/ttyACM0", PortOptions: uart.PortOptions{BaudRate: uart.DefaultBaudRate}},
		Report:      Report{DBPath: "rounds.db"},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Anchor.NumMeasurements < 1 {
		return fmt.Errorf("anchor.num_measurements must be positive")
	}
	if err := c.Ranging().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: expected text or json", c.Log.Format)
	}
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	return nil
}

// Ranging converts the configuration into the state machine's parameters.
func (c Config) Ranging() ranging.Config {
	return ranging.Config{
		AnchorEUI:           c.Anchor.EUI,
		TagEUI:              c.Anchor.TagEUI,
		NumAnchors:          c.Anchor.NumAnchors,
		NumMeasurements:     c.Anchor.NumMeasurements,
		PANID:               c.Anchor.PANID,
		ResponseWindow:      c.Timing.ResponseWindow,
		FinalWindow:         c.Timing.FinalWindow,
		SubsequencePeriod:   c.Timing.SubsequencePeriod,
		ResponseDelayUS:     c.Timing.ResponseDelayUS,
		GlobalPacketDelayUS: c.Timing.GlobalPacketDelayUS,
		RxAfterTxDelayUS:    c.Timing.RxAfterTxDelayUS,
		TxAntennaDelay:      c.Radio.TxAntennaDelay,
		Channels:            c.Radio.Channels,
		Calibration: ranging.Calibration{
			AnchorCalLength: c.Calibration.AnchorCalLength,
			AntennaDelay:    c.Calibration.AntennaDelay,
			SpeedOfLight:    c.Calibration.SpeedOfLight,
		},
	}
}

func (l Log) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: expected debug, info, warn or error", l.Level)
}

// NewLogger builds the configured logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
