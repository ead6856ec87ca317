package main

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	tsync "example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/service"
)

const defaultNotificationQueueSize = 256

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	err := value.Decode(&s)
	if err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

type counterDeviceConfig struct {
	Name              string   `toml:"name" yaml:"name"`
	FrequencyHz       float64  `toml:"frequency_hz" yaml:"frequency_hz"`
	BlockSize         int      `toml:"block_size,omitempty" yaml:"block_size,omitempty"`
	BlocksPerDelivery int      `toml:"blocks_per_delivery,omitempty" yaml:"blocks_per_delivery,omitempty"`
	DriftPPM          float64  `toml:"drift_ppm,omitempty" yaml:"drift_ppm,omitempty"`
	Latency           duration `toml:"latency,omitempty" yaml:"latency,omitempty"`
	Jitter            duration `toml:"jitter,omitempty" yaml:"jitter,omitempty"`
	Tolerance         duration `toml:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	CheckInterval     duration `toml:"check_interval,omitempty" yaml:"check_interval,omitempty"`
	CalibrationPoints int      `toml:"calibration_points,omitempty" yaml:"calibration_points,omitempty"`
	Strategies        []string `toml:"strategies,omitempty" yaml:"strategies,omitempty"`
}

type clockDeviceConfig struct {
	Name        string   `toml:"name" yaml:"name"`
	FrequencyHz float64  `toml:"frequency_hz" yaml:"frequency_hz"`
	DriftPPM    float64  `toml:"drift_ppm,omitempty" yaml:"drift_ppm,omitempty"`
	Offset      duration `toml:"offset,omitempty" yaml:"offset,omitempty"`
	Jitter      duration `toml:"jitter,omitempty" yaml:"jitter,omitempty"`
	Tolerance   duration `toml:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Strategies  []string `toml:"strategies,omitempty" yaml:"strategies,omitempty"`
}

type svcConfig struct {
	LocalMetricsAddr      string                `toml:"local_metrics_address,omitempty" yaml:"local_metrics_address,omitempty"`
	TSyncDir              string                `toml:"tsync_dir,omitempty" yaml:"tsync_dir,omitempty"`
	RawMonotonicClock     bool                  `toml:"raw_monotonic_clock,omitempty" yaml:"raw_monotonic_clock,omitempty"`
	Duration              duration              `toml:"duration,omitempty" yaml:"duration,omitempty"`
	NotificationQueueSize int                   `toml:"notification_queue_size,omitempty" yaml:"notification_queue_size,omitempty"`
	FreqCounterDevices    []counterDeviceConfig `toml:"freq_counter_devices,omitempty" yaml:"freq_counter_devices,omitempty"`
	SecondaryClockDevices []clockDeviceConfig   `toml:"secondary_clock_devices,omitempty" yaml:"secondary_clock_devices,omitempty"`
	PHCDevices            []string              `toml:"phc_devices,omitempty" yaml:"phc_devices,omitempty"`
}

func decodeConfig(name string, raw []byte) (svcConfig, error) {
	var cfg svcConfig
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	default:
		err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	}
	if err != nil {
		return svcConfig{}, err
	}
	if cfg.NotificationQueueSize == 0 {
		cfg.NotificationQueueSize = defaultNotificationQueueSize
	}
	return cfg, cfg.validate()
}

func (cfg svcConfig) validate() error {
	if cfg.NotificationQueueSize < 0 {
		return errors.New("invalid notification queue size")
	}
	if cfg.Duration.Duration < 0 {
		return errors.New("invalid duration")
	}
	names := make(map[string]bool)
	unique := func(name string) error {
		if name == "" {
			return errors.New("device name not specified")
		}
		if names[name] {
			return fmt.Errorf("duplicate device name: %s", name)
		}
		names[name] = true
		return nil
	}
	for _, c := range cfg.FreqCounterDevices {
		if err := unique(c.Name); err != nil {
			return err
		}
		if !(c.FrequencyHz > 0) {
			return fmt.Errorf("%s: invalid frequency", c.Name)
		}
		if c.BlockSize < 0 || c.BlocksPerDelivery < 0 || c.CalibrationPoints < 0 {
			return fmt.Errorf("%s: invalid block configuration", c.Name)
		}
		if c.Latency.Duration < 0 || c.Jitter.Duration < 0 ||
			c.Tolerance.Duration < 0 || c.CheckInterval.Duration < 0 {
			return fmt.Errorf("%s: invalid timing configuration", c.Name)
		}
		if _, err := tsync.ParseStrategies(c.Strategies); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	for _, c := range cfg.SecondaryClockDevices {
		if err := unique(c.Name); err != nil {
			return err
		}
		if !(c.FrequencyHz > 0) {
			return fmt.Errorf("%s: invalid frequency", c.Name)
		}
		if c.Jitter.Duration < 0 || c.Tolerance.Duration < 0 {
			return fmt.Errorf("%s: invalid timing configuration", c.Name)
		}
		if _, err := tsync.ParseStrategies(c.Strategies); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

func (c counterDeviceConfig) deviceConfig(seed uint64) service.CounterDeviceConfig {
	strategies, _ := tsync.ParseStrategies(c.Strategies)
	return service.CounterDeviceConfig{
		Name:              c.Name,
		FrequencyHz:       c.FrequencyHz,
		BlockSize:         c.BlockSize,
		BlocksPerDelivery: c.BlocksPerDelivery,
		DriftPPM:          c.DriftPPM,
		Latency:           c.Latency.Duration,
		Jitter:            c.Jitter.Duration,
		Tolerance:         c.Tolerance.Duration,
		CheckInterval:     c.CheckInterval.Duration,
		CalibrationPoints: c.CalibrationPoints,
		Strategies:        strategies,
		Seed:              seed,
	}
}

func (c clockDeviceConfig) deviceConfig(seed uint64) service.ClockDeviceConfig {
	strategies, _ := tsync.ParseStrategies(c.Strategies)
	return service.ClockDeviceConfig{
		Name:        c.Name,
		FrequencyHz: c.FrequencyHz,
		DriftPPM:    c.DriftPPM,
		Offset:      c.Offset.Duration,
		Jitter:      c.Jitter.Duration,
		Tolerance:   c.Tolerance.Duration,
		Strategies:  strategies,
		Seed:        seed,
	}
}
