package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/sensor-timesync/base/timemath"
	tsync "example.com/sensor-timesync/core/sync"
)

// CounterDeviceConfig describes a simulated device that emits blocks of
// sample indices at a nominal frequency, such as an electrophysiology
// amplifier.
type CounterDeviceConfig struct {
	Name              string
	FrequencyHz       float64
	BlockSize         int
	BlocksPerDelivery int
	// DriftPPM is how much faster than nominal the device clock runs.
	DriftPPM float64
	// Latency is the known delay between acquisition and delivery, Jitter
	// the maximum additional random delay.
	Latency           time.Duration
	Jitter            time.Duration
	Tolerance         time.Duration
	CheckInterval     time.Duration
	CalibrationPoints int
	Strategies        tsync.Strategy
	Seed              uint64
	// SyncID is the synchronizer id; a random one is generated if empty.
	SyncID string
}

type SimulatedCounterDevice struct {
	log        *slog.Logger
	ctrl       *Controller
	cfg        CounterDeviceConfig
	sync       *tsync.FreqCounterSynchronizer
	rand       *rand.Rand
	deliveries prometheus.Counter
	next       int64
	buf        []int64
}

var _ Device = (*SimulatedCounterDevice)(nil)

func NewSimulatedCounterDevice(log *slog.Logger, ctrl *Controller, cfg CounterDeviceConfig) (
	*SimulatedCounterDevice, error) {
	if cfg.FrequencyHz <= 0 {
		return nil, errors.New("frequency must be > 0")
	}
	cfg.BlockSize = max(cfg.BlockSize, 1)
	cfg.BlocksPerDelivery = max(cfg.BlocksPerDelivery, 1)

	s := tsync.NewFreqCounterSynchronizer(log, ctrl.Timer(), cfg.Name, ctrl.Notifier(), cfg.FrequencyHz, cfg.SyncID)
	err := ctrl.RegisterSynchronizer(cfg.Name, s.ID())
	if err == nil {
		err = configureSync(s, cfg.Strategies, cfg.Tolerance, cfg.CheckInterval)
	}
	if err == nil && cfg.CalibrationPoints != 0 {
		err = s.SetMinimumBaseTSCalibrationPoints(cfg.CalibrationPoints)
	}
	if err == nil {
		err = s.SetTimeSyncBasename(ctrl.TSyncBasename(cfg.Name, s.ID()))
	}
	if err != nil {
		return nil, err
	}
	return &SimulatedCounterDevice{
		log:        log,
		ctrl:       ctrl,
		cfg:        cfg,
		sync:       s,
		rand:       rand.New(rand.NewPCG(cfg.Seed, 1)),
		deliveries: deliveries.WithLabelValues(cfg.Name),
		buf:        make([]int64, cfg.BlockSize),
	}, nil
}

type syncConfigurer interface {
	SetStrategies(tsync.Strategy) error
	SetTolerance(time.Duration) error
	SetCheckInterval(time.Duration) error
}

func configureSync(s syncConfigurer, strategies tsync.Strategy, tolerance, checkInterval time.Duration) error {
	if strategies != 0 {
		err := s.SetStrategies(strategies)
		if err != nil {
			return err
		}
	}
	if tolerance != 0 {
		err := s.SetTolerance(tolerance)
		if err != nil {
			return err
		}
	}
	if checkInterval != 0 {
		err := s.SetCheckInterval(checkInterval)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *SimulatedCounterDevice) Name() string { return d.cfg.Name }

func (d *SimulatedCounterDevice) Synchronizer() *tsync.FreqCounterSynchronizer { return d.sync }

func (d *SimulatedCounterDevice) deviceFreq() float64 {
	return d.cfg.FrequencyHz * (1 + d.cfg.DriftPPM/1e6)
}

func (d *SimulatedCounterDevice) jitter() time.Duration {
	if d.cfg.Jitter <= 0 {
		return 0
	}
	return time.Duration(d.rand.Int64N(int64(d.cfg.Jitter)))
}

// Step delivers all blocks the device has acquired by now, the time since
// timer start, and returns the number of deliveries made. Every block's
// sample indices are passed through the synchronizer.
func (d *SimulatedCounterDevice) Step(now time.Duration) int {
	deliverySize := int64(d.cfg.BlockSize * d.cfg.BlocksPerDelivery)
	acquired := int64(now.Seconds() * d.deviceFreq())
	n := 0
	for acquired-d.next >= deliverySize {
		end := d.next + deliverySize
		acqTime := timemath.Duration(float64(end) / d.deviceFreq())
		recv := acqTime + d.cfg.Latency + d.jitter()
		for b := range d.cfg.BlocksPerDelivery {
			for i := range d.buf {
				d.buf[i] = d.next + int64(i)
			}
			d.next += int64(d.cfg.BlockSize)
			d.sync.ProcessTimestamps(recv, d.cfg.Latency, b, d.cfg.BlocksPerDelivery, d.buf)
		}
		d.deliveries.Inc()
		n++
	}
	return n
}

func (d *SimulatedCounterDevice) Run(ctx context.Context) error {
	err := d.sync.Start()
	if err != nil {
		return err
	}
	defer d.sync.Stop()

	period := timemath.Duration(float64(d.cfg.BlockSize*d.cfg.BlocksPerDelivery) / d.cfg.FrequencyHz)
	ticker := time.NewTicker(max(period, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Step(d.ctrl.Timer().TimeSinceStart())
		}
	}
}

// ClockDeviceConfig describes a simulated device that stamps each sample
// with its own clock, such as a camera.
type ClockDeviceConfig struct {
	Name        string
	FrequencyHz float64
	// DriftPPM is how much faster than the master clock the device clock
	// runs, Offset the device clock reading at timer start.
	DriftPPM   float64
	Offset     time.Duration
	Jitter     time.Duration
	Tolerance  time.Duration
	Strategies tsync.Strategy
	Seed       uint64
	SyncID     string
}

type SimulatedClockDevice struct {
	log        *slog.Logger
	ctrl       *Controller
	cfg        ClockDeviceConfig
	sync       *tsync.SecondaryClockSynchronizer
	rand       *rand.Rand
	deliveries prometheus.Counter
	frame      int64
	last       time.Duration
}

var _ Device = (*SimulatedClockDevice)(nil)

func NewSimulatedClockDevice(log *slog.Logger, ctrl *Controller, cfg ClockDeviceConfig) (
	*SimulatedClockDevice, error) {
	if cfg.FrequencyHz <= 0 {
		return nil, errors.New("frequency must be > 0")
	}
	s := tsync.NewSecondaryClockSynchronizer(log, ctrl.Timer(), cfg.Name, ctrl.Notifier(), cfg.SyncID)
	err := ctrl.RegisterSynchronizer(cfg.Name, s.ID())
	if err == nil {
		err = configureSync(s, cfg.Strategies, cfg.Tolerance, 0)
	}
	if err == nil {
		err = s.SetExpectedClockFrequencyHz(cfg.FrequencyHz)
	}
	if err == nil {
		err = s.SetTimeSyncBasename(ctrl.TSyncBasename(cfg.Name, s.ID()))
	}
	if err != nil {
		return nil, err
	}
	return &SimulatedClockDevice{
		log:        log,
		ctrl:       ctrl,
		cfg:        cfg,
		sync:       s,
		rand:       rand.New(rand.NewPCG(cfg.Seed, 2)),
		deliveries: deliveries.WithLabelValues(cfg.Name),
	}, nil
}

func (d *SimulatedClockDevice) Name() string { return d.cfg.Name }

func (d *SimulatedClockDevice) Synchronizer() *tsync.SecondaryClockSynchronizer { return d.sync }

// Step delivers all frames the device has captured by now, the time since
// timer start, and returns the corrected master timestamp of the last one.
func (d *SimulatedClockDevice) Step(now time.Duration) (time.Duration, int) {
	n := 0
	for {
		capture := timemath.Duration(float64(d.frame+1) / d.cfg.FrequencyHz)
		if capture > now {
			return d.last, n
		}
		d.frame++
		device := d.cfg.Offset + capture + timemath.Duration(capture.Seconds()*d.cfg.DriftPPM/1e6)
		recv := capture
		if d.cfg.Jitter > 0 {
			recv += time.Duration(d.rand.Int64N(int64(d.cfg.Jitter)))
		}
		d.last = d.sync.ProcessTimestamp(recv, device)
		d.deliveries.Inc()
		n++
	}
}

func (d *SimulatedClockDevice) Run(ctx context.Context) error {
	err := d.sync.Start()
	if err != nil {
		return err
	}
	defer d.sync.Stop()

	ticker := time.NewTicker(max(timemath.Duration(1/d.cfg.FrequencyHz), time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Step(d.ctrl.Timer().TimeSinceStart())
		}
	}
}
