package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	tsync "example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/core/tsyncfile"
	"example.com/sensor-timesync/driver/clocks"
)

type funcDevice struct {
	name string
	run  func(ctx context.Context) error
}

func (d *funcDevice) Name() string                  { return d.name }
func (d *funcDevice) Run(ctx context.Context) error { return d.run(ctx) }

func newTestController(t *testing.T, tsyncDir string) (*Controller, *clocks.ManualClock) {
	clk := clocks.NewManualClock(0)
	return NewController(slog.New(slog.DiscardHandler), clk, 16, tsyncDir), clk
}

func TestControllerRun(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	errDevice := errors.New("device unplugged")
	ctrl.Add(&funcDevice{name: "ok", run: func(ctx context.Context) error {
		n := ctrl.Notifier()
		n.SynchronizerDetailsChanged("s1", tsync.DefaultStrategies, time.Millisecond, time.Second)
		n.SynchronizerOffsetChanged("s1", 5*time.Millisecond)
		return nil
	}})
	ctrl.Add(&funcDevice{name: "broken", run: func(ctx context.Context) error {
		return errDevice
	}})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, errDevice) {
		t.Errorf("Run() error = %v, want %v", err, errDevice)
	}
	if !ctrl.Timer().Started() {
		t.Error("timer not started")
	}
	if off, ok := ctrl.LastOffset("s1"); !ok || off != 5*time.Millisecond {
		t.Errorf("LastOffset() = %v, %v", off, ok)
	}
	if d, ok := ctrl.Details("s1"); !ok || d.Tolerance != time.Millisecond {
		t.Errorf("Details() = %+v, %v", d, ok)
	}
}

func TestControllerRunCanceled(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	ctrl.Add(&funcDevice{name: "wait", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestTSyncBasename(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	if got := ctrl.TSyncBasename("cam0", "ab12"); got != "" {
		t.Errorf("TSyncBasename() = %q, want empty", got)
	}
	ctrl, _ = newTestController(t, "/data")
	if got := ctrl.TSyncBasename("cam0", "ab12"); got != filepath.Join("/data", "cam0_ab12") {
		t.Errorf("TSyncBasename() = %q", got)
	}
}

func TestSimulatedCounterDevice(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	d, err := NewSimulatedCounterDevice(slog.New(slog.DiscardHandler), ctrl, CounterDeviceConfig{
		Name:              "ephys",
		FrequencyHz:       30000,
		BlockSize:         30,
		BlocksPerDelivery: 2,
		Latency:           2 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Timer().Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Synchronizer().Start(); err != nil {
		t.Fatal(err)
	}
	total := 0
	for now := time.Duration(0); now <= time.Second; now += 10 * time.Millisecond {
		total += d.Step(now)
	}
	if total != 500 {
		t.Errorf("%d deliveries, want 500", total)
	}
	s := d.Synchronizer()
	if !s.IsCalibrated() {
		t.Fatal("synchronizer not calibrated")
	}
	if tb := s.TimeBase(); tb.Abs() > time.Millisecond {
		t.Errorf("TimeBase() = %v, want about 0", tb)
	}
	if s.IndexOffset() != 0 {
		t.Errorf("IndexOffset() = %d, want 0", s.IndexOffset())
	}
}

func TestSimulatedCounterDeviceInvalid(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	_, err := NewSimulatedCounterDevice(slog.New(slog.DiscardHandler), ctrl, CounterDeviceConfig{Name: "x"})
	if err == nil {
		t.Error("device without frequency was created")
	}
}

func TestSimulatedClockDevice(t *testing.T) {
	dir := t.TempDir()
	ctrl, _ := newTestController(t, dir)
	d, err := NewSimulatedClockDevice(slog.New(slog.DiscardHandler), ctrl, ClockDeviceConfig{
		Name:        "cam0",
		FrequencyHz: 10,
		Offset:      5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := d.Synchronizer()
	if !s.Strategies().Has(tsync.WriteTSyncFile) {
		t.Error("time-sync file not enabled")
	}
	if err := ctrl.Timer().Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	last, n := d.Step(20 * time.Second)
	if n != 200 {
		t.Errorf("Step() delivered %d frames, want 200", n)
	}
	if diff := last - 20*time.Second; diff.Abs() > time.Millisecond {
		t.Errorf("last frame at %v, want 20s", last)
	}
	if off, _ := s.ExpectedOffset(); (off - 5*time.Second).Abs() > time.Microsecond {
		t.Errorf("ExpectedOffset() = %v, want 5s", off)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	fname := ctrl.TSyncBasename("cam0", s.ID()) + tsyncfile.FileExt
	f, err := tsyncfile.ReadFile(slog.New(slog.DiscardHandler), fname)
	if err != nil {
		t.Fatal(err)
	}
	if f.ModuleName != "cam0" {
		t.Errorf("ModuleName = %q", f.ModuleName)
	}
}

func TestControllerRejectsDuplicateSynchronizer(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	log := slog.New(slog.DiscardHandler)
	_, err := NewSimulatedClockDevice(log, ctrl, ClockDeviceConfig{
		Name: "cam0", FrequencyHz: 10, SyncID: "c0"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewSimulatedCounterDevice(log, ctrl, CounterDeviceConfig{
		Name: "cam0", FrequencyHz: 1000, SyncID: "c0"})
	if !errors.Is(err, ErrDuplicateSynchronizer) {
		t.Errorf("NewSimulatedCounterDevice() error = %v, want ErrDuplicateSynchronizer", err)
	}
	_, err = NewSimulatedCounterDevice(log, ctrl, CounterDeviceConfig{
		Name: "ephys", FrequencyHz: 1000, SyncID: "c0"})
	if err != nil {
		t.Errorf("same id on another module rejected: %v", err)
	}
}

func TestControllerNotifyAfterRun(t *testing.T) {
	ctrl, _ := newTestController(t, "")
	d, err := NewSimulatedCounterDevice(slog.New(slog.DiscardHandler), ctrl, CounterDeviceConfig{
		Name: "ephys", FrequencyHz: 1000})
	if err != nil {
		t.Fatal(err)
	}
	ctrl.Add(d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Synchronizer().SetTolerance(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if n := ctrl.queue.Dropped(); n != 1 {
		t.Errorf("Dropped() = %d, want 1", n)
	}
}
