// Driver for quick experiments

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"example.com/sensor-timesync/base/logbase"
	"example.com/sensor-timesync/driver/clocks"
	"example.com/sensor-timesync/service"
)

func runT() {
	var (
		driftPPM float64
		duration time.Duration
		step     time.Duration
		tsyncDir string
	)

	tFlags := flag.NewFlagSet("t", flag.ExitOnError)
	tFlags.Float64Var(&driftPPM, "drift", 100, "Device clock drift in ppm")
	tFlags.DurationVar(&duration, "duration", 10*time.Minute, "Simulated duration")
	tFlags.DurationVar(&step, "step", 100*time.Millisecond, "Simulation step")
	tFlags.StringVar(&tsyncDir, "tsync", "", "Time-sync file directory")

	err := tFlags.Parse(os.Args[2:])
	if err != nil || tFlags.NArg() != 0 || step <= 0 {
		panic("failed to parse arguments")
	}

	initLogger(logLevelVerbose)
	log := slog.Default()

	clk := clocks.NewManualClock(0)
	ctrl := service.NewController(log, clk, defaultNotificationQueueSize, tsyncDir)

	counter, err := service.NewSimulatedCounterDevice(log, ctrl, service.CounterDeviceConfig{
		Name:              "ephys",
		FrequencyHz:       30000,
		BlockSize:         300,
		BlocksPerDelivery: 1,
		DriftPPM:          driftPPM,
		Latency:           2 * time.Millisecond,
		Jitter:            500 * time.Microsecond,
		Seed:              1,
	})
	if err != nil {
		logbase.Fatal(log, "failed to create counter device", slog.Any("error", err))
	}
	camera, err := service.NewSimulatedClockDevice(log, ctrl, service.ClockDeviceConfig{
		Name:        "camera",
		FrequencyHz: 60,
		DriftPPM:    driftPPM,
		Offset:      time.Hour,
		Jitter:      time.Millisecond,
		Seed:        2,
	})
	if err != nil {
		logbase.Fatal(log, "failed to create clock device", slog.Any("error", err))
	}

	err = ctrl.Timer().Start()
	if err != nil {
		logbase.Fatal(log, "failed to start timer", slog.Any("error", err))
	}
	err = counter.Synchronizer().Start()
	if err == nil {
		err = camera.Synchronizer().Start()
	}
	if err != nil {
		logbase.Fatal(log, "failed to start synchronizer", slog.Any("error", err))
	}

	fmt.Println("time_s;index_offset;correction_us")
	for now := step; now <= duration; now += step {
		clk.Advance(step)
		counter.Step(now)
		camera.Step(now)
		if now%time.Second == 0 {
			fmt.Printf("%.1f;%d;%d\n", now.Seconds(),
				counter.Synchronizer().IndexOffset(),
				camera.Synchronizer().CorrectionOffset().Microseconds())
		}
	}

	_ = counter.Synchronizer().Stop()
	_ = camera.Synchronizer().Stop()
}
