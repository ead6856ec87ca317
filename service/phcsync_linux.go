//go:build linux

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	tsync "example.com/sensor-timesync/core/sync"
)

const defaultPHCPollHz = 10.0

// PHCDevice treats a PTP hardware clock as a secondary clock: it reads the
// PHC at a fixed rate and aligns the readings to the master clock.
type PHCDevice struct {
	log     *slog.Logger
	ctrl    *Controller
	dev     string
	fd      int
	clockID int32
	hz      float64
	sync    *tsync.SecondaryClockSynchronizer
}

var _ Device = (*PHCDevice)(nil)

func parsePHCConfig(config string) (dev string, hz float64, err error) {
	t := strings.Split(config, ",")
	if len(t) != 1 && len(t) != 2 {
		return "", 0, fmt.Errorf("unexpected PHC config format: %q", config)
	}
	dev, hz = t[0], defaultPHCPollHz
	if len(t) == 2 {
		hz, err = strconv.ParseFloat(t[1], 64)
		if err != nil {
			return "", 0, fmt.Errorf("unexpected PHC poll rate: %w", err)
		}
		if !(hz > 0) {
			return "", 0, errors.New("PHC poll rate must be > 0")
		}
	}
	return dev, hz, nil
}

// NewPHCDevice opens the PHC named by config, "/dev/ptpN" optionally
// followed by ",<poll rate in Hz>".
func NewPHCDevice(log *slog.Logger, ctrl *Controller, config string) (*PHCDevice, error) {
	dev, hz, err := parsePHCConfig(config)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(dev, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PHC device %s: %w", dev, err)
	}
	d := &PHCDevice{
		log:     log,
		ctrl:    ctrl,
		dev:     dev,
		fd:      fd,
		clockID: (^int32(fd) << 3) | 3,
		hz:      hz,
	}
	d.sync = tsync.NewSecondaryClockSynchronizer(log, ctrl.Timer(), d.Name(), ctrl.Notifier(), "")
	err = ctrl.RegisterSynchronizer(d.Name(), d.sync.ID())
	if err == nil {
		err = d.sync.SetExpectedClockFrequencyHz(hz)
	}
	if err == nil {
		err = d.sync.SetTimeSyncBasename(ctrl.TSyncBasename(d.Name(), d.sync.ID()))
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *PHCDevice) Name() string {
	return "phc-" + strings.TrimPrefix(d.dev, "/dev/")
}

func (d *PHCDevice) Synchronizer() *tsync.SecondaryClockSynchronizer { return d.sync }

func (d *PHCDevice) read() (time.Duration, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(d.clockID, &ts)
	if err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}

func (d *PHCDevice) Run(ctx context.Context) error {
	defer unix.Close(d.fd)
	err := d.sync.Start()
	if err != nil {
		return err
	}
	defer d.sync.Stop()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / d.hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := d.sync.AcquireAndProcess(d.read)
			if err != nil {
				d.log.LogAttrs(ctx, slog.LevelError, "PHC read failed",
					slog.String("dev", d.dev), slog.Any("error", err))
				continue
			}
			deliveries.WithLabelValues(d.Name()).Inc()
		}
	}
}
