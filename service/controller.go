package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/sensor-timesync/base/metrics"
	"example.com/sensor-timesync/base/timebase"
	tsync "example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/core/synctimer"
)

var ErrDuplicateSynchronizer = errors.New("duplicate synchronizer")

// Device is a data source whose timestamps are aligned to the master clock.
// Run acquires data until ctx is done.
type Device interface {
	Name() string
	Run(ctx context.Context) error
}

var (
	devicesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metrics.DevicesRunningN,
		Help: metrics.DevicesRunningH,
	})
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.DeliveriesN,
		Help: metrics.DeliveriesH,
	}, []string{"device"})
)

// Controller owns the master clock, the experiment timer and the
// notification queue shared by all devices of an acquisition run.
type Controller struct {
	log      *slog.Logger
	logCtx   context.Context
	timer    *synctimer.SyncTimer
	queue    *tsync.NotificationQueue
	tsyncDir string

	mu      sync.Mutex
	devices []Device
	syncIDs map[string]bool
	details map[string]tsync.Notification
	offsets map[string]time.Duration
}

func NewController(log *slog.Logger, clk timebase.MasterClock, queueSize int, tsyncDir string) *Controller {
	return &Controller{
		log:      log,
		logCtx:   context.Background(),
		timer:    synctimer.New(log, clk),
		queue:    tsync.NewNotificationQueue(queueSize),
		tsyncDir: tsyncDir,
		syncIDs:  make(map[string]bool),
		details:  make(map[string]tsync.Notification),
		offsets:  make(map[string]time.Duration),
	}
}

func (c *Controller) Timer() *synctimer.SyncTimer {
	return c.timer
}

func (c *Controller) Notifier() tsync.Notifier {
	return c.queue
}

// TSyncBasename returns the time-sync file base name for a synchronizer, or
// "" if no time-sync files are to be written.
func (c *Controller) TSyncBasename(modName, id string) string {
	if c.tsyncDir == "" {
		return ""
	}
	return filepath.Join(c.tsyncDir, fmt.Sprintf("%s_%s", modName, id))
}

// RegisterSynchronizer claims a synchronizer id for a module. Metrics and
// time-sync files are keyed by module and id, so each pair may only be used
// once per controller.
func (c *Controller) RegisterSynchronizer(modName, id string) error {
	key := modName + "/" + id
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncIDs[key] {
		c.log.LogAttrs(c.logCtx, slog.LevelError, "synchronizer id already in use",
			slog.String("module", modName), slog.String("sync", id))
		return fmt.Errorf("%w: %s[%s]", ErrDuplicateSynchronizer, modName, id)
	}
	c.syncIDs[key] = true
	return nil
}

func (c *Controller) Add(d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append(c.devices, d)
}

// LastOffset returns the most recent offset reported by a synchronizer.
func (c *Controller) LastOffset(id string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	off, ok := c.offsets[id]
	return off, ok
}

func (c *Controller) Details(id string) (tsync.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.details[id]
	return n, ok
}

func (c *Controller) handle(n tsync.Notification) {
	c.mu.Lock()
	switch n.Kind {
	case tsync.DetailsChanged:
		c.details[n.ID] = n
	case tsync.OffsetChanged:
		c.offsets[n.ID] = n.Offset
	}
	c.mu.Unlock()

	switch n.Kind {
	case tsync.DetailsChanged:
		c.log.LogAttrs(c.logCtx, slog.LevelInfo, "synchronizer details changed",
			slog.String("sync", n.ID),
			slog.String("strategies", n.Strategies.String()),
			slog.Duration("tolerance", n.Tolerance),
			slog.Duration("check_interval", n.CheckInterval))
	case tsync.OffsetChanged:
		c.log.LogAttrs(c.logCtx, slog.LevelInfo, "synchronizer offset changed",
			slog.String("sync", n.ID),
			slog.Duration("offset", n.Offset))
	}
}

// Run starts the master timer and runs all devices until ctx is done or all
// devices have returned. Notifications are drained into the log while the
// devices run; notifications sent after Run returns are counted as dropped.
func (c *Controller) Run(ctx context.Context) error {
	err := c.timer.Start()
	if err != nil {
		return err
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for n := range c.queue.C() {
			c.handle(n)
		}
	}()

	c.mu.Lock()
	devices := append([]Device(nil), c.devices...)
	c.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(devices))
	)
	for i, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devicesRunning.Inc()
			defer devicesRunning.Dec()
			c.log.LogAttrs(ctx, slog.LevelInfo, "device started", slog.String("device", d.Name()))
			err := d.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.LogAttrs(ctx, slog.LevelError, "device failed",
					slog.String("device", d.Name()), slog.Any("error", err))
				errs[i] = fmt.Errorf("%s: %w", d.Name(), err)
				return
			}
			c.log.LogAttrs(ctx, slog.LevelInfo, "device stopped", slog.String("device", d.Name()))
		}()
	}
	wg.Wait()

	c.queue.Close()
	<-drained
	if dropped := c.queue.Dropped(); dropped != 0 {
		c.log.LogAttrs(c.logCtx, slog.LevelWarn, "synchronizer notifications dropped",
			slog.Uint64("count", dropped))
	}
	return errors.Join(errs...)
}
