package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"example.com/sensor-timesync/base/timemath"
	"example.com/sensor-timesync/core/measurements"
	"example.com/sensor-timesync/core/sync/adjustments"
	"example.com/sensor-timesync/core/synctimer"
	"example.com/sensor-timesync/core/tsyncfile"
)

const (
	defaultOffsetHistorySize = 500
	minOffsetHistorySize     = 30
	maxOffsetHistorySize     = 20000

	secondaryInToleranceNotifyRate = 30 * time.Second
	secondaryOffsetNotifyRate      = 10 * time.Second
)

// SecondaryClockSynchronizer aligns a device that stamps its data with its
// own clock to the master clock. It compares every device timestamp with
// the master time the data was received at and returns a master timestamp
// corrected for jitter and drift. Returned timestamps never decrease.
//
// A SecondaryClockSynchronizer is owned by a single acquisition goroutine and
// is not safe for concurrent use.
type SecondaryClockSynchronizer struct {
	log      *slog.Logger
	logCtx   context.Context
	timer    *synctimer.SyncTimer
	notifier Notifier
	mtrcs    *syncMetrics
	modName  string
	id       string

	strategies    Strategy
	tolerance     time.Duration
	checkInterval time.Duration
	expectedFreq  float64

	started           bool
	history           *measurements.OffsetHistory
	calibrationCount  int
	calibrationTarget int
	expectedOffset    float64
	expectedSD        float64
	correctionOffset  float64
	lastMaster        time.Duration

	lastOffsetWithinTolerance bool
	lastInToleranceEmission   time.Duration
	lastOffsetEmission        time.Duration

	tsw *tsyncfile.Writer
}

// NewSecondaryClockSynchronizer creates a synchronizer for a device with its
// own clock. If id is empty, a random one is assigned.
func NewSecondaryClockSynchronizer(log *slog.Logger, timer *synctimer.SyncTimer, modName string,
	n Notifier, id string) *SecondaryClockSynchronizer {
	if timer == nil {
		panic("invalid argument: timer must not be nil")
	}
	if n == nil {
		n = nopNotifier{}
	}
	if id == "" {
		id = newID()
	}
	s := &SecondaryClockSynchronizer{
		log:           log.With(slog.String("module", modName), slog.String("sync", id)),
		logCtx:        context.Background(),
		timer:         timer,
		notifier:      n,
		mtrcs:         newSyncMetrics(modName, id),
		modName:       modName,
		id:            id,
		strategies:    DefaultStrategies,
		tolerance:     DefaultTolerance,
		checkInterval: DefaultCheckInterval,
		tsw:           tsyncfile.NewWriter(),
	}
	s.tsw.SetTimeNames(modName+"-time", "master-time")
	s.tsw.SetTimeUnits(tsyncfile.UnitMicroseconds, tsyncfile.UnitMicroseconds)
	s.resizeHistory(defaultOffsetHistorySize)
	s.resetState()
	s.notifyDetails()
	return s
}

func (s *SecondaryClockSynchronizer) notifyDetails() {
	s.notifier.SynchronizerDetailsChanged(s.id, s.strategies, s.tolerance, s.checkInterval)
}

func (s *SecondaryClockSynchronizer) resizeHistory(size int) {
	s.history = measurements.NewOffsetHistory(size)
	s.calibrationTarget = int(math.Ceil(float64(size) * 1.5))
}

func (s *SecondaryClockSynchronizer) resetState() {
	s.history.Reset()
	s.calibrationCount = 0
	s.expectedOffset = 0
	s.expectedSD = 0
	s.correctionOffset = 0
	s.lastMaster = math.MinInt64
	s.lastOffsetWithinTolerance = false
	s.lastInToleranceEmission = -secondaryInToleranceNotifyRate
	s.lastOffsetEmission = -secondaryOffsetNotifyRate
}

func (s *SecondaryClockSynchronizer) locked(what string) bool {
	if s.calibrationCount == 0 {
		return false
	}
	s.log.LogAttrs(s.logCtx, slog.LevelWarn, "rejected change on active synchronizer",
		slog.String("setting", what))
	return true
}

func (s *SecondaryClockSynchronizer) SetStrategies(strategies Strategy) error {
	if s.locked("strategies") {
		return ErrConfigLocked
	}
	s.strategies = strategies
	s.notifyDetails()
	return nil
}

func (s *SecondaryClockSynchronizer) SetTolerance(tolerance time.Duration) error {
	if s.locked("tolerance") {
		return ErrConfigLocked
	}
	if tolerance <= 0 {
		return fmt.Errorf("invalid tolerance: %v", tolerance)
	}
	s.tolerance = tolerance
	s.notifyDetails()
	return nil
}

// SetCheckInterval only sets the interval recorded in the time-sync file
// header; timestamps are checked on every call.
func (s *SecondaryClockSynchronizer) SetCheckInterval(interval time.Duration) error {
	if s.locked("check interval") {
		return ErrConfigLocked
	}
	if interval <= 0 {
		return fmt.Errorf("invalid check interval: %v", interval)
	}
	s.checkInterval = interval
	s.notifyDetails()
	return nil
}

// SetExpectedClockFrequencyHz sizes the offset history so that it covers
// about 5 seconds of timestamps, or 10 seconds for devices slower than 20 Hz.
func (s *SecondaryClockSynchronizer) SetExpectedClockFrequencyHz(hz float64) error {
	if s.locked("expected frequency") {
		return ErrConfigLocked
	}
	if !(hz > 0) || math.IsInf(hz, 0) {
		return fmt.Errorf("invalid clock frequency: %v", hz)
	}
	window := 5.0
	if hz < 20 {
		window = 10
	}
	size := int(math.Ceil(hz * window))
	s.expectedFreq = hz
	s.resizeHistory(min(max(size, minOffsetHistorySize), maxOffsetHistorySize))
	return nil
}

// SetTimeSyncBasename sets the time-sync file to write. A non-empty name
// enables the WriteTSyncFile strategy, an empty one disables it.
func (s *SecondaryClockSynchronizer) SetTimeSyncBasename(fname string) error {
	if s.locked("time-sync file") {
		return ErrConfigLocked
	}
	s.tsw.SetFileName(fname)
	s.strategies = s.strategies.With(WriteTSyncFile, fname != "")
	s.notifyDetails()
	return nil
}

func (s *SecondaryClockSynchronizer) ID() string                   { return s.id }
func (s *SecondaryClockSynchronizer) Strategies() Strategy         { return s.strategies }
func (s *SecondaryClockSynchronizer) Tolerance() time.Duration     { return s.tolerance }
func (s *SecondaryClockSynchronizer) CheckInterval() time.Duration { return s.checkInterval }
func (s *SecondaryClockSynchronizer) HistorySize() int             { return s.history.Cap() }

func (s *SecondaryClockSynchronizer) IsCalibrated() bool {
	return s.calibrationCount >= s.calibrationTarget
}

// ExpectedOffset returns the calibrated offset between device and master
// clock, and its standard deviation.
func (s *SecondaryClockSynchronizer) ExpectedOffset() (offset, sd time.Duration) {
	return timemath.DurationUsec(s.expectedOffset), timemath.DurationUsec(s.expectedSD)
}

func (s *SecondaryClockSynchronizer) CorrectionOffset() time.Duration {
	return timemath.DurationUsec(s.correctionOffset)
}

// Start prepares the synchronizer for a run and opens its time-sync file if
// one is to be written. A synchronizer can only be started once.
func (s *SecondaryClockSynchronizer) Start() error {
	if s.started || s.calibrationCount != 0 {
		s.log.LogAttrs(s.logCtx, slog.LevelWarn,
			"restarting a synchronizer that has already been used is not permitted")
		return ErrAlreadyStarted
	}
	if s.strategies.Has(WriteTSyncFile) {
		err := s.tsw.Open(s.checkInterval, s.tolerance, s.modName)
		if err != nil {
			s.log.LogAttrs(s.logCtx, slog.LevelError, "unable to open time-sync file",
				slog.String("file", s.tsw.FileName()), slog.Any("error", err))
			return fmt.Errorf("unable to open time-sync file for %s[%s]: %w", s.modName, s.id, err)
		}
	}
	s.started = true
	s.resetState()
	return nil
}

// Stop flushes and closes the time-sync file. It is safe to call Stop on a
// synchronizer that was never started.
func (s *SecondaryClockSynchronizer) Stop() error {
	err := s.tsw.Close()
	if err != nil {
		s.log.LogAttrs(s.logCtx, slog.LevelError, "failed to close time-sync file",
			slog.String("file", s.tsw.FileName()), slog.Any("error", err))
	}
	return err
}

// AcquireAndProcess calls acquire, which returns a device timestamp, and
// processes that timestamp against the master time at the midpoint of the
// call. It returns the corrected master timestamp.
func (s *SecondaryClockSynchronizer) AcquireAndProcess(
	acquire func() (time.Duration, error)) (time.Duration, error) {
	var (
		secondary time.Duration
		err       error
	)
	master := s.timer.FuncExecTimestamp(func() {
		secondary, err = acquire()
	})
	if err != nil {
		return 0, err
	}
	return s.ProcessTimestamp(master, secondary), nil
}

func (s *SecondaryClockSynchronizer) floor(t time.Duration) time.Duration {
	t = max(t, s.lastMaster)
	s.lastMaster = t
	return t
}

// ProcessTimestamp takes the master time at which a sample was received and
// the device's own timestamp for it, and returns the corrected master time
// of the sample.
func (s *SecondaryClockSynchronizer) ProcessTimestamp(master, secondary time.Duration) time.Duration {
	masterUsec := timemath.Usec(master)
	secondaryUsec := timemath.Usec(secondary)
	offset := secondaryUsec - masterUsec

	mean, sd := s.history.MeanStdDev()
	s.history.Push(offset)

	if !s.IsCalibrated() {
		s.calibrationCount++
		if s.IsCalibrated() {
			s.expectedOffset = s.history.Median()
			_, s.expectedSD = s.history.MeanStdDev()
			s.log.LogAttrs(s.logCtx, slog.LevelInfo, "secondary clock calibrated",
				slog.Float64("expected_offset_us", s.expectedOffset),
				slog.Float64("expected_sd_us", s.expectedSD),
				slog.Float64("expected_hz", s.expectedFreq),
				slog.Int("points", s.calibrationCount))
			if s.strategies.Has(WriteTSyncFile) {
				s.writeTimes(secondary.Microseconds(), master.Microseconds())
			}
		}
		return s.floor(master)
	}

	s.mtrcs.offset.Set(offset - s.expectedOffset)

	// the correction below is driven by the history mean taken before this
	// sample was pushed, so an outlier never feeds into it
	outlier := adjustments.IsOutlier(mean, sd, offset)
	if outlier {
		s.mtrcs.outliers.Inc()
	}

	deviation := mean - s.expectedOffset
	if math.Abs(deviation) < timemath.Usec(s.tolerance) {
		if !s.lastOffsetWithinTolerance || master-s.lastInToleranceEmission > secondaryInToleranceNotifyRate {
			s.notifier.SynchronizerOffsetChanged(s.id, timemath.DurationUsec(deviation))
			s.lastInToleranceEmission = master
		}
		s.lastOffsetWithinTolerance = true
		return s.floor(timemath.DurationUsec(s.estimate(masterUsec, secondaryUsec, mean, outlier)))
	}
	s.lastOffsetWithinTolerance = false
	s.mtrcs.outOfTolerance.Inc()

	if s.strategies.Has(WriteTSyncFile) {
		s.writeTimes(secondary.Microseconds(), master.Microseconds())
	}
	if master-s.lastOffsetEmission > secondaryOffsetNotifyRate {
		s.notifier.SynchronizerOffsetChanged(s.id, timemath.DurationUsec(deviation))
		s.lastOffsetEmission = master
	}

	// a positive deviation means the device clock runs fast
	if deviation > 0 && s.strategies.Has(ShiftTimestampsFwd) ||
		deviation < 0 && s.strategies.Has(ShiftTimestampsBwd) {
		s.correctionOffset = adjustments.Smooth(s.correctionOffset, deviation)
		s.mtrcs.correctionOffset.Set(s.correctionOffset)
		s.mtrcs.corrections.Inc()
		s.log.LogAttrs(s.logCtx, slog.LevelDebug, "secondary clock correction updated",
			slog.Float64("deviation_us", deviation),
			slog.Float64("correction_us", s.correctionOffset),
			slog.Bool("outlier", outlier))
	} else {
		s.log.LogAttrs(s.logCtx, slog.LevelDebug, "offset out of tolerance, shift not permitted",
			slog.Float64("deviation_us", deviation))
	}

	return s.floor(timemath.DurationUsec(s.estimate(masterUsec, secondaryUsec, mean, outlier)))
}

// estimate returns the corrected master time of a sample in µs. Regular
// samples average the device-implied and the measured master time. Outliers
// ignore the measured master time and average the device time corrected by
// the expected offset and by the current history mean.
func (s *SecondaryClockSynchronizer) estimate(masterUsec, secondaryUsec, mean float64, outlier bool) float64 {
	deviceMaster := secondaryUsec - (s.expectedOffset + s.correctionOffset)
	if outlier {
		return (deviceMaster + (secondaryUsec - mean)) / 2
	}
	return (deviceMaster + masterUsec) / 2
}

func (s *SecondaryClockSynchronizer) writeTimes(deviceTime, masterTime int64) {
	err := s.tsw.WriteTimes(deviceTime, masterTime)
	if err != nil {
		s.log.LogAttrs(s.logCtx, slog.LevelError, "failed to write time-sync record",
			slog.Any("error", err))
		return
	}
	s.mtrcs.recordsWritten.Inc()
}
