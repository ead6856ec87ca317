package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"example.com/sensor-timesync/base/timemath"
	"example.com/sensor-timesync/core/sync/adjustments"
	"example.com/sensor-timesync/core/synctimer"
	"example.com/sensor-timesync/core/tsyncfile"
)

const (
	DefaultTolerance            = 600 * time.Microsecond
	DefaultCheckInterval        = 4 * time.Second
	DefaultCalibrationPoints    = 180
	MinCalibrationPoints        = 3
	MaxCalibrationPoints        = 1500
	freqCounterOffsetNotifyRate = 2 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("synchronizer has already been used and cannot be restarted")
	ErrConfigLocked   = errors.New("synchronizer configuration cannot change after calibration has begun")
)

// FreqCounterSynchronizer aligns a device that reports a running sample
// index at a known nominal frequency to the master clock. The device's sample
// indices are corrected in place by shifting them in small steps whenever the
// predicted and the observed acquisition times drift apart.
//
// A FreqCounterSynchronizer is owned by a single acquisition goroutine and is
// not safe for concurrent use.
type FreqCounterSynchronizer struct {
	log      *slog.Logger
	logCtx   context.Context
	timer    *synctimer.SyncTimer
	notifier Notifier
	mtrcs    *syncMetrics
	modName  string
	id       string
	freq     float64

	strategies        Strategy
	tolerance         time.Duration
	checkInterval     time.Duration
	calibrationPoints int64

	started          bool
	calibrationCount int64
	baseTimeSet      bool
	baseTimeMsec     float64
	indexOffset      int64

	lastUpdateTime            time.Duration
	lastOffsetEmission        time.Duration
	lastOffsetWithinTolerance bool
	lastLoggedTime            int64
	lastLoggedOffset          int64

	tsw *tsyncfile.Writer
}

// NewFreqCounterSynchronizer creates a synchronizer for a counter running at
// frequencyHz. If id is empty, a random one is assigned.
func NewFreqCounterSynchronizer(log *slog.Logger, timer *synctimer.SyncTimer, modName string,
	n Notifier, frequencyHz float64, id string) *FreqCounterSynchronizer {
	if timer == nil {
		panic("invalid argument: timer must not be nil")
	}
	if !(frequencyHz > 0) || math.IsInf(frequencyHz, 0) {
		panic("invalid argument: frequency must be > 0")
	}
	if n == nil {
		n = nopNotifier{}
	}
	if id == "" {
		id = newID()
	}
	s := &FreqCounterSynchronizer{
		log:                log.With(slog.String("module", modName), slog.String("sync", id)),
		logCtx:             context.Background(),
		timer:              timer,
		notifier:           n,
		mtrcs:              newSyncMetrics(modName, id),
		modName:            modName,
		id:                 id,
		freq:               frequencyHz,
		strategies:         DefaultStrategies,
		tolerance:          DefaultTolerance,
		checkInterval:      DefaultCheckInterval,
		calibrationPoints:  DefaultCalibrationPoints,
		lastUpdateTime:     -DefaultCheckInterval,
		lastOffsetEmission: -freqCounterOffsetNotifyRate,
		tsw:                tsyncfile.NewWriter(),
	}
	s.tsw.SetTimeNames("device-time", "master-time")
	s.tsw.SetTimeUnits(tsyncfile.UnitMicroseconds, tsyncfile.UnitMicroseconds)
	s.notifyDetails()
	return s
}

func (s *FreqCounterSynchronizer) notifyDetails() {
	s.notifier.SynchronizerDetailsChanged(s.id, s.strategies, s.tolerance, s.checkInterval)
}

func (s *FreqCounterSynchronizer) locked(what string) bool {
	if s.calibrationCount == 0 {
		return false
	}
	s.log.LogAttrs(s.logCtx, slog.LevelWarn, "rejected change on active synchronizer",
		slog.String("setting", what))
	return true
}

func (s *FreqCounterSynchronizer) SetStrategies(strategies Strategy) error {
	if s.locked("strategies") {
		return ErrConfigLocked
	}
	s.strategies = strategies
	s.notifyDetails()
	return nil
}

func (s *FreqCounterSynchronizer) SetTolerance(tolerance time.Duration) error {
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

func (s *FreqCounterSynchronizer) SetCheckInterval(interval time.Duration) error {
	if s.locked("check interval") {
		return ErrConfigLocked
	}
	if interval <= 0 {
		return fmt.Errorf("invalid check interval: %v", interval)
	}
	s.checkInterval = interval
	s.lastUpdateTime = -interval
	s.notifyDetails()
	return nil
}

// SetMinimumBaseTSCalibrationPoints sets the number of samples used to
// calibrate the time base, clamped to [MinCalibrationPoints,
// MaxCalibrationPoints].
func (s *FreqCounterSynchronizer) SetMinimumBaseTSCalibrationPoints(count int) error {
	if s.locked("calibration points") {
		return ErrConfigLocked
	}
	s.calibrationPoints = int64(min(max(count, MinCalibrationPoints), MaxCalibrationPoints))
	return nil
}

// SetTimeSyncBasename sets the time-sync file to write. A non-empty name
// enables the WriteTSyncFile strategy, an empty one disables it.
func (s *FreqCounterSynchronizer) SetTimeSyncBasename(fname string) error {
	if s.locked("time-sync file") {
		return ErrConfigLocked
	}
	s.tsw.SetFileName(fname)
	s.strategies = s.strategies.With(WriteTSyncFile, fname != "")
	s.notifyDetails()
	return nil
}

func (s *FreqCounterSynchronizer) ID() string                   { return s.id }
func (s *FreqCounterSynchronizer) Strategies() Strategy         { return s.strategies }
func (s *FreqCounterSynchronizer) Tolerance() time.Duration     { return s.tolerance }
func (s *FreqCounterSynchronizer) CheckInterval() time.Duration { return s.checkInterval }
func (s *FreqCounterSynchronizer) Frequency() float64           { return s.freq }
func (s *FreqCounterSynchronizer) IndexOffset() int64           { return s.indexOffset }

// TimeBase returns the estimated master time of sample index 0, rounded to
// milliseconds.
func (s *FreqCounterSynchronizer) TimeBase() time.Duration {
	return timemath.DurationMsec(math.Round(s.baseTimeMsec))
}

func (s *FreqCounterSynchronizer) IsCalibrated() bool {
	return s.calibrationCount >= s.calibrationPoints
}

// Start prepares the synchronizer for a run and opens its time-sync file if
// one is to be written. A synchronizer can only be started once; if Start
// fails, the device must not be started either.
func (s *FreqCounterSynchronizer) Start() error {
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
	s.baseTimeSet = false
	s.baseTimeMsec = 0
	s.calibrationCount = 0
	s.lastOffsetWithinTolerance = false
	s.lastLoggedTime, s.lastLoggedOffset = 0, 0
	return nil
}

// Stop flushes and closes the time-sync file. It is safe to call Stop on a
// synchronizer that was never started.
func (s *FreqCounterSynchronizer) Stop() error {
	err := s.tsw.Close()
	if err != nil {
		s.log.LogAttrs(s.logCtx, slog.LevelError, "failed to close time-sync file",
			slog.String("file", s.tsw.FileName()), slog.Any("error", err))
	}
	return err
}

// ProcessTimestampsMs is ProcessTimestamps with the device latency given in
// fractional milliseconds.
func (s *FreqCounterSynchronizer) ProcessTimestampsMs(recvTime time.Duration, latencyMs float64,
	blockIndex, blockCount int, idx []int64) {
	s.ProcessTimestamps(recvTime, timemath.DurationMsec(latencyMs), blockIndex, blockCount, idx)
}

// ProcessTimestamps corrects the sample indices of one block in place.
// recvTime is the time since timer start at which the delivery containing
// the block was received, latency the known delay between acquisition and
// reception. A delivery may consist of blockCount blocks; blockIndex is the
// position of this block within it, the last block being the one received at
// recvTime.
func (s *FreqCounterSynchronizer) ProcessTimestamps(recvTime, latency time.Duration,
	blockIndex, blockCount int, idx []int64) {
	n := len(idx)
	if n == 0 {
		return
	}
	blockCount = max(blockCount, 1)
	blockIndex = min(max(blockIndex, 0), blockCount-1)

	if s.indexOffset != 0 {
		for i := range idx {
			idx[i] += s.indexOffset
		}
	}

	now := s.timer.TimeSinceStart()
	if s.IsCalibrated() && now-s.lastUpdateTime < s.checkInterval {
		return
	}
	s.lastUpdateTime = now

	// acquisition time of the last sample in this block
	blockDuration := timemath.Duration(float64(n) / s.freq)
	assumedAcqTime := recvTime - latency - time.Duration(blockCount-1-blockIndex)*blockDuration

	if !s.IsCalibrated() {
		s.calibrate(assumedAcqTime, n)
		return
	}

	lastIdx := idx[n-1]
	predicted := timemath.DurationMsec(s.baseTimeMsec + float64(lastIdx)/s.freq*1000)
	offset := (assumedAcqTime - predicted).Round(time.Microsecond)
	s.mtrcs.offset.Set(float64(offset.Microseconds()))

	if offset.Abs() < s.tolerance {
		if !s.lastOffsetWithinTolerance {
			s.notifier.SynchronizerOffsetChanged(s.id, offset)
		}
		s.lastOffsetWithinTolerance = true
		return
	}
	s.lastOffsetWithinTolerance = false
	s.mtrcs.outOfTolerance.Inc()

	if s.strategies.Has(WriteTSyncFile) {
		s.writeBlock(idx, offset)
	}

	if recvTime-s.lastOffsetEmission > freqCounterOffsetNotifyRate {
		s.notifier.SynchronizerOffsetChanged(s.id, offset)
		s.lastOffsetEmission = recvTime
	}

	if offset > 0 && !s.strategies.Has(ShiftTimestampsFwd) ||
		offset < 0 && !s.strategies.Has(ShiftTimestampsBwd) {
		s.log.LogAttrs(s.logCtx, slog.LevelDebug, "offset out of tolerance, shift not permitted",
			slog.Duration("offset", offset))
		return
	}

	change := adjustments.IndexShiftStep(float64(offset.Microseconds()), s.freq)
	if change == 0 {
		return
	}
	adjustments.AddRamp(idx, change)
	s.indexOffset += change
	s.mtrcs.indexOffset.Set(float64(s.indexOffset))
	s.mtrcs.corrections.Inc()

	s.log.LogAttrs(s.logCtx, slog.LevelInfo, "index offset changed",
		slog.Int64("change", change),
		slog.Int64("index_offset", s.indexOffset),
		slog.Duration("offset", offset),
		slog.Duration("assumed_acq_time", assumedAcqTime),
		slog.Duration("predicted_time", predicted),
	)
}

func (s *FreqCounterSynchronizer) calibrate(assumedAcqTime time.Duration, n int) {
	s.calibrationCount += int64(n)
	assumedMsec := timemath.Msec(assumedAcqTime)
	estimate := assumedMsec - float64(s.calibrationCount)/s.freq*1000
	if !s.baseTimeSet {
		s.baseTimeMsec = estimate
		s.baseTimeSet = true
	} else {
		// move towards the new estimate so that the time base has converged
		// once all calibration points are in; a block larger than the
		// calibration point count replaces the estimate but never overshoots it
		divisor := max(float64(s.calibrationPoints)/float64(n), 1)
		s.baseTimeMsec += (estimate - s.baseTimeMsec) / divisor
	}

	s.log.LogAttrs(s.logCtx, slog.LevelDebug, "calibrating time base",
		slog.Float64("assumed_acq_time_ms", assumedMsec),
		slog.Float64("start_time_ms", estimate),
		slog.Int64("points", s.calibrationCount),
		slog.Float64("time_base_ms", s.baseTimeMsec),
	)

	if s.IsCalibrated() {
		s.log.LogAttrs(s.logCtx, slog.LevelInfo, "time base calibrated",
			slog.Float64("time_base_ms", s.baseTimeMsec),
			slog.Int64("points", s.calibrationCount))
		if s.strategies.Has(WriteTSyncFile) {
			s.writeTimes(0, s.baseTimeUsec())
		}
	}
}

func (s *FreqCounterSynchronizer) baseTimeUsec() int64 {
	return int64(math.Round(s.baseTimeMsec * 1000))
}

func (s *FreqCounterSynchronizer) deviceTimeUsec(idx int64) int64 {
	return int64(math.Round(float64(idx) / s.freq * 1e6))
}

// writeBlock records the device time of a block together with the master
// time it was actually acquired at. Blocks of more than four samples also
// get their first sample recorded, with an offset interpolated between the
// previously recorded one and the current one.
func (s *FreqCounterSynchronizer) writeBlock(idx []int64, offset time.Duration) {
	base := s.baseTimeUsec()
	offUsec := offset.Microseconds()
	lastTime := s.deviceTimeUsec(idx[len(idx)-1])
	if len(idx) > 4 {
		firstTime := s.deviceTimeUsec(idx[0])
		firstOff := offUsec
		if lastTime > s.lastLoggedTime {
			frac := float64(firstTime-s.lastLoggedTime) / float64(lastTime-s.lastLoggedTime)
			firstOff = s.lastLoggedOffset + int64(math.Round(frac*float64(offUsec-s.lastLoggedOffset)))
		}
		s.writeTimes(firstTime, base+firstTime+firstOff)
	}
	s.writeTimes(lastTime, base+lastTime+offUsec)
	s.lastLoggedTime, s.lastLoggedOffset = lastTime, offUsec
}

func (s *FreqCounterSynchronizer) writeTimes(deviceTime, masterTime int64) {
	err := s.tsw.WriteTimes(deviceTime, masterTime)
	if err != nil {
		s.log.LogAttrs(s.logCtx, slog.LevelError, "failed to write time-sync record",
			slog.Any("error", err))
		return
	}
	s.mtrcs.recordsWritten.Inc()
}
