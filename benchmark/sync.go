package benchmark

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"example.com/sensor-timesync/base/logbase"
	tsync "example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/core/synctimer"
	"example.com/sensor-timesync/driver/clocks"
)

const (
	counterFreq      = 30000.0
	counterBlockSize = 30
	clockPeriod      = 10 * time.Millisecond
)

// Result summarizes the per-call processing latency in nanoseconds.
type Result struct {
	Histogram *hdrhistogram.Histogram
	Elapsed   time.Duration
}

func newSynchronizers(log *slog.Logger, seed uint64) (
	*tsync.FreqCounterSynchronizer, *tsync.SecondaryClockSynchronizer, *rand.Rand) {
	tmr := synctimer.New(log, clocks.NewManualClock(0))
	if err := tmr.Start(); err != nil {
		logbase.Fatal(log, "failed to start timer", slog.Any("error", err))
	}
	fc := tsync.NewFreqCounterSynchronizer(log, tmr, "bench-counter", nil, counterFreq, "")
	sc := tsync.NewSecondaryClockSynchronizer(log, tmr, "bench-clock", nil, "")
	if err := sc.SetExpectedClockFrequencyHz(float64(time.Second / clockPeriod)); err != nil {
		logbase.Fatal(log, "failed to configure secondary clock", slog.Any("error", err))
	}
	if err := fc.Start(); err != nil {
		logbase.Fatal(log, "failed to start synchronizer", slog.Any("error", err))
	}
	if err := sc.Start(); err != nil {
		logbase.Fatal(log, "failed to start synchronizer", slog.Any("error", err))
	}
	return fc, sc, rand.New(rand.NewPCG(seed, 3))
}

// RunSyncBenchmark feeds synthetic timestamps through freshly created
// synchronizers on numWorkers goroutines and records how long every
// processing call takes.
func RunSyncBenchmark(log *slog.Logger, numWorkers, numCallsPerWorker int) Result {
	ctx := context.Background()
	dlog := slog.New(slog.DiscardHandler)

	total := hdrhistogram.New(1, int64(time.Second), 3)
	var mu sync.Mutex
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := range numWorkers {
		go func() {
			defer wg.Done()
			hg := hdrhistogram.New(1, int64(time.Second), 3)
			fc, sc, r := newSynchronizers(dlog, uint64(w))
			idx := make([]int64, counterBlockSize)
			<-sg
			for i := range numCallsPerWorker {
				jitter := time.Duration(r.Int64N(int64(time.Millisecond)))
				var t0 time.Time
				if i%2 == 0 {
					for j := range idx {
						idx[j] = int64(i/2*counterBlockSize + j)
					}
					recv := time.Duration(i/2+1)*time.Millisecond + jitter
					t0 = time.Now()
					fc.ProcessTimestamps(recv, 0, 0, 1, idx)
				} else {
					master := time.Duration(i/2+1) * clockPeriod
					t0 = time.Now()
					sc.ProcessTimestamp(master+jitter, master+time.Hour)
				}
				err := hg.RecordValue(int64(time.Since(t0)))
				if err != nil {
					dlog.LogAttrs(ctx, slog.LevelDebug, "latency out of range", slog.Any("error", err))
				}
			}
			_ = fc.Stop()
			_ = sc.Stop()
			mu.Lock()
			defer mu.Unlock()
			total.Merge(hg)
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	elapsed := time.Since(t0)

	log.LogAttrs(ctx, slog.LevelInfo, "time elapsed",
		slog.Duration("duration", elapsed),
		slog.Int64("calls", total.TotalCount()),
		slog.Duration("p50", time.Duration(total.ValueAtQuantile(50))),
		slog.Duration("p99", time.Duration(total.ValueAtQuantile(99))),
		slog.Duration("max", time.Duration(total.Max())))
	return Result{Histogram: total, Elapsed: elapsed}
}

// Print writes the latency distribution in microseconds.
func (r Result) Print(w io.Writer) error {
	_, err := r.Histogram.PercentilesPrint(w, 1, float64(time.Microsecond))
	return err
}
