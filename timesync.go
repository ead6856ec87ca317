// Sensor time synchronization service

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/mmcloughlin/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/plot/vg"

	"example.com/sensor-timesync/base/logbase"

	"example.com/sensor-timesync/benchmark"

	tsync "example.com/sensor-timesync/core/sync"
	"example.com/sensor-timesync/core/tsyncfile"

	"example.com/sensor-timesync/dbexport"

	"example.com/sensor-timesync/driver/clocks"

	"example.com/sensor-timesync/service"

	"example.com/sensor-timesync/tools/offplot"
)

const (
	logLevelQuiet = iota
	logLevelDefault
	logLevelVerbose
)

func initLogger(logLevel int) {
	var h slog.Handler
	if logLevel == logLevelQuiet {
		h = slog.DiscardHandler
	} else {
		var (
			addSource   bool
			level       slog.Leveler
			replaceAttr func(groups []string, a slog.Attr) slog.Attr
		)
		if logLevel == logLevelVerbose {
			_, f, _, ok := runtime.Caller(0)
			var basepath string
			if ok {
				basepath = filepath.Dir(f)
			}
			addSource = true
			level = slog.LevelDebug
			replaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.SourceKey {
					source := a.Value.Any().(*slog.Source)
					if basepath == "" {
						source.File = filepath.Base(source.File)
					} else {
						relpath, err := filepath.Rel(basepath, source.File)
						if err != nil {
							source.File = filepath.Base(source.File)
						} else {
							source.File = relpath
						}
					}
				}
				return a
			}
		}
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			AddSource:   addSource,
			Level:       level,
			ReplaceAttr: replaceAttr,
		})
	}
	slog.SetDefault(slog.New(h))
}

func showInfo() {
	bi, ok := debug.ReadBuildInfo()
	if ok {
		fmt.Print(bi.String())
	}
}

func runMonitor(cfg svcConfig) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(cfg.LocalMetricsAddr, nil)
	logbase.Fatal(slog.Default(), "failed to serve metrics", slog.Any("error", err))
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to load configuration", slog.Any("error", err))
	}
	cfg, err := decodeConfig(configFile, raw)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to decode configuration", slog.Any("error", err))
	}
	return cfg
}

func newController(log *slog.Logger, cfg svcConfig) *service.Controller {
	if cfg.TSyncDir != "" {
		err := os.MkdirAll(cfg.TSyncDir, 0o755)
		if err != nil {
			logbase.Fatal(log, "failed to create time-sync directory",
				slog.String("dir", cfg.TSyncDir), slog.Any("error", err))
		}
	}
	clk := clocks.NewMonotonicClock(log, cfg.RawMonotonicClock)
	ctrl := service.NewController(log, clk, cfg.NotificationQueueSize, cfg.TSyncDir)

	var seed uint64
	for _, c := range cfg.FreqCounterDevices {
		seed++
		d, err := service.NewSimulatedCounterDevice(log, ctrl, c.deviceConfig(seed))
		if err != nil {
			logbase.Fatal(log, "failed to create device",
				slog.String("device", c.Name), slog.Any("error", err))
		}
		ctrl.Add(d)
	}
	for _, c := range cfg.SecondaryClockDevices {
		seed++
		d, err := service.NewSimulatedClockDevice(log, ctrl, c.deviceConfig(seed))
		if err != nil {
			logbase.Fatal(log, "failed to create device",
				slog.String("device", c.Name), slog.Any("error", err))
		}
		ctrl.Add(d)
	}
	for _, c := range cfg.PHCDevices {
		d, err := service.NewPHCDevice(log, ctrl, c)
		if err != nil {
			logbase.Fatal(log, "failed to create PHC device",
				slog.String("config", c), slog.Any("error", err))
		}
		ctrl.Add(d)
	}
	return ctrl
}

func runService(configFile string) {
	cfg := loadConfig(configFile)
	log := slog.Default()

	ctrl := newController(log, cfg)
	if cfg.LocalMetricsAddr != "" {
		go runMonitor(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration.Duration != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration.Duration)
		defer cancel()
	}

	err := ctrl.Run(ctx)
	if err != nil {
		logbase.Fatal(log, "acquisition failed", slog.Any("error", err))
	}
}

func readFile(fname string) *tsyncfile.File {
	f, err := tsyncfile.ReadFile(slog.Default(), fname)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to read time-sync file", slog.Any("error", err))
	}
	return f
}

func printFile(w io.Writer, f *tsyncfile.File) {
	fmt.Fprintf(w, "Module: %s\n", f.ModuleName)
	fmt.Fprintf(w, "Creation Date: %s\n", f.CreationTime.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Check interval: %v\n", f.CheckInterval)
	fmt.Fprintf(w, "Tolerance: %v\n", f.Tolerance)
	fmt.Fprintf(w, "Time names: %s, %s\n", f.TimeNames[0], f.TimeNames[1])
	fmt.Fprintf(w, "Time units: %s, %s\n", f.TimeUnits[0], f.TimeUnits[1])
	fmt.Fprintf(w, "\nDeviceTime;Offset\n")
	for _, p := range f.Offsets() {
		fmt.Fprintf(w, "%d;%d\n", p.A, p.B)
	}
}

func runRead(fname string) {
	printFile(os.Stdout, readFile(fname))
}

func runAnalyze(fname string) {
	f := readFile(fname)
	est, err := tsync.EstimateDrift(f.Times())
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to estimate drift", slog.Any("error", err))
	}
	fmt.Printf("%s: drift %.3f ppm, offset %.1f µs (%d points)\n",
		fname, est.DriftPPM, est.OffsetUsec, est.Points)
}

func runExport(target string, overwrite bool, fnames []string) {
	log := slog.Default()
	dbs, err := dbexport.NewDbSession(log, target, overwrite)
	if err != nil {
		logbase.Fatal(log, "failed to open database", slog.Any("error", err))
	}
	defer dbs.Close()
	ctx := context.Background()
	for _, fname := range fnames {
		id, err := dbs.ExportFile(ctx, fname, readFile(fname))
		if err != nil {
			logbase.Fatal(log, "failed to export time-sync file",
				slog.String("file", fname), slog.Any("error", err))
		}
		log.LogAttrs(ctx, slog.LevelInfo, "exported time-sync file",
			slog.String("file", fname), slog.Int64("file_id", id))
	}
}

func runPlot(fname, out string, width, height float64) {
	err := offplot.Save(readFile(fname), out, vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to plot time-sync file", slog.Any("error", err))
	}
}

func runBenchmark(workers, calls int) {
	res := benchmark.RunSyncBenchmark(slog.Default(), workers, calls)
	err := res.Print(os.Stdout)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to print benchmark results", slog.Any("error", err))
	}
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		quiet      bool
		verbose    bool
		configFile string
		dbTarget   string
		overwrite  bool
		plotOut    string
		plotWidth  float64
		plotHeight float64
		workers    int
		calls      int
	)

	infoFlags := flag.NewFlagSet("info", flag.ExitOnError)
	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	readFlags := flag.NewFlagSet("read", flag.ExitOnError)
	analyzeFlags := flag.NewFlagSet("analyze", flag.ExitOnError)
	exportFlags := flag.NewFlagSet("export", flag.ExitOnError)
	plotFlags := flag.NewFlagSet("plot", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	runFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	readFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	readFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")

	analyzeFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	analyzeFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")

	exportFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	exportFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	exportFlags.StringVar(&dbTarget, "db", "", "SQLite database file")
	exportFlags.BoolVar(&overwrite, "overwrite", false, "Replace an existing database")

	plotFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	plotFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	plotFlags.StringVar(&plotOut, "o", "", "Output file (.png, .svg, .pdf)")
	plotFlags.Float64Var(&plotWidth, "width", float64(offplot.DefaultWidth/vg.Inch), "Width in inches")
	plotFlags.Float64Var(&plotHeight, "height", float64(offplot.DefaultHeight/vg.Inch), "Height in inches")

	benchmarkFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.IntVar(&workers, "workers", runtime.NumCPU(), "Number of concurrent synchronizer pairs")
	benchmarkFlags.IntVar(&calls, "calls", 100_000, "Number of processing calls per worker")
	prof := profile.New(profile.CPUProfile, profile.MemProfile)
	prof.SetFlags(benchmarkFlags)

	logLevel := func() int {
		if quiet && verbose {
			exitWithUsage()
		}
		if quiet {
			return logLevelQuiet
		}
		if verbose {
			return logLevelVerbose
		}
		return logLevelDefault
	}

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case infoFlags.Name():
		err := infoFlags.Parse(os.Args[2:])
		if err != nil || infoFlags.NArg() != 0 {
			exitWithUsage()
		}
		showInfo()
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(logLevel())
		runService(configFile)
	case readFlags.Name():
		err := readFlags.Parse(os.Args[2:])
		if err != nil || readFlags.NArg() != 1 {
			exitWithUsage()
		}
		initLogger(logLevel())
		runRead(readFlags.Arg(0))
	case analyzeFlags.Name():
		err := analyzeFlags.Parse(os.Args[2:])
		if err != nil || analyzeFlags.NArg() == 0 {
			exitWithUsage()
		}
		initLogger(logLevel())
		for _, fname := range analyzeFlags.Args() {
			runAnalyze(fname)
		}
	case exportFlags.Name():
		err := exportFlags.Parse(os.Args[2:])
		if err != nil || exportFlags.NArg() == 0 {
			exitWithUsage()
		}
		if dbTarget == "" {
			exitWithUsage()
		}
		initLogger(logLevel())
		runExport(dbTarget, overwrite, exportFlags.Args())
	case plotFlags.Name():
		err := plotFlags.Parse(os.Args[2:])
		if err != nil || plotFlags.NArg() != 1 {
			exitWithUsage()
		}
		if plotOut == "" || plotWidth <= 0 || plotHeight <= 0 {
			exitWithUsage()
		}
		initLogger(logLevel())
		runPlot(plotFlags.Arg(0), plotOut, plotWidth, plotHeight)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if workers <= 0 || calls <= 0 {
			exitWithUsage()
		}
		initLogger(logLevel())
		p := prof.Start()
		runBenchmark(workers, calls)
		p.Stop()
	case "t":
		runT()
	default:
		exitWithUsage()
	}
}
