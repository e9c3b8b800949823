package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andypeng2015/esgc/diagnostics"
	"github.com/andypeng2015/esgc/gc"
	"github.com/andypeng2015/esgc/gc/debug"
	"github.com/andypeng2015/esgc/gc/metrics"
	"github.com/andypeng2015/esgc/scenario"
	"github.com/gofrs/flock"
	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-tty"
)

const (
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorReset = "\x1b[0m"
)

type options struct {
	config     *gc.Config // replaces the configuration of every scenario
	trace      bool
	traceFile  string
	stats      bool
	metrics    bool
	heapDump   string
	color      bool
	stdout     io.Writer
	stderr     io.Writer
	traceWrite io.Writer
}

// lockedFile appends to a file that other esgc processes may append to as
// well. Every write holds an advisory lock on a sibling lock file.
type lockedFile struct {
	f    *os.File
	lock *flock.Flock
}

func openLockedFile(path string) (*lockedFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &lockedFile{f: f, lock: flock.New(path + ".lock")}, nil
}

func (lf *lockedFile) Write(p []byte) (int, error) {
	if err := lf.lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock trace file: %w", err)
	}
	defer lf.lock.Unlock()
	return lf.f.Write(p)
}

func (lf *lockedFile) Close() error {
	lf.lock.Close()
	return lf.f.Close()
}

func (o *options) colorize(color, s string) string {
	if !o.color {
		return s
	}
	return color + s + colorReset
}

// heapConfig returns the configuration a scenario runs with.
func (o *options) heapConfig(s *scenario.Scenario) gc.Config {
	cfg := s.HeapConfig(o.stdout)
	if o.config != nil {
		cfg = *o.config
	}
	if o.trace {
		cfg.Trace = true
	}
	if cfg.Trace && o.traceWrite != nil {
		cfg.TraceWriter = o.traceWrite
	} else if cfg.Trace && cfg.TraceWriter == nil {
		cfg.TraceWriter = o.stdout
	}
	return cfg
}

// runScenario runs one scenario file and reports the result.
func runScenario(path string, o *options) error {
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}
	r := scenario.NewRunner(nil, o.heapConfig(s), o.stdout)
	defer r.Close()
	err = s.Execute(r)
	report(r.Heap(), o)
	if o.heapDump != "" {
		if dumpErr := writeHeapDump(r.Heap(), o.heapDump); dumpErr != nil && err == nil {
			err = dumpErr
		}
	}
	if err != nil {
		fmt.Fprintln(o.stdout, o.colorize(colorRed, "FAIL"), s.Name)
		diagnostics.CreateDiagnostics(s.Name, err).WriteTo(o.stderr)
		return errFailed
	}
	fmt.Fprintln(o.stdout, o.colorize(colorGreen, "ok  "), s.Name)
	return nil
}

var errFailed = errors.New("scenario failed")

func writeHeapDump(h *gc.Heap, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := debug.WriteHeapDump(h, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// report prints the requested statistics of a heap.
func report(h *gc.Heap, o *options) {
	if o.stats {
		var ms gc.MemStats
		h.ReadMemStats(&ms)
		stats := debug.GCStats{PauseQuantiles: make([]time.Duration, 5)}
		debug.ReadGCStats(h, &stats)
		fmt.Fprintf(o.stdout, "live:        %s in %d objects\n", bytesize.New(float64(ms.Alloc)), ms.HeapObjects)
		fmt.Fprintf(o.stdout, "external:    %s\n", bytesize.New(float64(ms.External)))
		fmt.Fprintf(o.stdout, "heap:        %s in %d chunks (%s free)\n", bytesize.New(float64(ms.HeapSys)), ms.Chunks, bytesize.New(float64(ms.HeapFree)))
		fmt.Fprintf(o.stdout, "allocated:   %s in %d objects\n", bytesize.New(float64(ms.TotalAlloc)), ms.Mallocs)
		fmt.Fprintf(o.stdout, "next gc:     %s\n", bytesize.New(float64(ms.NextGC)))
		fmt.Fprintf(o.stdout, "collections: %d (%d forced), pause total %v, quantiles %v\n", stats.NumGC, ms.NumForcedGC, stats.PauseTotal, stats.PauseQuantiles)
		fmt.Fprintf(o.stdout, "roots:       %d pinned, %d static, %d weak handles\n", ms.DynamicRoots, ms.StaticRoots, ms.WeakHandles)
	}
	if o.metrics {
		all := metrics.All()
		samples := make([]metrics.Sample, len(all))
		for i, d := range all {
			samples[i].Name = d.Name
		}
		metrics.Read(h, samples)
		for _, s := range samples {
			switch s.Value.Kind() {
			case metrics.KindUint64:
				fmt.Fprintf(o.stdout, "%s %d\n", s.Name, s.Value.Uint64())
			case metrics.KindFloat64:
				fmt.Fprintf(o.stdout, "%s %g\n", s.Name, s.Value.Float64())
			case metrics.KindFloat64Histogram:
				hist := s.Value.Float64Histogram()
				for i, n := range hist.Counts {
					if n != 0 {
						fmt.Fprintf(o.stdout, "%s[%g] %d\n", s.Name, hist.Buckets[i], n)
					}
				}
			}
		}
	}
}

// interactive reads commands from the terminal until EOF or "quit".
func interactive(o *options) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()
	out := colorable.NewColorable(t.Output())
	o.stdout = out
	o.stderr = out

	cfg := gc.Config{}
	if o.config != nil {
		cfg = *o.config
	}
	if o.trace {
		cfg.Trace = true
		cfg.TraceWriter = out
		if o.traceWrite != nil {
			cfg.TraceWriter = o.traceWrite
		}
	}
	r := scenario.NewRunner(nil, cfg, out)
	defer r.Close()
	fmt.Fprintln(out, "commands:", strings.Join(scenario.Commands(), " "))
	for {
		fmt.Fprint(out, "esgc> ")
		line, err := t.ReadString()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "quit", "exit":
			return nil
		case "report":
			report(r.Heap(), o)
			continue
		}
		if err := r.Exec(line); err != nil {
			fmt.Fprintln(out, o.colorize(colorRed, "error:"), err)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: esgc [flags] scenario.yaml...")
	fmt.Fprintln(os.Stderr, "       esgc [flags] -i")
	fmt.Fprintln(os.Stderr, "\nflags:")
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

// run parses the flags, runs the scenarios and returns the exit code.
func run() int {
	flag.Usage = usage
	configPath := flag.String("config", "", "heap configuration file (YAML), replacing the configuration of every scenario")
	trace := flag.Bool("trace", false, "print a record after every collection")
	traceFile := flag.String("trace-file", "", "append trace records to this file")
	stats := flag.Bool("stats", false, "print heap statistics after every scenario")
	printMetrics := flag.Bool("metrics", false, "print all heap metrics after every scenario")
	heapDump := flag.String("heapdump", "", "write a JSON heap dump of the last scenario to this file")
	interactiveMode := flag.Bool("i", false, "read commands from the terminal")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	o := &options{
		trace:     *trace || *traceFile != "",
		traceFile: *traceFile,
		stats:     *stats,
		metrics:   *printMetrics,
		heapDump:  *heapDump,
		color:     !*noColor && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())),
		stdout:    colorable.NewColorableStdout(),
		stderr:    colorable.NewColorableStderr(),
	}
	if *configPath != "" {
		cfg, err := gc.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		o.config = &cfg
	}
	if o.traceFile != "" {
		lf, err := openLockedFile(o.traceFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		defer lf.Close()
		o.traceWrite = lf
	}

	if *interactiveMode {
		if err := interactive(o); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}
	if flag.NArg() == 0 {
		usage()
		return 1
	}
	return runScenarios(flag.Args(), o)
}

// runScenarios runs every scenario file and returns 1 if any failed.
func runScenarios(paths []string, o *options) int {
	code := 0
	for _, path := range paths {
		if err := runScenario(path, o); err != nil {
			if !errors.Is(err, errFailed) {
				fmt.Fprintln(o.stderr, "error:", err)
			}
			code = 1
		}
	}
	return code
}
