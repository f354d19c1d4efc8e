// Command lanedecode decodes PINet output dumps (.lgd) into lanes.
//
// Usage:
//
//	lanedecode [flags] frame.lgd [frame.lgd|dir ...]
//
// Frames are decoded on a bounded worker pool and printed in input order.
// With -db the run, per-frame statistics and lanes are recorded in SQLite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/db"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/pipeline"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/storage/sqlite"
	"github.com/huyhung411991/PINetTensorRT/internal/monitoring"
	"github.com/huyhung411991/PINetTensorRT/internal/security"
	"github.com/huyhung411991/PINetTensorRT/internal/version"
)

var (
	configPath    = flag.String("config", "", "Tuning config file (.json, .yaml); built-in defaults when empty")
	dbPath        = flag.String("db", "", "SQLite database to record the run in; disabled when empty")
	workers       = flag.Int("workers", 0, "Decode workers; 0 uses the config value, then GOMAXPROCS")
	format        = flag.String("format", "text", "Output format: text or json")
	metricsListen = flag.String("metrics-listen", "", "Serve Prometheus /metrics on this address, e.g. :9090")
	debug         = flag.Bool("debug", false, "Log per-frame diagnostics and activation masks to stderr")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

const (
	formatText = "text"
	formatJSON = "json"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("lanedecode"))
		return
	}
	if *format != formatText && *format != formatJSON {
		log.Fatalf("unknown -format %q (want text or json)", *format)
	}
	if flag.NArg() == 0 {
		log.Fatal("at least one frame file or directory is required")
	}

	if *debug {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	nWorkers := cfg.GetWorkers()
	if *workers > 0 {
		nWorkers = *workers
	}

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	if *metricsListen != "" {
		shutdown := monitoring.StartMetricsServer(*metricsListen, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Printf("metrics server shutdown: %v", err)
			}
		}()
	}

	decoder, err := pipeline.NewDecoder(pipeline.ConfigFromTuning(cfg), pipeline.WithObserver(metrics))
	if err != nil {
		log.Fatalf("failed to create decoder: %v", err)
	}

	paths, err := expandInputs(flag.Args())
	if err != nil {
		log.Fatalf("failed to list inputs: %v", err)
	}
	frames, err := loadFrames(paths)
	if err != nil {
		log.Fatalf("failed to read frames: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := decoder.DecodeBatch(ctx, frames, nWorkers)
	if err != nil {
		log.Printf("decode interrupted: %v", err)
	}

	if err := writeResults(os.Stdout, results, *format); err != nil {
		log.Fatalf("failed to write results: %v", err)
	}

	if *dbPath != "" {
		runID, err := recordRun(*dbPath, cfg, strings.Join(flag.Args(), ","), results)
		if err != nil {
			log.Fatalf("failed to record run: %v", err)
		}
		log.Printf("recorded run %s in %s", runID, *dbPath)
	}

	if failed := countFailures(results); failed > 0 {
		log.Printf("%d of %d frames failed", failed, len(results))
		os.Exit(1)
	}
}

// loadConfig reads the tuning file, or returns the built-in defaults when
// path is empty.
func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// expandInputs replaces every directory argument with the sorted frame
// dumps it contains. Dumps that resolve outside their directory through a
// symlink are rejected.
func expandInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*"+l1frames.FileExtension))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := security.ValidatePathWithinDirectory(m, arg); err != nil {
				return nil, err
			}
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files found in %v", l1frames.FileExtension, args)
	}
	return paths, nil
}

func loadFrames(paths []string) ([]*l1frames.Frame, error) {
	frames := make([]*l1frames.Frame, 0, len(paths))
	for _, p := range paths {
		f, err := l1frames.ReadFrameFile(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// frameOutput is the JSON shape of one decoded frame.
type frameOutput struct {
	Frame string        `json:"frame"`
	Lanes *lane.LaneSet `json:"lanes,omitempty"`
	Stats *lane.Stats   `json:"stats,omitempty"`
	Error string        `json:"error,omitempty"`
}

func writeResults(w io.Writer, results []pipeline.FrameResult, format string) error {
	if format == formatJSON {
		out := make([]frameOutput, len(results))
		for idx := range results {
			res := &results[idx]
			out[idx] = frameOutput{Frame: res.Name}
			if res.Err != nil {
				out[idx].Error = res.Err.Error()
				continue
			}
			out[idx].Lanes = &res.Lanes
			out[idx].Stats = &res.Stats
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, res := range results {
		if res.Err != nil {
			if _, err := fmt.Fprintf(w, "%s: error: %v\n", res.Name, res.Err); err != nil {
				return err
			}
			continue
		}
		s := res.Stats
		if _, err := fmt.Fprintf(w, "%s: %d lanes, %d active cells, %d discarded, %v\n%s\n",
			res.Name, res.Lanes.Len(), s.ActiveCells, s.Discarded(), s.DecodeDuration, res.Lanes); err != nil {
			return err
		}
	}
	return nil
}

// recordRun stores every successfully decoded frame under a new run.
func recordRun(path string, cfg *config.TuningConfig, source string, results []pipeline.FrameResult) (string, error) {
	database, err := db.NewDB(path)
	if err != nil {
		return "", err
	}
	defer database.Close()

	params, err := json.Marshal(cfg.Resolved())
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	store := sqlite.NewRunStore(database.DB)
	run := &sqlite.Run{ParamsJSON: params, Source: source}
	if err := store.CreateRun(run); err != nil {
		return "", err
	}

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		if _, err := store.RecordFrame(run.RunID, res.Name, res.Lanes, res.Stats); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, err))
		}
	}
	return run.RunID, errors.Join(errs...)
}

func countFailures(results []pipeline.FrameResult) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
