// Command enginectl drives the disk-based BFS engine: "search" runs the
// driver to completion (or until stop.txt appears), and the remaining
// subcommands expose the maintenance package's offline disk-management
// operations for runbook use between driver passes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/diskbfs/config"
	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/mazeproblem"
	"github.com/INLOpen/diskbfs/searchengine"
	"github.com/INLOpen/diskbfs/sys"
)

// Exit codes: 0 finished, 1 stopped via stop.txt, 2 exit not found,
// 3 any error.
const (
	exitOK       = 0
	exitStopped  = 1
	exitNotFound = 2
	exitError    = 3
)

func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
		}
		output, closer = file, file
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), closer, nil
}

// version is overridable at link time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}
	if os.Args[1] == "version" {
		fmt.Printf("enginectl %s\n", version)
		return
	}

	defaultConfig := "config.yaml"
	if env := os.Getenv("NEXUSBFS_CONFIG"); env != "" {
		defaultConfig = env
	}
	configPath := flag.String("config", defaultConfig, "path to the configuration file")
	flag.CommandLine.Parse(os.Args[2:])

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(exitError)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(exitError)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Engine.DataDir == "" {
		logger.Error("engine.data_dir must be set")
		os.Exit(exitError)
	}
	if err := os.MkdirAll(cfg.Engine.DataDir, 0o755); err != nil {
		logger.Error("creating data directory", "error", err)
		os.Exit(exitError)
	}

	if cfg.Debug.TraceFileHandles {
		sys.SetDebugMode(true)
		defer sys.PrintMapFiles()
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("failed to initialize tracer provider", "error", err)
		os.Exit(exitError)
	}
	defer tracerCleanup()

	var debugSrv *debugServer
	if cfg.Debug.Enabled {
		debugSrv = newDebugServer(cfg.Debug, logger)
	}

	cmd := os.Args[1]
	args := flag.CommandLine.Args()
	switch cmd {
	case "search":
		if len(args) > 0 {
			maxGroup, perr := strconv.ParseUint(args[0], 10, 32)
			if perr != nil {
				fmt.Fprintf(os.Stderr, "enginectl search: invalid max group %q: %v\n", args[0], perr)
				os.Exit(exitError)
			}
			cfg.Engine.MaxFrameGroups = uint32(maxGroup)
		}
		runSearch(cfg, logger, tp, debugSrv)
	default:
		runMaintenance(cmd, args, cfg, logger)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `enginectl <command> [-config path] [args...]

Commands:
  search [max-group]                    run the search driver to completion
  sort-open [range]                     sort/dedup open groups in place, highest first
  filter-open                           mask every open group against closed groups
  seq-filter-open [range]               in-place mask (no scratch file)
  pack-open [range]                     compact adjacent duplicates in open groups
  unpack [range]                        restore open-g from an interrupted pack-open
  regenerate-open [range]               rederive open frontiers for a group range
  create-all                            rebuild the aggregate all-g.bin from closed groups
  dump <path>                           print every decoded state in a file
  sample <group>                        print one random decoded state from a group
  count <prefix>                        report record counts per group for a file prefix
  verify <group>                        check sortedness/uniqueness of a closed group
  compare <pathA> <pathB>               diff two sorted files
  convert [range]                       recover open-g from leftover sort-open chunks
  find-exit [range]                     scan closed groups for any finished state
  write-partial-solution                render an in-progress trace to solution.txt
  version                               print the build version

A range is zero integers (every group on disk), one (a single group), or
two (the half-open range [a, b)).`)
}

func mazeProblem(cfg *config.Config) *mazeproblem.Maze {
	return mazeproblem.New(mazeproblem.DefaultLevel, cfg.Engine.DataDir)
}

// runSearch runs the driver and (if enabled) the debug server side by
// side under one errgroup: the first goroutine to fail cancels the shared
// context, and Wait propagates that first error.
func runSearch(cfg *config.Config, logger *slog.Logger, tp *sdktrace.TracerProvider, debugSrv *debugServer) {
	prob := mazeProblem(cfg)

	opts := searchengine.Options{
		Dir:                    cfg.Engine.DataDir,
		RAMArenaBytes:          cfg.Engine.RAMArenaBytes,
		Workers:                cfg.Engine.Workers,
		RingCapacity:           cfg.Engine.RingCapacity,
		CacheSlotsPerBucket:    cfg.Engine.CacheSlotsPerBucket,
		AggregateMode:          cfg.Engine.AggregateMode,
		DiskFreeThresholdBytes: cfg.Engine.DiskFreeThreshold,
		MaxFrameGroups:         core.FrameGroup(cfg.Engine.MaxFrameGroups),
		Logger:                 logger,
		Tracer:                 tp.Tracer("enginectl"),
		IdleEnabled:            cfg.Idle.Enabled && cfg.Idle.IdleMs > 0,
	}

	engine := searchengine.New[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](prob, opts)

	g, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, writing stop sentinel")
		_ = os.WriteFile(core.StopPath(cfg.Engine.DataDir), []byte(fmt.Sprintf("%d\n", time.Now().Unix())), 0o644)
		cancel()
	}()

	if debugSrv != nil {
		g.Go(debugSrv.Start)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			return debugSrv.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return engine.Run(ctx)
	})

	runErr := g.Wait()
	switch {
	case runErr == nil:
		logger.Info("search finished")
	case errors.Is(runErr, searchengine.ErrStopRequested), errors.Is(runErr, context.Canceled):
		logger.Info("search stopped by request")
		os.Exit(exitStopped)
	case errors.Is(runErr, searchengine.ErrExitNotFound):
		logger.Warn("search exhausted frame groups without finding an exit")
		os.Exit(exitNotFound)
	default:
		logger.Error("search exited with error", "error", runErr)
		os.Exit(exitError)
	}
}
