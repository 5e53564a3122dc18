// Package servercmd wires the kvs-server binary: flag parsing, config
// resolution, directory locking, engine selection, and graceful shutdown.
package servercmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/arjunroy/kvs/internal/cli"
	"github.com/arjunroy/kvs/internal/config"
	"github.com/arjunroy/kvs/internal/dirlock"
	"github.com/arjunroy/kvs/internal/engine"
	"github.com/arjunroy/kvs/internal/engineapi"
	"github.com/arjunroy/kvs/internal/marker"
	"github.com/arjunroy/kvs/internal/pool"
	"github.com/arjunroy/kvs/internal/server"
	"github.com/arjunroy/kvs/internal/sledengine"
	kvfs "github.com/arjunroy/kvs/pkg/fs"
)

const version = "0.1.0"

// gracefulShutdownTimeout bounds how long the server waits after a first
// SIGINT/SIGTERM before a second signal (or the timeout itself) forces
// exit, mirroring the teacher's internal/cli.Run signal-handling shape.
const gracefulShutdownTimeout = 5 * time.Second

// Run is the kvs-server entry point. sigCh may be nil in tests.
func Run(out, errOut *os.File, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	fs := flag.NewFlagSet("kvs-server", flag.ContinueOnError)
	fs.SetInterspersed(true)

	addrFlag := fs.String("addr", "", "listen address IP:PORT (default 127.0.0.1:4000)")
	engineFlag := fs.String("engine", "", "storage engine: kvs|sled (default kvs)")
	dataDirFlag := fs.String("data-dir", ".", "data directory")
	configFlag := fs.String("config", "", "explicit config file")
	poolSizeFlag := fs.Int("pool-size", pool.DefaultSize, "request-handler thread pool size")

	io := cli.NewIO(out, errOut)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		io.ErrPrintln("error:", err)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{ConfigPath: *configFlag, Env: env})
	if err != nil {
		io.ErrPrintln("error:", err)
		return 1
	}

	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	if *engineFlag != "" {
		cfg.Engine = *engineFlag
	}

	logLevel := parseLogLevel(env["KVS_LOG"])
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: logLevel}))

	// The data directory must exist before the lock file can be created
	// inside it — a custom --data-dir that doesn't exist yet must be
	// created first, not treated as a lock failure.
	if err := os.MkdirAll(*dataDirFlag, 0o755); err != nil {
		io.ErrPrintln("error:", fmt.Errorf("%w: create data dir %q: %v", engineapi.ErrLogInit, *dataDirFlag, err))
		return 1
	}

	lock, err := dirlock.TryLock(*dataDirFlag + "/.kvs.lock")
	if err != nil {
		io.ErrPrintln("error:", err)
		return 1
	}
	defer lock.Close()

	eng, closeEngine, err := openEngine(cfg.Engine, *dataDirFlag, cfg.CompactionThreshold, logger)
	if err != nil {
		io.ErrPrintln("error:", err)
		return 1
	}
	defer closeEngine()

	srv, err := server.New(cfg.Addr, eng, server.Options{PoolSize: *poolSizeFlag, Logger: logger})
	if err != nil {
		io.ErrPrintln("error:", err)
		return 1
	}

	logger.Info("starting kvs-server", "version", version, "engine", cfg.Engine, "addr", srv.Addr())

	return runUntilShutdown(srv, io, sigCh)
}

func runUntilShutdown(srv *server.Server, io *cli.IO, sigCh <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			io.ErrPrintln("error:", err)
			return 1
		}

		_ = srv.Shutdown()

		return 0
	case <-sigCh:
		io.ErrPrintln("shutting down...")
		cancel()
	}

	select {
	case <-done:
		_ = srv.Shutdown()
		return 0
	case <-time.After(gracefulShutdownTimeout):
		io.ErrPrintln("graceful shutdown timed out, forcing exit")
		return 1
	case <-sigCh:
		io.ErrPrintln("shutdown interrupted, forcing exit")
		return 1
	}
}

// openEngine assumes dataDir already exists (Run creates it before taking
// the directory lock, since the lock file must live inside it).
func openEngine(name, dataDir string, configThreshold int64, logger *slog.Logger) (engineapi.Engine, func(), error) {
	resolved := engineapi.Name(name)
	if resolved == "" {
		resolved = engineapi.KVS
	}

	if err := marker.CheckOrWrite(dataDir, resolved); err != nil {
		return nil, nil, err
	}

	switch resolved {
	case engineapi.Sled:
		eng, err := sledengine.Open(dataDir)
		if err != nil {
			return nil, nil, err
		}

		return eng, func() { _ = eng.Close() }, nil

	case engineapi.KVS, "":
		eng, err := engine.Open(kvfs.NewReal(), dataDir, engine.Options{
			CompactionThreshold: compactionThreshold(configThreshold),
			Logger:              logger,
		})
		if err != nil {
			return nil, nil, err
		}

		return eng, func() { _ = eng.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", name)
	}
}

// compactionThreshold resolves the compaction threshold with precedence
// env var > config file > built-in default, per SPEC_FULL.md's Open
// Question decision.
func compactionThreshold(configValue int64) int64 {
	raw := os.Getenv("KVS_COMPACTION_THRESHOLD")
	if raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}

	if configValue > 0 {
		return configValue
	}

	return engine.DefaultCompactionThreshold
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
