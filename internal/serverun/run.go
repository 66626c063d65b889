package serverun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vellum/internal/config"
	"vellum/internal/deps"
	"vellum/internal/host"
	"vellum/internal/ipc"
	"vellum/internal/journal"
	"vellum/internal/logging"
	"vellum/internal/preflight"
)

// Options configures host process runtime behavior.
type Options struct {
	LogLevel string
}

// runFiles names the per-run artifacts under the log directory. Each host
// process gets its own log and event archive, keyed by start time, so
// overlapping restarts never clobber one another.
type runFiles struct {
	runID  string
	log    string
	events string
}

func newRunFiles(logDir string) runFiles {
	id := time.Now().UTC().Format("20060102-150405.000")
	return runFiles{
		runID:  id,
		log:    filepath.Join(logDir, "vellum-"+id+".log"),
		events: filepath.Join(logDir, "vellum-"+id+".events"),
	}
}

// Run starts the vellum host runtime loop. It returns when the process is
// signalled or when a CLI client requests shutdown over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The IPC Shutdown handler cancels runCtx after its response has been
	// written, so `vellum stop` terminates the process cleanly.
	runCtx, stop := context.WithCancel(signalCtx)
	defer stop()

	files := newRunFiles(cfg.Paths.LogDir)
	hub := logging.NewStreamHub(4096)
	archive, archiveErr := logging.NewEventArchive(files.events)
	if archiveErr != nil {
		fmt.Fprintf(os.Stderr, "warn: event archive disabled: %v\n", archiveErr)
	} else {
		defer archive.Close()
		hub.AddSink(archive)
	}

	logger, err := buildLogger(cfg, opts, hub, files)
	if err != nil {
		return err
	}

	logDependencySnapshot(logger, cfg)
	logPreflight(runCtx, logger, cfg)

	if err := repointCurrentLog(cfg.Paths.LogDir, files.log); err != nil {
		fmt.Fprintf(os.Stderr, "warn: vellum.log pointer not updated: %v\n", err)
	}
	logging.CleanupOldLogs([]logging.RetentionTarget{
		{Dir: cfg.Paths.LogDir, Pattern: "vellum-*.log", Exclude: []string{files.log}},
		{Dir: cfg.Paths.LogDir, Pattern: "vellum-*.events", Exclude: []string{files.events}},
	}, time.Duration(cfg.Logging.RetentionDays)*24*time.Hour, logger)

	pidPath := cfg.PIDFilePath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg)
		if err != nil {
			logger.Error("open journal store", logging.Error(err))
			return err
		}
		defer store.Close()
		pruneJournal(runCtx, logger, cfg, store)
	}

	h, err := host.New(cfg, logger, store, files.runID, files.log)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close()

	ipcServer, err := ipc.NewServer(runCtx, cfg.ControlSocketPath(), h, logger, stop)
	if err != nil {
		return fmt.Errorf("control server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.SetEventStream(hub, archive)
	ipcServer.Serve()

	if err := h.Start(runCtx); err != nil {
		logger.Warn("engine session start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_start_failed"),
			logging.String(logging.FieldErrorHint, "check engine.binary and engine.socket in the configuration"),
			logging.String(logging.FieldImpact, "host is up but no engine session is attached"),
		)
	}

	<-runCtx.Done()
	logger.Info("vellum host shutting down")
	return nil
}

// buildLogger assembles the host logger: leveled output to stdout and the
// per-run log file, teed into the stream hub that feeds IPC log tailing,
// with the run id stamped on every record.
func buildLogger(cfg *config.Config, opts Options, hub *logging.StreamHub, files runFiles) (*slog.Logger, error) {
	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", files.log},
	})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	logger = logging.TeeLogger(logger, logging.NewStreamHandler(hub, nil))
	return logger.With(logging.String(logging.FieldRunID, files.runID)), nil
}

func pruneJournal(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *journal.Store) {
	if cfg.Journal.RetentionDays <= 0 {
		return
	}
	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := store.Prune(pruneCtx, time.Duration(cfg.Journal.RetentionDays)*24*time.Hour)
	if err != nil {
		logger.Warn("journal prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("journal prune",
			logging.Int64("sessions_removed", removed),
			logging.String(logging.FieldEventType, "journal_prune"))
	}
}

// repointCurrentLog makes <logDir>/vellum.log name the active run's log file,
// falling back to a hard link on filesystems without symlink support.
func repointCurrentLog(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	pointer := filepath.Join(logDir, "vellum.log")
	if err := os.Remove(pointer); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stale pointer: %w", err)
	}
	if os.Symlink(target, pointer) == nil {
		return nil
	}
	if err := os.Link(target, pointer); err != nil {
		return fmt.Errorf("link %s: %w", pointer, err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"))
	}
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	binary := deps.ResolveEngineBinary(cfg.Engine.Binary)
	available := false
	if strings.TrimSpace(binary) != "" {
		_, lookErr := exec.LookPath(binary)
		available = lookErr == nil
	}
	logger.Info("engine dependency check",
		logging.String(logging.FieldEventType, "deps_check"),
		logging.String("engine_binary", binary),
		logging.Bool("engine_available", available),
		logging.Bool("engine_socket_configured", strings.TrimSpace(cfg.Engine.Socket) != ""),
		logging.Bool("journal_enabled", cfg.Journal.Enabled),
	)
}
