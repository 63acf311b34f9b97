package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"schoolsync/internal/cacheworker"
	"schoolsync/internal/config"
	"schoolsync/internal/daemon"
	"schoolsync/internal/ipc"
	"schoolsync/internal/logging"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level from the config when set.
	LogLevel string
}

// Run starts the schoolsync daemon and blocks until SIGINT/SIGTERM or until
// cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logRuntimeSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "schoolsync.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := outbox.Open(cfg)
	if err != nil {
		logger.Error("open outbox store", logging.Error(err))
		return err
	}

	var assets *cacheworker.Store
	if cfg.Worker.Enabled {
		assets, err = cacheworker.OpenStore(cfg.AssetCachePath())
		if err != nil {
			_ = store.Close()
			logger.Error("open asset cache", logging.Error(err))
			return err
		}
	}

	d, err := daemon.New(cfg, store, logger, daemon.Options{
		Assets:   assets,
		Notifier: notifications.NewService(cfg),
	})
	if err != nil {
		_ = store.Close()
		if assets != nil {
			_ = assets.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close failed", logging.Error(err))
		}
	}()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("schoolsync daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("backend_url", cfg.Backend.BaseURL),
		logging.String("sync_mode", cfg.Sync.Mode),
		logging.Bool("sync_on_start", cfg.Sync.SyncOnStart),
		logging.Bool("worker_enabled", cfg.Worker.Enabled),
		logging.String("cache_generation", cfg.CacheGeneration()),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
