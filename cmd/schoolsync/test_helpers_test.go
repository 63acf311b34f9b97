package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schoolsync/internal/cacheworker"
	"schoolsync/internal/config"
	"schoolsync/internal/daemon"
	"schoolsync/internal/ipc"
	"schoolsync/internal/logging"
	"schoolsync/internal/outbox"
	"schoolsync/internal/testsupport"
)

const testSessionToken = "token-cli-0123456789"

type cliTestEnv struct {
	cfg        *config.Config
	backend    *testsupport.FakeBackend
	store      *outbox.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	fb := testsupport.NewFakeBackend(t, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fb.URL), testsupport.WithPrecache())
	cfg.Sync.SyncOnStart = false
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(base, "home", ".config", "schoolsync", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	assets, err := cacheworker.OpenStore(cfg.AssetCachePath())
	if err != nil {
		t.Fatalf("cacheworker.OpenStore: %v", err)
	}

	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, logger, daemon.Options{Assets: assets})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	time.Sleep(20 * time.Millisecond)

	env := &cliTestEnv{
		cfg:        cfg,
		backend:    fb,
		store:      store,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("schoolsync %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return out
}

func (env *cliTestEnv) enqueue(t *testing.T, body string) int64 {
	t.Helper()
	return testsupport.MustEnqueue(t, env.store, env.backend.URL+"/api/students/", testSessionToken, body)
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = %q

[backend]
base_url = %q

[sync]
sync_on_start = false

[worker]
enabled = false
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Backend.BaseURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", substr, output)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected output not to contain %q\noutput:\n%s", substr, output)
	}
}
