package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"schoolsync/internal/config"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	// validate finds the file under $HOME without --config
	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing file error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	env := setupCLITestEnv(t)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[sync]\nmode = \"sideways\"\n"), 0o644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	_, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, bad)
	if err == nil || !strings.Contains(err.Error(), "sync.mode") {
		t.Fatalf("expected sync.mode validation error, got %v", err)
	}
}

func TestConfigShowHidesAPIToken(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("SCHOOLSYNC_API_TOKEN", "secret-api-token-value")

	out := env.run(t, "config", "show")
	requireContains(t, out, env.cfg.Backend.BaseURL)
	requireNotContains(t, out, "secret-api-token-value")

	out = env.run(t, "--json", "config", "show")
	var shown map[string]any
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode config json: %v\n%s", err, out)
	}
	requireNotContains(t, out, "secret-api-token-value")
}
