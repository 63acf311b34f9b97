package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
)

// CheckBackend verifies that the backend answers the connectivity probe.
// It uses a single attempt with a 5-second timeout.
func CheckBackend(ctx context.Context, cfg *config.Config) Result {
	const name = "Backend"

	base := strings.TrimSpace(cfg.Backend.BaseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	if u, err := url.Parse(base); err != nil || u.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid base_url %q", base)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	started := time.Now()
	if err := backend.NewClient(cfg, nil).Probe(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeProbeError(err)}
	}
	elapsed := time.Since(started).Round(time.Millisecond)
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%s)", base, elapsed)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDatabaseFile verifies that an existing database file is writable. A
// missing file passes because the daemon creates it on first start.
func CheckDatabaseFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (created on first start)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

// CheckFreeSpace reports whether the filesystem holding dir has room for a
// full outbox.
func CheckFreeSpace(name, dir string, need int64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Clean(dir), &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", dir, err)}
	}
	free := int64(st.Bavail) * int64(st.Bsize)
	if need > 0 && free < need {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%d MiB free, outbox quota needs %d MiB)", dir, free>>20, need>>20)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MiB free)", dir, free>>20)}
}

// summarizeProbeError produces a human-readable summary for probe failures.
func summarizeProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (backend unreachable)"
	}
	if errors.Is(err, backend.ErrServer) {
		return "backend answered with a server error"
	}
	return err.Error()
}
