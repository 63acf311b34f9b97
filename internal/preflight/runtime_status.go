package preflight

import (
	"context"
	"strings"

	"schoolsync/internal/config"
	"schoolsync/internal/ipc"
)

// CheckNotificationsFromConfig evaluates ntfy status from config.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return Result{Name: name, Detail: "ntfy_topic must be a full URL"}
	}
	return Result{Name: name, Passed: true, Detail: topic}
}

// CheckDaemon reports whether a daemon answers on the IPC socket.
func CheckDaemon(_ context.Context, cfg *config.Config) Result {
	const name = "Daemon"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		return Result{Name: name, Detail: "not running"}
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return Result{Name: name, Detail: "socket present but not answering: " + err.Error()}
	}
	if !status.Running {
		return Result{Name: name, Detail: "process up, services stopped"}
	}
	return Result{Name: name, Passed: true, Detail: "running"}
}
