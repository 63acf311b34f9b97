// Package daemonctl launches and stops the background daemon process on behalf
// of the CLI. It talks to a running daemon over the IPC socket and falls back
// to the pid file in the log directory when the socket stops answering.
package daemonctl
