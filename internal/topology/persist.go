package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LogsDir is recreated from scratch on every run (spec §6).
const LogsDir = "logs"

// ResetLogsDir removes any prior logs/ contents and recreates the
// directory, per spec §6 ("recreated from scratch each run").
func ResetLogsDir() error {
	if err := os.RemoveAll(LogsDir); err != nil {
		return errors.Wrap(err, "remove existing logs directory")
	}
	if err := os.MkdirAll(LogsDir, 0o755); err != nil {
		return errors.Wrap(err, "create logs directory")
	}
	return nil
}

// Persist writes the per-node directory spec §6 names directly —
// logs/port_<P>/port_<P>_logs.json and ..._topology.svg — with no
// write-then-move step (spec §9 supersedes the original source's
// write-to-cwd-then-move behaviour).
func Persist(port int, snap Snapshot, renderer Renderer) error {
	dir := filepath.Join(LogsDir, fmt.Sprintf("port_%d", port))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create log directory for port %d", port)
	}

	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "marshal snapshot for port %d", port)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("port_%d_logs.json", port))
	if err := os.WriteFile(logPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "write log file for port %d", port)
	}

	imagePath := filepath.Join(dir, fmt.Sprintf("port_%d_topology.%s", port, renderer.Extension()))
	if err := renderer.Render(imagePath, snap.Topology); err != nil {
		return errors.Wrapf(err, "render topology image for port %d", port)
	}

	return nil
}
