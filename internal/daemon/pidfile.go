package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/allaspectsdev/mlxd/internal/version"
)

const runFilename = "mlxd.run.json"

// RunInfo is the on-disk record of a running daemon: enough for `mlxd
// stop` to signal it and for `mlxd status` to report which build has
// been serving since when, without needing the status server up.
type RunInfo struct {
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"` // RFC3339
	Version   string `json:"version"`
}

// WritePID records the current process in dataDir's run file.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for run file: %w", err)
	}

	info := RunInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run file: %w", err)
	}

	path := runPath(dataDir)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run file %s: %w", path, err)
	}
	return nil
}

// ReadRunInfo reads and decodes dataDir's run file.
func ReadRunInfo(dataDir string) (*RunInfo, error) {
	path := runPath(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file %s: %w", path, err)
	}

	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", path, err)
	}
	if info.PID <= 0 {
		return nil, fmt.Errorf("run file %s has no valid pid", path)
	}
	return &info, nil
}

// ReadPID returns the PID recorded in dataDir's run file.
func ReadPID(dataDir string) (int, error) {
	info, err := ReadRunInfo(dataDir)
	if err != nil {
		return 0, err
	}
	return info.PID, nil
}

// RemovePID removes the run file from dataDir.
func RemovePID(dataDir string) error {
	path := runPath(dataDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing run file %s: %w", path, err)
	}
	return nil
}

// IsRunning checks whether the run file exists and its process is alive.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return false
	}
	return isProcessAlive(pid)
}

// isProcessAlive checks whether the process with the given PID is running
// by sending signal 0. On Unix systems, this verifies the process exists
// without actually sending a signal.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks if the process exists without sending an actual signal.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// runPath returns the full path to the run file.
func runPath(dataDir string) string {
	return filepath.Join(dataDir, runFilename)
}
