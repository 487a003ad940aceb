package orchestratord

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile manages the daemon's PID file for single-instance enforcement.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process PID to the file, refusing to start
// if another daemon is already running against the same data dir.
func (p *PIDFile) Acquire() error {
	if _, err := os.Stat(p.path); err == nil {
		existingPID, err := readPID(p.path)
		if err != nil {
			return fmt.Errorf("read existing pid file: %w", err)
		}
		if existingPID > 0 && isProcessRunning(existingPID) {
			return fmt.Errorf("daemon already running with pid %d", existingPID)
		}
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale pid file: %w", err)
		}
	}

	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the PID file. Safe to call multiple times.
func (p *PIDFile) Release() error {
	err := os.Remove(p.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func readPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		return 0, fmt.Errorf("pid file is empty")
	}
	return strconv.Atoi(pidStr)
}
