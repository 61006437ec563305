// Package daemon tracks the background `hoa-pr serve` process through a PID
// file in the state directory.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the file.
var ErrAlreadyRunning = errors.New("already running")

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file, creating its directory.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Acquire claims the file for the current process. A file left behind by a
// dead process is replaced; one already naming this process is kept.
func (p *PIDFile) Acquire() error {
	if pid, running := p.IsRunning(); running && pid != os.Getpid() {
		return fmt.Errorf("server %w (PID %d)", ErrAlreadyRunning, pid)
	}
	return p.Write()
}

// Release removes the file if it still names the current process.
func (p *PIDFile) Release() {
	if pid, err := p.Read(); err == nil && pid == os.Getpid() {
		_ = p.Remove()
	}
}
