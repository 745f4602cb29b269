package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the narrator home directory.
	DefaultDirName = ".narrator"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CacheDirName holds synthesized audio and its index.
	CacheDirName = "cache"

	// OutputDirName holds one directory of deliverables per job.
	OutputDirName = "output"

	// WorkDirName holds per-job intermediate chunk audio.
	WorkDirName = "work"

	// VoicesFileName is the synced voice catalog.
	VoicesFileName = "voices.yaml"
)

// Dir represents the narrator home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.narrator).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// CachePath returns the synthesis cache directory.
func (d *Dir) CachePath() string {
	return filepath.Join(d.path, CacheDirName)
}

// OutputPath returns the job output root.
func (d *Dir) OutputPath() string {
	return filepath.Join(d.path, OutputDirName)
}

// WorkPath returns the job work root.
func (d *Dir) WorkPath() string {
	return filepath.Join(d.path, WorkDirName)
}

// VoicesPath returns the voice catalog file.
func (d *Dir) VoicesPath() string {
	return filepath.Join(d.path, VoicesFileName)
}

// Resolve returns configured if set, otherwise fallback.
func Resolve(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.CachePath(), d.OutputPath(), d.WorkPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
