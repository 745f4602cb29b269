// Package api renders command results for the CLI.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

var (
	mu     sync.RWMutex
	format = OutputFormatYAML
	stdout io.Writer = os.Stdout
)

// SetOutputFormat sets the global output format from the --output flag.
func SetOutputFormat(name string) error {
	f := OutputFormat(name)
	switch f {
	case OutputFormatJSON, OutputFormatYAML:
	default:
		return fmt.Errorf("unknown output format %q (use yaml or json)", name)
	}
	mu.Lock()
	format = f
	mu.Unlock()
	return nil
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	mu.RLock()
	defer mu.RUnlock()
	return format
}

// SetWriter redirects Output, e.g. to cmd.OutOrStdout().
func SetWriter(w io.Writer) {
	mu.Lock()
	stdout = w
	mu.Unlock()
}

// Output writes data in the configured format.
func Output(data any) error {
	mu.RLock()
	w, f := stdout, format
	mu.RUnlock()
	return OutputTo(w, f, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
