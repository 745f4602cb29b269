// Package voices keeps a local catalog of the voices each speech provider
// offers, synced from the provider and stored as YAML in the home directory.
package voices

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Voice is one provider voice in the catalog.
type Voice struct {
	VoiceID     string `json:"voice_id" yaml:"voice_id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Provider    string `json:"provider" yaml:"provider"`
	IsDefault   bool   `json:"is_default" yaml:"is_default"`
	SyncedAt    string `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`
}

// ErrNotFound is returned when a voice is not in the catalog.
var ErrNotFound = errors.New("voice not found")

// Catalog is the on-disk voice catalog.
type Catalog struct {
	path   string
	Voices []Voice `yaml:"voices"`
}

// Load reads the catalog at path. A missing file is an empty catalog.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse voice catalog %s: %w", path, err)
	}
	return c, nil
}

// Save writes the catalog atomically.
func (c *Catalog) Save() error {
	sort.SliceStable(c.Voices, func(i, j int) bool {
		if c.Voices[i].Provider != c.Voices[j].Provider {
			return c.Voices[i].Provider < c.Voices[j].Provider
		}
		return c.Voices[i].Name < c.Voices[j].Name
	})
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write voice catalog: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// List returns the voices of provider, or every voice when provider is empty.
func (c *Catalog) List(provider string) []Voice {
	var out []Voice
	for _, v := range c.Voices {
		if provider == "" || v.Provider == provider {
			out = append(out, v)
		}
	}
	return out
}

// Get returns a provider voice by its voice ID.
func (c *Catalog) Get(provider, voiceID string) (*Voice, error) {
	for i := range c.Voices {
		if c.Voices[i].Provider == provider && c.Voices[i].VoiceID == voiceID {
			return &c.Voices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, voiceID)
}

// SetDefault marks a voice as the provider's default, unsetting any previous one.
func (c *Catalog) SetDefault(provider, voiceID string) error {
	target, err := c.Get(provider, voiceID)
	if err != nil {
		return err
	}
	for i := range c.Voices {
		if c.Voices[i].Provider == provider {
			c.Voices[i].IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

// Default returns the provider's default voice, or nil if none is set.
func (c *Catalog) Default(provider string) *Voice {
	for i := range c.Voices {
		if c.Voices[i].Provider == provider && c.Voices[i].IsDefault {
			return &c.Voices[i]
		}
	}
	return nil
}
