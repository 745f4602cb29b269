package jobs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/narrator/internal/faults"
)

//go:embed settings.schema.json
var settingsSchemaJSON []byte

var (
	settingsSchemaOnce sync.Once
	settingsSchema     *jsonschema.Schema
	settingsSchemaErr  error
)

func compiledSettingsSchema() (*jsonschema.Schema, error) {
	settingsSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("settings.json", bytes.NewReader(settingsSchemaJSON)); err != nil {
			settingsSchemaErr = fmt.Errorf("failed to load settings schema: %w", err)
			return
		}
		settingsSchema, settingsSchemaErr = compiler.Compile("settings.json")
	})
	return settingsSchema, settingsSchemaErr
}

// Settings are the per-job narration options, built once when the job is
// submitted and never changed afterwards.
type Settings struct {
	Provider     string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Voice        string  `json:"voice" yaml:"voice"`
	Model        string  `json:"model" yaml:"model"`
	Speed        float64 `json:"speed" yaml:"speed"`
	Style        string  `json:"style,omitempty" yaml:"style,omitempty"`
	Emotion      string  `json:"emotion,omitempty" yaml:"emotion,omitempty"`
	Instructions string  `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Format       string  `json:"format" yaml:"format"`
	// MaxChunkSize is clamped to the configured chunk bounds; 0 uses the default.
	MaxChunkSize int `json:"max_chunk_size,omitempty" yaml:"max_chunk_size,omitempty"`

	// Normalize and Compress are nil when unset, so an explicit false
	// survives Merge.
	Normalize *bool `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	Compress  *bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// NormalizeEnabled reports whether loudness normalization is on.
func (s Settings) NormalizeEnabled() bool { return s.Normalize != nil && *s.Normalize }

// CompressEnabled reports whether dynamic range compression is on.
func (s Settings) CompressEnabled() bool { return s.Compress != nil && *s.Compress }

// SettingsError reports settings that fail validation. It is an input error.
type SettingsError struct {
	Err error
}

func (e *SettingsError) Error() string { return "invalid settings: " + e.Err.Error() }

func (e *SettingsError) Unwrap() error { return e.Err }

// FaultKind classifies the error as invalid input.
func (e *SettingsError) FaultKind() faults.Kind { return faults.KindInput }

// Validate checks s against the settings schema.
func (s Settings) Validate() error {
	schema, err := compiledSettingsSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return &SettingsError{Err: err}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &SettingsError{Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &SettingsError{Err: err}
	}
	return nil
}

// Merge fills unset fields of s from defaults.
func (s Settings) Merge(defaults Settings) Settings {
	if s.Provider == "" {
		s.Provider = defaults.Provider
	}
	if s.Voice == "" {
		s.Voice = defaults.Voice
	}
	if s.Model == "" {
		s.Model = defaults.Model
	}
	if s.Speed == 0 {
		s.Speed = defaults.Speed
	}
	if s.Style == "" {
		s.Style = defaults.Style
	}
	if s.Emotion == "" {
		s.Emotion = defaults.Emotion
	}
	if s.Instructions == "" {
		s.Instructions = defaults.Instructions
	}
	if s.Format == "" {
		s.Format = defaults.Format
	}
	if s.MaxChunkSize == 0 {
		s.MaxChunkSize = defaults.MaxChunkSize
	}
	if s.Normalize == nil {
		s.Normalize = defaults.Normalize
	}
	if s.Compress == nil {
		s.Compress = defaults.Compress
	}
	return s
}

// Preset is a named bundle of style settings.
type Preset struct {
	Style     string  `json:"style" yaml:"style"`
	Emotion   string  `json:"emotion" yaml:"emotion"`
	Speed     float64 `json:"speed" yaml:"speed"`
	Normalize bool    `json:"normalize" yaml:"normalize"`
	Compress  bool    `json:"compress" yaml:"compress"`
}

// Presets are the built-in narration styles.
var Presets = map[string]Preset{
	"neutral":  {Style: "neutral", Speed: 1.0},
	"cheerful": {Style: "cheerful", Emotion: "happy", Speed: 1.15, Normalize: true, Compress: true},
	"serious":  {Style: "serious", Emotion: "serious", Speed: 0.9, Normalize: true},
	"excited":  {Style: "excited", Emotion: "excited", Speed: 1.25, Normalize: true, Compress: true},
	"sad":      {Style: "sad", Emotion: "sad", Speed: 0.8, Normalize: true},
	"dramatic": {Style: "dramatic", Emotion: "dramatic", Speed: 0.95, Normalize: true, Compress: true},
}

// PresetNames returns preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset overwrites the style fields of s with the named preset.
// Callers layer explicit options on top afterwards.
func (s Settings) ApplyPreset(name string) (Settings, error) {
	p, ok := Presets[name]
	if !ok {
		return s, &SettingsError{Err: fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())}
	}
	s.Style = p.Style
	s.Emotion = p.Emotion
	s.Speed = p.Speed
	s.Normalize = Bool(p.Normalize)
	s.Compress = Bool(p.Compress)
	return s, nil
}
